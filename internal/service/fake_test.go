package service_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
)

const (
	testAPIToken = "7D2C1B0A-9F8E-4D3C-2B1A-0F9E8D7C6B5A"
	testSession  = "deadbeef"
)

// fakeNessus accepts any credentials and launches every scan except
// the missing ones.
type fakeNessus struct {
	mx       sync.Mutex
	missing  map[string]bool
	launched []string
	logins   int
	logouts  int
}

func newFakeNessus(t *testing.T, missing ...model.ScanID) (*fakeNessus, *httptest.Server) {
	t.Helper()
	f := &fakeNessus{missing: make(map[string]bool)}
	for _, id := range missing {
		f.missing[id.String()] = true
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nessus6.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `o(e,[{key:"getApiToken",value:function(){return"%s"}}])`, testAPIToken)
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, _ *http.Request) {
		f.mx.Lock()
		f.logins++
		f.mx.Unlock()
		_, _ = fmt.Fprintf(w, `{"token":%q}`, testSession)
	})
	mux.HandleFunc("DELETE /session", func(w http.ResponseWriter, _ *http.Request) {
		f.mx.Lock()
		f.logouts++
		f.mx.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /scans/{id}/launch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Cookie") != "token="+testSession {
			http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
			return
		}
		id := r.PathValue("id")
		f.mx.Lock()
		missing := f.missing[id]
		if !missing {
			f.launched = append(f.launched, id)
		}
		f.mx.Unlock()
		if missing {
			http.Error(w, `{"error":"The requested file was not found."}`, http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprintf(w, `{"scan_uuid":"uuid-%s"}`, id)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNessus) counts() (logins, logouts, launched int) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.logins, f.logouts, len(f.launched)
}

func testNessus(host string) model.Nessus {
	return model.Nessus{
		Host:         host,
		Username:     "admin",
		Password:     "secret",
		Timeout:      "5s",
		LoginTimeout: "2s",
	}
}
