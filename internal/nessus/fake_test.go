package nessus_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/stretchr/testify/require"
)

const (
	testAPIToken = "5B0E3D4A-1F2C-4B5A-9E8D-7C6B5A4F3E2D"
	testSession  = "c0ffee"
	testUser     = "admin"
	testPassword = "secret"
)

const nessus6JS = `!function(e){var t={};` +
	`o(e,[{key:"getApiToken",value:function(){return"` + testAPIToken + `"}},` +
	`{key:"getVersion",value:function(){return"10.6.1"}}])}();`

// fakeNessus emulates the parts of the Nessus REST API used by the launcher.
type fakeNessus struct {
	mx sync.Mutex
	// launch status codes per scan id, the last one repeats
	launches map[model.ScanID][]int
	calls    map[model.ScanID]int
	// status codes returned by POST /session, the last one repeats
	logins     []int
	loginCalls int
	logouts    int
	script     string
}

func newFakeNessus(t *testing.T) (*fakeNessus, *httptest.Server) {
	t.Helper()
	f := &fakeNessus{
		launches: make(map[model.ScanID][]int),
		calls:    make(map[model.ScanID]int),
		script:   nessus6JS,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nessus6.js", f.handleScript)
	mux.HandleFunc("POST /session", f.handleLogin)
	mux.HandleFunc("DELETE /session", f.handleLogout)
	mux.HandleFunc("POST /scans/{id}/launch", f.handleLaunch)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNessus) handleScript(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("v") == "" {
		http.Error(w, "missing v", http.StatusBadRequest)
		return
	}
	f.mx.Lock()
	script := f.script
	f.mx.Unlock()
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = fmt.Fprint(w, script)
}

func (f *fakeNessus) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.mx.Lock()
	call := f.loginCalls
	f.loginCalls++
	status := http.StatusOK
	if len(f.logins) > 0 {
		status = f.logins[min(call, len(f.logins)-1)]
	}
	f.mx.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"error":"login failed"}`, status)
		return
	}
	if r.Header.Get("X-Api-Token") != testAPIToken {
		http.Error(w, `{"error":"API is not available"}`, http.StatusPreconditionFailed)
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Username != testUser || body.Password != testPassword {
		http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"token":%q}`, testSession)
}

func (f *fakeNessus) authorized(r *http.Request) bool {
	return r.Header.Get("X-Api-Token") == testAPIToken &&
		r.Header.Get("X-Cookie") == "token="+testSession
}

func (f *fakeNessus) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
		return
	}
	f.mx.Lock()
	f.logouts++
	f.mx.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeNessus) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
		return
	}
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, `{"error":"The requested file was not found."}`, http.StatusNotFound)
		return
	}
	id := model.ScanID(n)

	f.mx.Lock()
	call := f.calls[id]
	f.calls[id]++
	codes, ok := f.launches[id]
	f.mx.Unlock()

	if !ok {
		http.Error(w, `{"error":"The requested file was not found."}`, http.StatusNotFound)
		return
	}
	status := codes[min(call, len(codes)-1)]
	if status != http.StatusOK {
		http.Error(w, `{"error":"launch failed"}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"scan_uuid":"uuid-%d"}`, id)
}

func (f *fakeNessus) scan(id model.ScanID, codes ...int) *fakeNessus {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(codes) == 0 {
		codes = []int{http.StatusOK}
	}
	f.launches[id] = codes
	return f
}

func (f *fakeNessus) withLogins(codes ...int) *fakeNessus {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.logins = codes
	return f
}

func (f *fakeNessus) withScript(script string) *fakeNessus {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.script = script
	return f
}

func (f *fakeNessus) counts() (logins, logouts int) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.loginCalls, f.logouts
}

func (f *fakeNessus) callsOf(id model.ScanID) int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.calls[id]
}

func config(t *testing.T, host string) model.Nessus {
	t.Helper()
	require.NotEmpty(t, host)
	return model.Nessus{
		Host:         host,
		Username:     testUser,
		Password:     testPassword,
		Timeout:      "5s",
		LoginTimeout: "3s",
	}
}
