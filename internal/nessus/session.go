package nessus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
)

// Session is an authenticated handle to a Nessus server. It never changes
// after Login and is shared by all launchers.
type Session struct {
	client   *Client
	apiToken string
	cookie   string
}

type launchResponse struct {
	ScanUUID string `json:"scan_uuid"`
}

// Launch makes one attempt to start the scan id.
func (s *Session) Launch(ctx context.Context, id model.ScanID) model.Outcome {
	u := s.client.url("scans", id.String(), "launch")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return model.Fatal(fmt.Errorf("scan %s: %w", id, err))
	}
	s.authorize(req)

	resp, err := s.client.do(ctx, req)
	if err != nil {
		// network errors and timeouts
		return model.Retryable(fmt.Errorf("scan %s: %w", id, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus("launching scan "+id.String(), resp); err != nil {
		return model.Outcome{
			Kind: classify(resp.StatusCode),
			Err:  err,
		}
	}

	var lr launchResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		// the scan is running, the body is informative only
		slog.DebugContext(ctx, "decoding launch response failed", "error", err)
	}
	return model.Success(lr.ScanUUID)
}

// Logout destroys the session on the server.
func (s *Session) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.client.url(sessionPath).String(), nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.do(ctx, req)
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		// already expired
		return nil
	}
	return checkStatus("logging out", resp)
}

func (s *Session) authorize(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Api-Token", s.apiToken)
	req.Header.Set("X-Cookie", s.cookie)
	req.Header.Set("Content-Type", contentType)
}
