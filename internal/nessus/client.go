// Package nessus talks to the REST API of a Nessus scanner. A Client logs in
// and returns a Session, which launches scans and classifies every response
// as a success, a retryable failure or a fatal failure.
package nessus

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	userAgent   = "Mozilla/5.0"
	contentType = "application/json"

	apiTokenPath = "nessus6.js"
	sessionPath  = "session"

	// maxErrorBody limits how much of an error response ends up in errors
	maxErrorBody = 512
)

var (
	ErrAPITokenNotFound = errors.New("getApiToken not found in nessus6.js")
	ErrAPITokenFormat   = errors.New("unexpected format of the X-API token")
	ErrNoSessionToken   = errors.New("missing token field in session response")
)

// StatusError is a non successful HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: status %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client is the unauthenticated entry point to a Nessus server.
type Client struct {
	baseURL      *url.URL
	client       *http.Client
	limiter      *rate.Limiter
	username     string
	password     string
	loginTimeout time.Duration
	now          func() time.Time
}

// New validates cfg and returns a Client. Host must be defined with a
// scheme and without a path, e.g. https://nessus.example.com:8834.
func New(cfg model.Nessus) (*Client, error) {
	if cfg.Host == "" {
		return nil, model.ErrNoHost
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, model.ErrMissingCredentials
	}
	parsedURL, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parsing nessus host: %w", err)
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the nessus host with a scheme and without path, e.g. `https://nessus.example.com:8834`")
	}

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	loginTimeout, err := cfg.LoginTimeoutDuration()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: parsedURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:      limiter,
		username:     cfg.Username,
		password:     cfg.Password,
		loginTimeout: loginTimeout,
		now:          time.Now,
	}, nil
}

// Login obtains the X-API token and a session token. Transient failures are
// retried with an exponential backoff for at most the login timeout,
// rejected credentials are not.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	var apiToken, token string

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = c.loginTimeout

	operation := func() error {
		var err error
		apiToken, err = c.apiToken(ctx)
		if err != nil {
			slog.WarnContext(ctx, "fetching X-API token failed", "error", err)
			return permanentIf(err)
		}
		token, err = c.session(ctx, apiToken)
		if err != nil {
			slog.WarnContext(ctx, "nessus login failed", "error", err)
			return permanentIf(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("logging in to %s: %w", c.baseURL, err)
	}
	slog.DebugContext(ctx, "logged in to nessus", "host", c.baseURL.String(), "username", c.username)

	return &Session{
		client:   c,
		apiToken: apiToken,
		cookie:   "token=" + token,
	}, nil
}

// apiToken scrapes the X-API token out of the web UI script
func (c *Client) apiToken(ctx context.Context) (string, error) {
	u := c.url(apiTokenPath)
	q := u.Query()
	q.Set("v", strconv.FormatInt(c.now().Unix(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus("fetching "+apiTokenPath, resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", apiTokenPath, err)
	}
	return parseAPIToken(string(body))
}

// parseAPIToken finds a fragment like
//
//	key:"getApiToken",value:function(){return"5B0E3D4A-..."}
//
// and returns the quoted value after the key.
func parseAPIToken(body string) (string, error) {
	for _, part := range strings.Split(body, `:"`) {
		if !strings.Contains(part, "getApiToken") {
			continue
		}
		fields := strings.Split(part, `"`)
		if len(fields) < 3 || fields[2] == "" {
			return "", ErrAPITokenFormat
		}
		return fields[2], nil
	}
	return "", ErrAPITokenNotFound
}

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

func (c *Client) session(ctx context.Context, apiToken string) (string, error) {
	raw, err := json.Marshal(sessionRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(sessionPath).String(), bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Api-Token", apiToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus("creating session", resp); err != nil {
		return "", err
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if sr.Token == "" {
		return "", ErrNoSessionToken
	}
	return sr.Token, nil
}

func (c *Client) url(elem ...string) *url.URL {
	return c.baseURL.JoinPath(elem...)
}

// do waits for the rate limiter and sends the request
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	return c.client.Do(req)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// permanentIf stops the login retries for errors which can't get better
func permanentIf(err error) error {
	var se *StatusError
	if errors.As(err, &se) && classify(se.StatusCode) == model.OutcomeFatal {
		return backoff.Permanent(err)
	}
	if errors.Is(err, ErrAPITokenNotFound) || errors.Is(err, ErrAPITokenFormat) || errors.Is(err, ErrNoSessionToken) {
		return backoff.Permanent(err)
	}
	return err
}

// classify maps a response status to an attempt outcome kind
func classify(status int) model.OutcomeKind {
	switch {
	case status >= 200 && status < 300:
		return model.OutcomeSuccess
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return model.OutcomeRetryable
	default:
		return model.OutcomeFatal
	}
}
