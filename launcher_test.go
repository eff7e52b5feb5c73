package nessuslauncher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"

	"github.com/stretchr/testify/require"
)

var (
	launcherPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("nessus-launcher-ci") {
		slog.Warn("cannot locate nessus-launcher-ci binary: run go build -race -cover -covermode=atomic -o nessus-launcher-ci ./cmd/nessus-launcher/ first")
		os.Exit(0)
	}

	var err error
	launcherPath, err = filepath.Abs("nessus-launcher-ci")
	if err != nil {
		slog.Error("can't get abspath for nessus-launcher-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for nessus-launcher-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for nessus-launcher-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestLaunch(t *testing.T) {
	srv, launches := nessusServer(t)
	dir := tmpDir(t)

	const config = `
version: 0
launch:
    concurrency: 2
    retry:
        base_delay: 10ms
        max_delay: 50ms
service:
    mode: "manual"
    format: "json"
`
	configPath := creat(t, dir, "nessus-launcher.yaml", []byte(config))
	creat(t, dir, ".env", []byte("NESSUS_HOST="+srv.URL+"\nNESSUS_USERNAME=admin\nNESSUS_PASSWORD=secret\n"))

	stdout, stderr, err := run(t, dir, "launch", "--config", configPath, "5", "17", "--scan", "23")
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	creat(t, dir, t.Name()+".json", stdout.Bytes())

	var report model.LaunchReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.Equal(t, model.Summary{Total: 3, Launched: 3}, report.Summary)
	ids := make([]model.ScanID, len(report.Results))
	for i, r := range report.Results {
		ids[i] = r.ScanID
	}
	require.Equal(t, []model.ScanID{5, 17, 23}, ids)
	require.Equal(t, int32(3), launches.Load())
}

func TestLaunch_ScansFailed(t *testing.T) {
	srv, _ := nessusServer(t)
	dir := tmpDir(t)

	const config = `
version: 0
launch:
    scans: [5, 404]
    retry:
        max_retries: 1
        base_delay: 10ms
service:
    mode: "manual"
`
	configPath := creat(t, dir, "nessus-launcher.yaml", []byte(config))

	stdout, stderr, err := run(t, dir, "run", "--config", configPath,
		"NESSUS_HOST="+srv.URL, "NESSUS_USERNAME=admin", "NESSUS_PASSWORD=secret")
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error %v: %s", err, stderr.String())
	require.Equal(t, 2, exitErr.ExitCode())
	require.Contains(t, stdout.String(), "failed_fatal")
	require.Contains(t, stdout.String(), "1 launched, 1 failed, 2 total")
}

func TestLaunch_InvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	configPath := creat(t, dir, "nessus-launcher.yaml", []byte("version: 0\nlaunch:\n    concurrency: 0\nservice:\n    mode: manual\n"))

	_, stderr, err := run(t, dir, "launch", "--config", configPath, "5")
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 1, exitErr.ExitCode())
	require.Contains(t, stderr.String(), "launch.concurrency")
}

func TestRun_TimerStopsOnInterrupt(t *testing.T) {
	srv, launches := nessusServer(t)
	dir := tmpDir(t)

	const config = `
version: 0
launch:
    scans: [5, 17]
service:
    mode: "timer"
    schedule:
        every: 1h
`
	configPath := creat(t, dir, "nessus-launcher.yaml", []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, launcherPath, "run", "--config", configPath)
	cmd.Dir = dir
	cmd.Env = []string{
		"HOME=" + dir,
		"XDG_CONFIG_HOME=" + dir,
		"GOCOVERDIR=" + os.Getenv("GOCOVERDIR"),
		"NESSUS_HOST=" + srv.URL,
		"NESSUS_USERNAME=admin",
		"NESSUS_PASSWORD=secret",
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())

	// the first run starts immediately, the next one in an hour
	require.Eventually(t, func() bool {
		return launches.Load() == 2
	}, 30*time.Second, 50*time.Millisecond)

	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	err := cmd.Wait()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
}

// run executes the binary in dir, args of the form KEY=VALUE are passed as
// environment variables
func run(t *testing.T, dir string, args ...string) (stdout, stderr bytes.Buffer, err error) {
	t.Helper()
	env := []string{
		"HOME=" + dir,
		"XDG_CONFIG_HOME=" + dir,
		"GOCOVERDIR=" + os.Getenv("GOCOVERDIR"),
	}
	var cmdArgs []string
	for _, arg := range args {
		if k, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(k, "NESSUS_") {
			env = append(env, arg)
			continue
		}
		cmdArgs = append(cmdArgs, arg)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	cmd := exec.CommandContext(ctx, launcherPath, cmdArgs...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return stdout, stderr, err
}

// nessusServer fakes the Nessus API: scan 404 does not exist, every other
// scan is launched
func nessusServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	const (
		apiToken = "0A1B2C3D-4E5F-6A7B-8C9D-0E1F2A3B4C5D"
		session  = "e2e"
	)
	var launches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nessus6.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{key:"getApiToken",value:function(){return"%s"}}`, apiToken)
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != "admin" || body.Password != "secret" {
			http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
			return
		}
		_, _ = fmt.Fprintf(w, `{"token":%q}`, session)
	})
	mux.HandleFunc("DELETE /session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /scans/{id}/launch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Token") != apiToken || r.Header.Get("X-Cookie") != "token="+session {
			http.Error(w, `{"error":"Invalid Credentials"}`, http.StatusUnauthorized)
			return
		}
		if r.PathValue("id") == "404" {
			http.Error(w, `{"error":"The requested file was not found."}`, http.StatusNotFound)
			return
		}
		launches.Add(1)
		_, _ = fmt.Fprintf(w, `{"scan_uuid":"uuid-%s"}`, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &launches
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
	return path
}
