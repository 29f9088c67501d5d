package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/run"
	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// fakeRunner records the options it was started with; finish must be
// called by the test to release the run.
type fakeRunner struct {
	started chan run.StartOptions
	release chan struct{}
	runs    *run.Manager
}

func (f *fakeRunner) Execute(ctx context.Context, opts run.StartOptions) error {
	f.started <- opts
	<-f.release
	return f.runs.Finish(models.StatusCompleted, "done")
}

type testServer struct {
	srv    *httptest.Server
	runs   *run.Manager
	runner *fakeRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runs := run.NewManager(run.NewStore(db), logger)
	runner := &fakeRunner{
		started: make(chan run.StartOptions, 1),
		release: make(chan struct{}),
		runs:    runs,
	}

	cfg := config.ServerConfig{ListenAddr: ":0", StatusRateLimitPerMinute: 1000}
	s := New(cfg, runs, runner, context.Background(), logger)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, runs: runs, runner: runner}
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestStartAcceptsAndConflicts(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/api/generation/start", `{"max_locations": 5, "skip_plans": true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first start status = %d, want 202", resp.StatusCode)
	}
	if body["accepted"] != true || body["run_id"] == nil {
		t.Errorf("unexpected start response: %v", body)
	}

	opts := <-ts.runner.started
	if opts.MaxLocations == nil || *opts.MaxLocations != 5 || !opts.SkipPlans {
		t.Errorf("options not passed through: %+v", opts)
	}

	resp2, body2 := ts.post(t, "/api/generation/start", `{}`)
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp2.StatusCode)
	}
	if body2["accepted"] != false || body2["reason"] == nil {
		t.Errorf("conflict response missing reason: %v", body2)
	}

	close(ts.runner.release)
}

func TestStartRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/api/generation/start", `{"max_locations": "five"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["accepted"] != false {
		t.Errorf("unexpected response: %v", body)
	}
}

func TestStartEmptyBodyUsesDefaults(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/generation/start", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	opts := <-ts.runner.started
	if opts.MaxLocations != nil || opts.SkipLocations {
		t.Errorf("expected zero-value options, got %+v", opts)
	}
	close(ts.runner.release)
}

func TestStatusSnapshot(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/generation/status")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "idle" {
		t.Errorf("fresh record status = %v, want idle", body["status"])
	}
}

func TestCancelNoopWhenIdle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/api/generation/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["accepted"] != false {
		t.Errorf("cancel while idle must not be accepted: %v", body)
	}
}

func TestCancelDuringRun(t *testing.T) {
	ts := newTestServer(t)

	ts.post(t, "/api/generation/start", "")
	<-ts.runner.started

	resp, body := ts.post(t, "/api/generation/cancel", "")
	if resp.StatusCode != http.StatusOK || body["accepted"] != true {
		t.Errorf("cancel during run: status %d body %v", resp.StatusCode, body)
	}
	if !ts.runs.Cancelled() {
		t.Error("cancellation flag not set")
	}

	close(ts.runner.release)
}

func TestForceResetAlwaysSucceeds(t *testing.T) {
	ts := newTestServer(t)

	ts.post(t, "/api/generation/start", "")
	<-ts.runner.started

	resp, body := ts.post(t, "/api/generation/reset", "")
	if resp.StatusCode != http.StatusOK || body["accepted"] != true {
		t.Fatalf("reset: status %d body %v", resp.StatusCode, body)
	}

	statusResp, err := http.Get(ts.srv.URL + "/api/generation/status")
	if err != nil {
		t.Fatal(err)
	}
	statusBody := decodeBody(t, statusResp)
	if statusBody["status"] != "idle" {
		t.Errorf("status after reset = %v, want idle", statusBody["status"])
	}

	close(ts.runner.release)
}

func TestStatusRateLimited(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runs := run.NewManager(run.NewStore(db), logger)
	cfg := config.ServerConfig{StatusRateLimitPerMinute: 3}
	s := New(cfg, runs, nil, context.Background(), logger)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	var last int
	for i := 0; i < 4; i++ {
		resp, err := http.Get(srv.URL + "/api/generation/status")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("4th status call returned %d, want 429", last)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}
}
