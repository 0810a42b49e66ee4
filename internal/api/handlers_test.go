package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/fetchdeck/backend/internal/errors"
	"github.com/fetchdeck/backend/internal/health"
	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/metrics"
	"github.com/fetchdeck/backend/internal/notify"
	"github.com/fetchdeck/backend/internal/queue"
	"github.com/fetchdeck/backend/internal/relay"
	"github.com/fetchdeck/backend/internal/store"
	"github.com/fetchdeck/backend/internal/websocket"
)

// stubExecutor leaves every admitted job running until the test pushes a
// terminal message itself.
type stubExecutor struct {
	relay *relay.Relay
}

type stubHandle struct {
	relay *relay.Relay
	jobID string
}

func (s *stubExecutor) Start(j *job.Job) (queue.Handle, error) {
	return &stubHandle{relay: s.relay, jobID: j.ID}, nil
}

func (h *stubHandle) Cancel() {
	h.relay.Publish(relay.Message{JobID: h.jobID, Kind: relay.KindCanceled})
}

func newTestServer(t *testing.T) (*httptest.Server, *stubExecutor) {
	t.Helper()
	r := relay.New()
	exec := &stubExecutor{relay: r}
	ctrl, err := queue.NewController(queue.PolicyConcurrent, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	n := notify.New()
	mgr := queue.NewManager(store.NewMemoryStore(), ctrl, exec, r, n, m)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(m)
	go hub.Run(ctx)

	healthH := health.NewHandler(health.NewChecker(&health.CheckerConfig{Store: store.NewMemoryStore(), YTDLPPath: "/bin/sh"}))
	router := NewRouter(mgr, healthH, websocket.NewHandler(hub), m)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		mgr.Stop(sctx)
		r.Close()
		n.Close()
	})
	return srv, exec
}

func postDownload(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/downloads", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) *job.Job {
	t.Helper()
	defer resp.Body.Close()
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatal(err)
	}
	return &j
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateDownload(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postDownload(t, srv, `{"url":"https://example.com/video","format_spec":"best"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(apperrors.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	j := decodeJob(t, resp)
	if j.URL != "https://example.com/video" || j.FormatSpec != "best" {
		t.Errorf("job = %+v", j)
	}
	if j.ID == "" {
		t.Error("missing job id")
	}
}

func TestCreateDownloadValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"url":`, apperrors.CodeInvalidRequest},
		{"missing url", `{}`, apperrors.CodeValidationError},
		{"bad scheme", `{"url":"ftp://example.com/f"}`, apperrors.CodeValidationError},
		{"no host", `{"url":"https://"}`, apperrors.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postDownload(t, srv, tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var errResp apperrors.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatal(err)
			}
			if errResp.Error.Code != tt.code {
				t.Errorf("code = %s, want %s", errResp.Error.Code, tt.code)
			}
		})
	}
}

func TestCreateDownloadDuplicateConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postDownload(t, srv, `{"url":"https://example.com/video"}`)
	resp.Body.Close()

	resp = postDownload(t, srv, `{"url":"https://example.com/video"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decodeJob(t, postDownload(t, srv, `{"url":"https://example.com/video"}`))

	resp := doRequest(t, "GET", srv.URL+"/api/v1/downloads/"+created.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.ID != created.ID {
		t.Errorf("id = %s", got.ID)
	}

	resp = doRequest(t, "GET", srv.URL+"/api/v1/downloads/ffffffffffffffff")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d", resp.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decodeJob(t, postDownload(t, srv, `{"url":"https://example.com/video"}`))

	resp := doRequest(t, "DELETE", srv.URL+"/api/v1/downloads/"+created.ID)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The stub confirms cancellation immediately.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := doRequest(t, "GET", srv.URL+"/api/v1/downloads/"+created.ID)
		got := decodeJob(t, resp)
		if got.Status == job.StatusCanceled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never canceled, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClearDone(t *testing.T) {
	srv, exec := newTestServer(t)

	created := decodeJob(t, postDownload(t, srv, `{"url":"https://example.com/video"}`))

	// Clearing an in-flight job is rejected.
	resp := doRequest(t, "DELETE", srv.URL+"/api/v1/downloads/done/"+created.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("in-flight clear status = %d", resp.StatusCode)
	}

	exec.relay.Publish(relay.Message{JobID: created.ID, Kind: relay.KindCompleted, Percent: 100, OutputPath: "/downloads/v.mp4"})
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := doRequest(t, "GET", srv.URL+"/api/v1/downloads/"+created.ID)
		if decodeJob(t, resp).Status == job.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = doRequest(t, "DELETE", srv.URL+"/api/v1/downloads/done")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear all status = %d", resp.StatusCode)
	}
	var cleared ClearedResponse
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		t.Fatal(err)
	}
	if len(cleared.Cleared) != 1 || cleared.Cleared[0] != created.ID {
		t.Errorf("cleared = %v", cleared.Cleared)
	}
}

func TestGetQueueSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	decodeJob(t, postDownload(t, srv, `{"url":"https://example.com/1"}`))
	decodeJob(t, postDownload(t, srv, `{"url":"https://example.com/2"}`))

	// Concurrent policy: both jobs go active.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := doRequest(t, "GET", srv.URL+"/api/v1/queue")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var snap queue.Snapshot
		err := json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Active) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot = %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/health")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var hr health.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatal(err)
	}
	if hr.Status != health.StatusHealthy {
		t.Errorf("status = %s", hr.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
