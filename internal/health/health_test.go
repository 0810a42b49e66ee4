package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/fetchdeck/backend/internal/store"
)

func TestCheckBasic(t *testing.T) {
	c := NewChecker(&CheckerConfig{Version: "1.2.3"})
	resp := c.Check(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("status = %s", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %s", resp.Version)
	}
	if resp.Timestamp == "" {
		t.Error("missing timestamp")
	}
}

func TestCheckStore(t *testing.T) {
	c := NewChecker(&CheckerConfig{Store: store.NewMemoryStore()})
	got := c.CheckStore(context.Background())
	if got.Status != StatusHealthy {
		t.Errorf("status = %s (%s)", got.Status, got.Message)
	}

	c = NewChecker(&CheckerConfig{})
	got = c.CheckStore(context.Background())
	if got.Status != StatusUnhealthy {
		t.Errorf("nil store status = %s", got.Status)
	}
}

func TestCheckDownloaderMissingBinaryDegrades(t *testing.T) {
	c := NewChecker(&CheckerConfig{YTDLPPath: "/nonexistent/yt-dlp"})
	got := c.CheckDownloader(context.Background())
	if got.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", got.Status)
	}
}

func TestCheckArchive(t *testing.T) {
	c := NewChecker(&CheckerConfig{})
	if got := c.CheckArchive(context.Background()); got.Status != StatusHealthy {
		t.Errorf("disabled archive status = %s", got.Status)
	}

	c = NewChecker(&CheckerConfig{
		ArchiveCheck: func(ctx context.Context) error { return errors.New("bucket gone") },
	})
	if got := c.CheckArchive(context.Background()); got.Status != StatusDegraded {
		t.Errorf("failing archive status = %s", got.Status)
	}
}

func TestDeepCheckAggregates(t *testing.T) {
	c := NewChecker(&CheckerConfig{
		Store:     store.NewMemoryStore(),
		YTDLPPath: "/nonexistent/yt-dlp",
	})
	resp := c.DeepCheck(context.Background())
	if resp.Status != StatusDegraded {
		t.Errorf("overall = %s, want degraded", resp.Status)
	}
	if len(resp.Components) != 3 {
		t.Errorf("components = %d, want 3", len(resp.Components))
	}
	if resp.Components["store"].Status != StatusHealthy {
		t.Errorf("store = %+v", resp.Components["store"])
	}
}

func TestDeepCheckUnhealthyStoreWins(t *testing.T) {
	c := NewChecker(&CheckerConfig{})
	resp := c.DeepCheck(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("overall = %s, want unhealthy", resp.Status)
	}
}

func TestReadinessHandlerStatusCodes(t *testing.T) {
	h := NewHandler(NewChecker(&CheckerConfig{}))

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest("GET", "/health/deep", nil))
	if rec.Code != 503 {
		t.Errorf("unhealthy readiness code = %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusUnhealthy {
		t.Errorf("body status = %s", resp.Status)
	}

	h = NewHandler(NewChecker(&CheckerConfig{Store: store.NewMemoryStore(), YTDLPPath: "/bin/sh"}))
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest("GET", "/health/deep", nil))
	if rec.Code != 200 {
		t.Errorf("healthy readiness code = %d", rec.Code)
	}
}

func TestHealthHandlerDeepParam(t *testing.T) {
	h := NewHandler(NewChecker(&CheckerConfig{}))

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("liveness code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest("GET", "/health?deep=true", nil))
	if rec.Code != 503 {
		t.Errorf("deep code = %d", rec.Code)
	}
}
