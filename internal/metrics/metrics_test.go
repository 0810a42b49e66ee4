package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler()(rec, req)
	return rec.Body.String()
}

func TestHandlerRendersJobCounters(t *testing.T) {
	m := New()
	m.JobAdded()
	m.JobAdded()
	m.JobCompleted()
	m.SetQueueSizes(1, 1, 0)

	body := scrape(t, m)
	for _, want := range []string{
		"fetchdeck_jobs_added_total 2",
		"fetchdeck_jobs_completed_total 1",
		"fetchdeck_queue_pending 1",
		"fetchdeck_queue_active 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandlerRendersRequestDurations(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/api/v1/queue", 30*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/queue", 200*time.Millisecond)

	body := scrape(t, m)

	if !strings.Contains(body, `fetchdeck_http_requests_total{method="GET",path="/api/v1/queue"} 2`) {
		t.Errorf("request counter missing:\n%s", body)
	}
	for _, want := range []string{
		`fetchdeck_http_request_duration_seconds_bucket{method="GET",path="/api/v1/queue",le="0.05"} 1`,
		`fetchdeck_http_request_duration_seconds_bucket{method="GET",path="/api/v1/queue",le="0.25"} 2`,
		`fetchdeck_http_request_duration_seconds_bucket{method="GET",path="/api/v1/queue",le="+Inf"} 2`,
		`fetchdeck_http_request_duration_seconds_count{method="GET",path="/api/v1/queue"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("duration series missing %q", want)
		}
	}
	if !strings.Contains(body, "fetchdeck_http_request_duration_seconds_sum") {
		t.Error("duration sum missing")
	}
}

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram()
	h.Observe(0.003)
	h.Observe(0.02)
	h.Observe(7)

	if h.count != 3 {
		t.Errorf("count = %d, want 3", h.count)
	}
	// 0.003 falls in every bucket, 0.02 from 25ms up, 7 only in 10s.
	if h.bucketVals[0] != 1 {
		t.Errorf("le=0.005 bucket = %d, want 1", h.bucketVals[0])
	}
	if h.bucketVals[2] != 2 {
		t.Errorf("le=0.025 bucket = %d, want 2", h.bucketVals[2])
	}
	if h.bucketVals[10] != 3 {
		t.Errorf("le=10 bucket = %d, want 3", h.bucketVals[10])
	}
}
