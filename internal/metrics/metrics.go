package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics for the download queue.
type Metrics struct {
	mu sync.RWMutex

	// Job lifecycle counters
	jobsAdded     uint64
	jobsCompleted uint64
	jobsFailed    uint64
	jobsCanceled  uint64
	jobsCleared   uint64

	// Queue gauges, updated by the manager loop
	pendingJobs int64
	activeJobs  int64
	doneJobs    int64

	// Transport gauges
	wsClients int64

	// Request metrics
	requestCount    map[string]*uint64
	requestDuration map[string]*Histogram

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		startTime:       time.Now(),
	}
}

// Job lifecycle

func (m *Metrics) JobAdded()     { atomic.AddUint64(&m.jobsAdded, 1) }
func (m *Metrics) JobCompleted() { atomic.AddUint64(&m.jobsCompleted, 1) }
func (m *Metrics) JobFailed()    { atomic.AddUint64(&m.jobsFailed, 1) }
func (m *Metrics) JobCanceled()  { atomic.AddUint64(&m.jobsCanceled, 1) }

func (m *Metrics) JobsCleared(n int) { atomic.AddUint64(&m.jobsCleared, uint64(n)) }

// SetQueueSizes records the current pending/active/done collection sizes.
func (m *Metrics) SetQueueSizes(pending, active, done int) {
	atomic.StoreInt64(&m.pendingJobs, int64(pending))
	atomic.StoreInt64(&m.activeJobs, int64(active))
	atomic.StoreInt64(&m.doneJobs, int64(done))
}

// ActiveJobs returns the active gauge, for tests and health reporting.
func (m *Metrics) ActiveJobs() int64 {
	return atomic.LoadInt64(&m.activeJobs)
}

// WebSocket clients

func (m *Metrics) WSClientConnected()    { atomic.AddInt64(&m.wsClients, 1) }
func (m *Metrics) WSClientDisconnected() { atomic.AddInt64(&m.wsClients, -1) }

// RecordRequest records an HTTP request's duration
func (m *Metrics) RecordRequest(method, path string, duration time.Duration) {
	key := method + " " + path

	m.mu.Lock()
	counter, ok := m.requestCount[key]
	if !ok {
		counter = new(uint64)
		m.requestCount[key] = counter
	}
	hist, ok := m.requestDuration[key]
	if !ok {
		hist = NewHistogram()
		m.requestDuration[key] = hist
	}
	m.mu.Unlock()

	atomic.AddUint64(counter, 1)
	hist.Observe(duration.Seconds())
}

// Handler exposes metrics in Prometheus text format
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		var b strings.Builder

		writeCounter := func(name, help string, v uint64) {
			fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}
		writeGauge := func(name, help string, v int64) {
			fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
		}

		writeCounter("fetchdeck_jobs_added_total", "Jobs accepted into the queue", atomic.LoadUint64(&m.jobsAdded))
		writeCounter("fetchdeck_jobs_completed_total", "Jobs that finished successfully", atomic.LoadUint64(&m.jobsCompleted))
		writeCounter("fetchdeck_jobs_failed_total", "Jobs that ended in error", atomic.LoadUint64(&m.jobsFailed))
		writeCounter("fetchdeck_jobs_canceled_total", "Jobs canceled by request", atomic.LoadUint64(&m.jobsCanceled))
		writeCounter("fetchdeck_jobs_cleared_total", "Finished job records cleared", atomic.LoadUint64(&m.jobsCleared))

		writeGauge("fetchdeck_queue_pending", "Jobs waiting for admission", atomic.LoadInt64(&m.pendingJobs))
		writeGauge("fetchdeck_queue_active", "Jobs currently downloading", atomic.LoadInt64(&m.activeJobs))
		writeGauge("fetchdeck_queue_done", "Finished job records retained", atomic.LoadInt64(&m.doneJobs))
		writeGauge("fetchdeck_ws_clients", "Connected websocket clients", atomic.LoadInt64(&m.wsClients))

		fmt.Fprintf(&b, "# HELP fetchdeck_uptime_seconds Process uptime\n# TYPE fetchdeck_uptime_seconds gauge\nfetchdeck_uptime_seconds %d\n",
			int64(time.Since(m.startTime).Seconds()))

		m.mu.RLock()
		keys := make([]string, 0, len(m.requestCount))
		for k := range m.requestCount {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			b.WriteString("# HELP fetchdeck_http_requests_total Total HTTP requests\n")
			b.WriteString("# TYPE fetchdeck_http_requests_total counter\n")
			for _, k := range keys {
				parts := strings.SplitN(k, " ", 2)
				fmt.Fprintf(&b, "fetchdeck_http_requests_total{method=%q,path=%q} %d\n",
					parts[0], parts[1], atomic.LoadUint64(m.requestCount[k]))
			}
			b.WriteString("# HELP fetchdeck_http_request_duration_seconds HTTP request latency\n")
			b.WriteString("# TYPE fetchdeck_http_request_duration_seconds histogram\n")
			for _, k := range keys {
				parts := strings.SplitN(k, " ", 2)
				h := m.requestDuration[k]
				h.mu.Lock()
				for i, bucket := range h.buckets {
					fmt.Fprintf(&b, "fetchdeck_http_request_duration_seconds_bucket{method=%q,path=%q,le=\"%g\"} %d\n",
						parts[0], parts[1], bucket, h.bucketVals[i])
				}
				fmt.Fprintf(&b, "fetchdeck_http_request_duration_seconds_bucket{method=%q,path=%q,le=\"+Inf\"} %d\n",
					parts[0], parts[1], h.count)
				fmt.Fprintf(&b, "fetchdeck_http_request_duration_seconds_sum{method=%q,path=%q} %f\n",
					parts[0], parts[1], h.sum)
				fmt.Fprintf(&b, "fetchdeck_http_request_duration_seconds_count{method=%q,path=%q} %d\n",
					parts[0], parts[1], h.count)
				h.mu.Unlock()
			}
		}
		m.mu.RUnlock()

		w.Write([]byte(b.String()))
	}
}

// Middleware records request counts and durations
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.RecordRequest(r.Method, r.URL.Path, time.Since(start))
	})
}
