package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/fetchdeck/backend/internal/store"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker performs health checks on the job store, the download tool,
// and the optional archive target.
type Checker struct {
	store        store.Store
	ytdlpPath    string
	archiveCheck func(ctx context.Context) error
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	Store        store.Store
	YTDLPPath    string
	ArchiveCheck func(ctx context.Context) error
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ytdlp := cfg.YTDLPPath
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	return &Checker{
		store:        cfg.Store,
		ytdlpPath:    ytdlp,
		archiveCheck: cfg.ArchiveCheck,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

// CheckStore checks job store connectivity
func (c *Checker) CheckStore(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.store == nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: "store not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "store ping failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckDownloader checks that the download tool is installed. A missing
// binary degrades rather than kills the service: the queue still accepts
// and reports jobs, they just fail at admission.
func (c *Checker) CheckDownloader(ctx context.Context) ComponentHealth {
	start := time.Now()

	if _, err := exec.LookPath(c.ytdlpPath); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "download tool not found: " + c.ytdlpPath,
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// CheckArchive checks object storage connectivity
func (c *Checker) CheckArchive(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.archiveCheck == nil {
		return ComponentHealth{
			Status:  StatusHealthy,
			Message: "archiving disabled",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.archiveCheck(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "archive check failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	// Run checks in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	checks := map[string]func(context.Context) ComponentHealth{
		"store":      c.CheckStore,
		"downloader": c.CheckDownloader,
		"archive":    c.CheckArchive,
	}

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			response.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	// Determine overall status
	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status != StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles readiness probe requests
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		// Degraded still accepts traffic
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// HealthHandler handles basic health check requests (legacy /health endpoint)
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	// Check if deep check is requested via query param
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}
