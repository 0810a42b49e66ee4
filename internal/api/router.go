package api

import (
	"net/http"

	apperrors "github.com/fetchdeck/backend/internal/errors"
	"github.com/fetchdeck/backend/internal/health"
	"github.com/fetchdeck/backend/internal/logger"
	"github.com/fetchdeck/backend/internal/metrics"
	"github.com/fetchdeck/backend/internal/middleware"
	"github.com/fetchdeck/backend/internal/queue"
	"github.com/fetchdeck/backend/internal/websocket"
)

type Router struct {
	mux       *http.ServeMux
	chain     http.Handler
	handlers  *Handlers
	healthH   *health.Handler
	wsHandler *websocket.Handler
	metrics   *metrics.Metrics
}

func NewRouter(manager *queue.Manager, healthH *health.Handler, wsHandler *websocket.Handler, m *metrics.Metrics) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		handlers:  NewHandlers(manager),
		healthH:   healthH,
		wsHandler: wsHandler,
		metrics:   m,
	}
	r.setupRoutes()

	log := logger.Default().WithComponent("http")
	r.chain = middleware.Chain(r.mux,
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(log),
		middleware.Logging(log),
		middleware.CORS([]string{"*"}),
		m.Middleware,
		middleware.Gzip,
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// The wrapped response writers in the middleware chain do not
	// support hijacking, which the WebSocket upgrade requires.
	if req.URL.Path == "/ws" {
		r.mux.ServeHTTP(w, req)
		return
	}
	r.chain.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and metrics
	r.mux.HandleFunc("GET /health", r.healthH.HealthHandler)
	r.mux.HandleFunc("GET /health/deep", r.healthH.ReadinessHandler)
	r.mux.HandleFunc("GET /metrics", r.metrics.Handler())

	// Queue routes
	r.mux.HandleFunc("POST /api/v1/downloads", apperrors.HandleFunc(r.handlers.CreateDownload))
	r.mux.HandleFunc("GET /api/v1/downloads/{job_id}", apperrors.HandleFunc(r.handlers.GetJob))
	r.mux.HandleFunc("DELETE /api/v1/downloads/done", apperrors.HandleFunc(r.handlers.ClearDone))
	r.mux.HandleFunc("DELETE /api/v1/downloads/done/{job_id}", apperrors.HandleFunc(r.handlers.ClearDone))
	r.mux.HandleFunc("DELETE /api/v1/downloads/{job_id}", apperrors.HandleFunc(r.handlers.CancelJob))
	r.mux.HandleFunc("GET /api/v1/queue", apperrors.HandleFunc(r.handlers.GetQueue))

	// Live updates
	r.mux.HandleFunc("GET /ws", r.wsHandler.ServeWS)
}
