package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/fetchdeck/backend/internal/errors"
	"github.com/fetchdeck/backend/internal/queue"
)

// Handlers serves the download queue API.
type Handlers struct {
	manager *queue.Manager
}

func NewHandlers(manager *queue.Manager) *Handlers {
	return &Handlers{manager: manager}
}

// CreateDownloadRequest represents the request body for enqueuing a
// download
type CreateDownloadRequest struct {
	URL        string `json:"url"`
	FormatSpec string `json:"format_spec,omitempty"`
}

// ClearedResponse lists the job records removed by a clear
type ClearedResponse struct {
	Cleared []string `json:"cleared"`
}

// CreateDownload handles POST /api/v1/downloads
func (h *Handlers) CreateDownload(w http.ResponseWriter, r *http.Request) error {
	var req CreateDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if err := validateURL(req.URL); err != nil {
		return err
	}

	j, err := h.manager.Add(r.Context(), req.URL, req.FormatSpec)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, j)
	return nil
}

// GetJob handles GET /api/v1/downloads/{job_id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) error {
	j, err := h.manager.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, j)
	return nil
}

// CancelJob handles DELETE /api/v1/downloads/{job_id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) error {
	j, err := h.manager.Cancel(r.Context(), r.PathValue("job_id"))
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusAccepted, j)
	return nil
}

// ClearDone handles DELETE /api/v1/downloads/done and
// DELETE /api/v1/downloads/done/{job_id}
func (h *Handlers) ClearDone(w http.ResponseWriter, r *http.Request) error {
	var (
		ids []string
		err error
	)
	if jobID := r.PathValue("job_id"); jobID != "" {
		ids, err = h.manager.Clear(r.Context(), jobID)
	} else {
		ids, err = h.manager.ClearAll(r.Context())
	}
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, ClearedResponse{Cleared: ids})
	return nil
}

// GetQueue handles GET /api/v1/queue
func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) error {
	snap, err := h.manager.Snapshot(r.Context())
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, snap)
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return apperrors.ValidationError("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.ValidationError("url is not valid")
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return apperrors.ValidationError("url must use http or https")
	}
	if u.Host == "" {
		return apperrors.ValidationError("url has no host")
	}
	return nil
}
