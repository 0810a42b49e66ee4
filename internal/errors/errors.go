package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors (4xx)
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeValidationError = "VALIDATION_ERROR"
	CodeDuplicateJob    = "DUPLICATE_JOB"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeJobNotDone      = "JOB_NOT_DONE"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeStoreError    = "STORE_ERROR"
	CodeQueueStopped  = "QUEUE_STOPPED"

	// External / worker errors
	CodeWorkerCrash    = "WORKER_CRASH"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeArchiveError   = "ARCHIVE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

// DuplicateJob indicates an add of a job identifier that is already
// pending or active.
func DuplicateJob(jobID string) *AppError {
	return New(CodeDuplicateJob, "job is already queued or downloading", CategoryClient, http.StatusConflict).
		WithDetails(map[string]any{"job_id": jobID})
}

func JobNotFound(jobID string) *AppError {
	return New(CodeJobNotFound, "job not found", CategoryClient, http.StatusNotFound).
		WithDetails(map[string]any{"job_id": jobID})
}

// JobNotDone indicates a clear of a job that has not reached a terminal
// state. Clear never cancels.
func JobNotDone(jobID string) *AppError {
	return New(CodeJobNotDone, "job is not finished; cancel it first", CategoryClient, http.StatusConflict).
		WithDetails(map[string]any{"job_id": jobID})
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func StoreError(message string) *AppError {
	return New(CodeStoreError, message, CategoryServer, http.StatusInternalServerError)
}

func QueueStopped() *AppError {
	return New(CodeQueueStopped, "queue manager is shutting down", CategoryServer, http.StatusServiceUnavailable)
}

// Worker error constructors

// WorkerCrash indicates a worker process exited without producing a
// structured terminal message.
func WorkerCrash(message string) *AppError {
	return New(CodeWorkerCrash, message, CategoryExternal, http.StatusBadGateway)
}

// DownloadFailed indicates a structured failure reported by the worker;
// the message is opaque to the queue.
func DownloadFailed(message string) *AppError {
	return New(CodeDownloadFailed, message, CategoryExternal, http.StatusBadGateway)
}

func ArchiveError(message string) *AppError {
	return New(CodeArchiveError, message, CategoryExternal, http.StatusBadGateway)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError

	switch e := err.(type) {
	case *AppError:
		appErr = e
	default:
		// Wrap unknown errors as internal errors
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	switch appErr.Code {
	// Failed downloads are terminal and must be resubmitted explicitly.
	case CodeWorkerCrash, CodeDownloadFailed:
		return false
	}

	return appErr.Category == CategoryExternal || appErr.Category == CategoryServer
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsCode returns true if err is an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
