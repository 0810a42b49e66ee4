package job

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status constants representing the job lifecycle
const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused" // reserved, no transition produces it yet
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCanceled  Status = "canceled"
)

// Status is the lifecycle state of a download job.
type Status string

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions can leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCanceled
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCanceled
	case StatusActive:
		return next == StatusCompleted || next == StatusError || next == StatusCanceled
	case StatusPaused:
		return next == StatusActive || next == StatusCanceled
	}
	return false
}

// Job represents one requested download and its live state.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	FormatSpec string     `json:"format_spec"`
	Title      string     `json:"title,omitempty"`
	Status     Status     `json:"status"`
	Progress   float64    `json:"progress"`
	Speed      string     `json:"speed,omitempty"`
	ETASeconds int        `json:"eta_seconds"`
	Error      string     `json:"error,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
	ArchiveKey string     `json:"archive_key,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ComputeID derives the stable job identifier from the source URL and the
// selected format spec. The same URL requested with a different format is
// a different job.
func ComputeID(url, formatSpec string) string {
	sum := sha256.Sum256([]byte(url + "\x00" + formatSpec))
	return hex.EncodeToString(sum[:8])
}

// New creates a pending job for the given URL and format spec.
func New(url, formatSpec string) *Job {
	return &Job{
		ID:         ComputeID(url, formatSpec),
		URL:        url,
		FormatSpec: formatSpec,
		Status:     StatusPending,
		ETASeconds: -1,
		QueuedAt:   time.Now().UTC(),
	}
}

// IsTerminal returns true if the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy of the job. The queue manager hands copies to
// observers and API callers so they can never mutate owned state.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
