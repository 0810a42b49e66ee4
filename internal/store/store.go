package store

import (
	"context"
	"errors"

	"github.com/fetchdeck/backend/internal/job"
)

// ErrNotFound is returned when no record exists for a job identifier.
var ErrNotFound = errors.New("job record not found")

// Store is a durable key-value mapping from job identifier to job record.
// The queue manager is the only writer; writes mirror in-memory mutations
// synchronously. Backends must skip unreadable entries on List rather than
// failing the whole enumeration.
type Store interface {
	Put(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*job.Job, error)
	Ping(ctx context.Context) error
	Close() error
}
