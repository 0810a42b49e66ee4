package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
)

// PostgresStore persists job records in a single jobs table with a JSONB
// value column. It implements the same Store contract as the Redis
// backend for deployments that already run Postgres.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore opens a connection, verifies it, and creates the jobs
// table if it does not exist.
func NewPostgresStore(host, port, user, password, dbname string) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{
		db:  db,
		log: logger.Default().WithComponent("store.postgres"),
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR(64) PRIMARY KEY,
		record JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, record, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET record = $2, updated_at = NOW()`,
		j.ID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to write job %s: %w", j.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*job.Job, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &j, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate job records: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			s.log.Warn(ctx, "skipping unreadable job record", map[string]any{"id": id, "reason": err.Error()})
			continue
		}

		var j job.Job
		if err := json.Unmarshal(data, &j); err != nil {
			s.log.Warn(ctx, "skipping corrupt job record", map[string]any{"id": id, "reason": err.Error()})
			continue
		}
		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate job records: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
