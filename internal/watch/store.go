package watch

import (
	"context"
	"database/sql"
	"time"
)

// Store is the durable active-job pointer: the single analysis job this
// workspace is watching for completion. At most one value exists at a time;
// Set overwrites unconditionally, so starting a new analysis always
// supersedes tracking of a previous one.
//
// The store is single-writer by assumption. Two processes sharing a
// workspace race on it and resolve last-write-wins; there is no merge.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Set points the store at jobID, replacing any prior value.
func (s Store) Set(ctx context.Context, jobID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO active_job(id,job_id,updated_at) VALUES (1,?,?)
		 ON CONFLICT(id) DO UPDATE SET job_id=excluded.job_id, updated_at=excluded.updated_at`,
		jobID, s.now().UTC().Format(time.RFC3339))
	return err
}

// Get returns the watched job id, or "" when nothing is watched.
func (s Store) Get(ctx context.Context) (string, error) {
	var jobID string
	err := s.DB.QueryRowContext(ctx, `SELECT job_id FROM active_job WHERE id=1`).Scan(&jobID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Clear empties the pointer. Clearing an already-empty store is a no-op.
func (s Store) Clear(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM active_job WHERE id=1`)
	return err
}
