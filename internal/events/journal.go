package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types recorded by the client.
const (
	TypeAnalysisSubmitted     = "analysis.submitted"
	TypeAnalysisResolved      = "analysis.resolved"
	TypeAnalysisDiscarded     = "analysis.discarded"
	TypeNotificationActivated = "notification.activated"
	TypeNotificationDismissed = "notification.dismissed"
	TypeStepCompleted         = "timeline.step_completed"
)

// Journal is the append-only activity log stored in the workspace database.
type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Entry is one journal row.
type Entry struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	JobID   string         `json:"job_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

func (j Journal) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Append records an event. Journal writes are advisory: callers decide
// whether a failure aborts the surrounding operation.
func (j Journal) Append(ctx context.Context, evtType, jobID string, payload Payload) error {
	ts := j.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = j.DB.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,payload_json) VALUES (?,?,?,?)`,
		ts, evtType, nullable(jobID), string(data))
	return err
}

// Latest returns up to n most recent entries, newest first, optionally
// filtered by type and job id.
func (j Journal) Latest(ctx context.Context, n int, evtType, jobID string) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	var (
		conds []string
		args  []any
	)
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if jobID != "" {
		conds = append(conds, "job_id=?")
		args = append(args, jobID)
	}
	q := `SELECT id,ts,type,COALESCE(job_id,'') AS job_id,payload_json FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)

	rows, err := j.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		var raw string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.JobID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Seen reports whether an event of the given type was ever recorded for the
// job. The notification center uses it to avoid resurrecting an acknowledged
// resolution after a restart.
func (j Journal) Seen(ctx context.Context, evtType, jobID string) (bool, error) {
	var n int
	err := j.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE type=? AND job_id=?`, evtType, jobID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
