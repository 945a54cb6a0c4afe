package events_test

import (
	"context"
	"testing"
	"time"

	"verdyct/internal/db"
	"verdyct/internal/events"
	"verdyct/internal/migrate"
)

func newTestJournal(t *testing.T) *events.Journal {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &events.Journal{
		DB:  conn,
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestAppendAndLatest(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	if err := j.Append(ctx, events.TypeAnalysisSubmitted, "job-1", events.Payload{"status": "queued"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, events.TypeAnalysisResolved, "job-1", events.Payload{"status": "approved"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := j.Latest(ctx, 10, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// newest first
	if entries[0].Type != events.TypeAnalysisResolved {
		t.Fatalf("order: %+v", entries)
	}
	if entries[0].Payload["status"] != "approved" {
		t.Fatalf("payload: %v", entries[0].Payload)
	}
	if entries[0].TS != "2026-01-02T03:04:05Z" {
		t.Fatalf("ts: %s", entries[0].TS)
	}
}

func TestLatestFilters(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	_ = j.Append(ctx, events.TypeAnalysisResolved, "job-1", nil)
	_ = j.Append(ctx, events.TypeAnalysisResolved, "job-2", nil)
	_ = j.Append(ctx, events.TypeAnalysisDiscarded, "job-1", nil)

	entries, err := j.Latest(ctx, 10, events.TypeAnalysisResolved, "job-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" {
		t.Fatalf("filtered entries: %+v", entries)
	}

	entries, err = j.Latest(ctx, 1, "", "")
	if err != nil || len(entries) != 1 {
		t.Fatalf("limit: %d entries, %v", len(entries), err)
	}
}

func TestSeen(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	ok, err := j.Seen(ctx, events.TypeNotificationDismissed, "job-1")
	if err != nil || ok {
		t.Fatalf("seen before append: %v, %v", ok, err)
	}
	if err := j.Append(ctx, events.TypeNotificationDismissed, "job-1", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	ok, err = j.Seen(ctx, events.TypeNotificationDismissed, "job-1")
	if err != nil || !ok {
		t.Fatalf("seen after append: %v, %v", ok, err)
	}
	ok, err = j.Seen(ctx, events.TypeNotificationActivated, "job-1")
	if err != nil || ok {
		t.Fatalf("wrong type reported seen")
	}
}
