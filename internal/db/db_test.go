package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"verdyct/internal/db"
)

func TestPathDefaultsToWorkspaceDir(t *testing.T) {
	got := db.Path(db.Config{Workspace: "/tmp/proj"})
	want := filepath.Join("/tmp/proj", ".verdyct", "verdyct.db")
	if got != want {
		t.Fatalf("path %q, want %q", got, want)
	}
}

func TestPathHonorsConfiguredFile(t *testing.T) {
	got := db.Path(db.Config{Workspace: "/tmp/proj", File: "state/jobs.db"})
	want := filepath.Join("/tmp/proj", "state", "jobs.db")
	if got != want {
		t.Fatalf("relative file: path %q, want %q", got, want)
	}

	abs := filepath.Join(t.TempDir(), "jobs.db")
	if got := db.Path(db.Config{Workspace: "/tmp/proj", File: abs}); got != abs {
		t.Fatalf("absolute file: path %q, want %q", got, abs)
	}
}

func TestOpenCreatesConfiguredLocation(t *testing.T) {
	cfg := db.Config{Workspace: t.TempDir(), File: "nested/store/jobs.db"}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(db.Path(cfg)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestEnsureWorkspace(t *testing.T) {
	ws := t.TempDir()
	dir, err := db.EnsureWorkspace(ws)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if dir != filepath.Join(ws, ".verdyct") {
		t.Fatalf("workspace dir %q", dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("stat %q: %v", dir, err)
	}
}
