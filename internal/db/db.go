// Package db opens the per-workspace SQLite store kept under .verdyct/.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".verdyct"
	defaultDBName = "verdyct.db"
)

type Config struct {
	// Workspace is the project root; relative paths resolve against it.
	Workspace string
	// File is the database location from verdyct.yml (storage.db_file).
	// Empty means the standard .verdyct/verdyct.db.
	File string
}

func (c Config) workspace() string {
	if c.Workspace == "" {
		return "."
	}
	return c.Workspace
}

func (c Config) path() string {
	if c.File == "" {
		return filepath.Join(c.workspace(), workspaceDir, defaultDBName)
	}
	if filepath.IsAbs(c.File) {
		return c.File
	}
	return filepath.Join(c.workspace(), c.File)
}

// EnsureWorkspace creates the workspace's .verdyct directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the workspace database, creating its parent directory if
// needed. WAL with a busy timeout, since a foreground command and a watch
// loop can hold the store at the same time.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path reports where Open would place the database for cfg.
func Path(cfg Config) string {
	return cfg.path()
}
