package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type step struct {
	version int
	name    string
	ddl     string
}

// loadSteps reads the embedded schema files. Names follow NNN_name.sql and
// the numeric prefix is the version the step brings the workspace to.
func loadSteps() ([]step, error) {
	names, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(names))
	for _, name := range names {
		base := strings.TrimPrefix(name, "sql/")
		prefix, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("schema file %s: want NNN_name.sql", base)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("schema file %s: bad version prefix: %w", base, err)
		}
		ddl, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{version: v, name: base, ddl: string(ddl)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// Migrate brings the workspace database up to the latest schema. All pending
// steps apply inside one transaction, so an interrupted run leaves the
// workspace at the version it started from. Safe to call on every startup;
// an up-to-date workspace is a no-op.
func Migrate(db *sql.DB) error {
	steps, err := loadSteps()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("workspace schema bookkeeping: %w", err)
	}
	var current int
	switch err := tx.QueryRow(`SELECT version FROM schema_version`).Scan(&current); {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("workspace schema bookkeeping: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read workspace schema version: %w", err)
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if _, err := tx.Exec(s.ddl); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.version); err != nil {
			return fmt.Errorf("record version %d: %w", s.version, err)
		}
		current = s.version
	}
	return tx.Commit()
}

// Version reports the workspace's current schema version.
func Version(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}
