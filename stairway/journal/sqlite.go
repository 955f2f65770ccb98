package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dshills/stairway/stairway/filter"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteJournal is a SQLite-backed Journal, grounded on the teacher's
// SQLiteStore (graph/store/sqlite.go): single-file database, WAL mode
// for concurrent readers, one writer connection. Intended for
// single-instance embedding, development, and tests that need real
// filter-predicate evaluation (spec.md §6) that MemJournal does not
// provide.
type SQLiteJournal struct {
	*sqlJournal
	path string
}

// NewSQLiteJournal opens (and migrates, if needed) a SQLite database
// at path. path may be ":memory:" for an ephemeral in-process journal.
func NewSQLiteJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: set %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db, sqliteMigrations, "migrations/sqlite", "sqlite3"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteJournal{
		sqlJournal: newSQLJournal(db, filter.DialectQuestion, upsertSQLite, "stairway-sqlite-journal", isSQLiteDupKeyErr),
		path:       path,
	}, nil
}

// Path returns the database file path this journal was opened with.
func (j *SQLiteJournal) Path() string { return j.path }

// Ping verifies the underlying connection is alive.
func (j *SQLiteJournal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

// isSQLiteDupKeyErr reports whether err is a UNIQUE/PRIMARY KEY
// constraint violation. modernc.org/sqlite surfaces these as plain
// errors whose message names the violated constraint rather than as a
// distinctly typed error, so detection is by substring match, the
// common idiom for this driver.
func isSQLiteDupKeyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
