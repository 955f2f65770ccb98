package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// gooseMu serializes goose's package-level dialect/base-FS state
// across the three dialect constructors, since none of New*Journal is
// expected to run concurrently with another at process startup but
// goose keeps that state global rather than per-call.
var gooseMu sync.Mutex

// runMigrations applies every migration under dir (an embedded
// filesystem rooted one level above dir) against db, using goose
// (spec.md §6: schema is migration-managed rather than created ad hoc
// so operators can track and roll back schema changes).
func runMigrations(db *sql.DB, fsys embed.FS, dir, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("journal: set goose dialect %s: %w", dialect, err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("journal: run %s migrations: %w", dialect, err)
	}
	return nil
}
