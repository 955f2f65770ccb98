package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dshills/stairway/stairway/filter"
)

//go:embed migrations/mysql/*.sql
var mysqlMigrations embed.FS

// mysqlDupKeyErrno is the MySQL server error number for a duplicate
// unique-key violation.
const mysqlDupKeyErrno = 1062

// MySQLJournal is a MySQL/MariaDB-backed Journal, grounded on the
// teacher's MySQLStore (graph/store/mysql.go): connection pool tuned
// for production concurrency rather than SQLite's single-writer
// constraint, and a startup ping to fail fast on bad DSNs.
type MySQLJournal struct {
	*sqlJournal
}

// NewMySQLJournal opens (and migrates, if needed) a MySQL database at
// dsn, e.g. "user:pass@tcp(127.0.0.1:3306)/stairway?parseTime=true".
// parseTime=true is required so TIMESTAMP columns scan into
// time.Time.
func NewMySQLJournal(ctx context.Context, dsn string) (*MySQLJournal, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping mysql: %w", err)
	}

	if err := runMigrations(db, mysqlMigrations, "migrations/mysql", "mysql"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &MySQLJournal{
		sqlJournal: newSQLJournal(db, filter.DialectQuestion, upsertMySQL, "stairway-mysql-journal", isMySQLDupKeyErr),
	}, nil
}

// Ping verifies the underlying connection is alive.
func (j *MySQLJournal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

func isMySQLDupKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupKeyErrno
}
