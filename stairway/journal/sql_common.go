package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dshills/stairway/stairway/filter"
)

// encodeSnapshot serializes a working-parameter snapshot for storage
// in flight_log.working_snapshot. An empty map encodes to "{}" rather
// than "null" so decodeSnapshot never needs to special-case it.
func encodeSnapshot(snapshot map[string]string) (string, error) {
	if len(snapshot) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSnapshot(s string) (map[string]string, error) {
	if s == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// sqlJournal implements Journal against a *sql.DB for any of the three
// supported dialects (spec.md §6). Table layout and query shapes are
// shared; only placeholder syntax and duplicate-key detection differ
// per driver, supplied by the dialect-specific constructors in
// sqlite.go, mysql.go and postgres.go — mirroring the teacher's
// per-driver store files (graph/store/sqlite.go, graph/store/mysql.go)
// while factoring out the SQL the three stores duplicate verbatim.
//
// Writes that can race with a concurrent Resume/Exit run inside a
// transaction opened at sql.LevelSerializable; plain reads use the
// connection pool's default isolation. Every database round trip is
// wrapped by a gobreaker circuit breaker so a flapping database
// degrades into fast failures instead of piling up blocked goroutines
// (spec.md §7 operational guidance).
// upsertSyntax distinguishes the three engines' INSERT-or-update
// dialects, which do not line up with filter.Dialect: SQLite and MySQL
// both use "?" placeholders (filter.DialectQuestion) but disagree on
// upsert syntax, so a second discriminator is needed alongside dialect.
type upsertSyntax int

const (
	upsertMySQL upsertSyntax = iota
	upsertSQLite
	upsertPostgres
)

type sqlJournal struct {
	db          *sql.DB
	dialect     filter.Dialect
	upsert      upsertSyntax
	breaker     *gobreaker.CircuitBreaker
	isDupKeyErr func(error) bool
}

func newSQLJournal(db *sql.DB, dialect filter.Dialect, upsert upsertSyntax, name string, isDupKeyErr func(error) bool) *sqlJournal {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &sqlJournal{
		db:          db,
		dialect:     dialect,
		upsert:      upsert,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		isDupKeyErr: isDupKeyErr,
	}
}

// ph returns the i'th (1-based) positional placeholder for j's dialect.
func (j *sqlJournal) ph(i int) string {
	if j.dialect == filter.DialectDollar {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// run executes fn through the circuit breaker, discarding its result.
func (j *sqlJournal) run(fn func() error) error {
	_, err := j.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// Create implements Journal.
func (j *sqlJournal) Create(ctx context.Context, row FlightRow, inputs map[string]string) error {
	return j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("journal: begin create tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		query := fmt.Sprintf(
			`INSERT INTO flight (flight_id, class_name, owner_id, status, submit_time, serialized_exception, debug_info)
			 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			j.ph(1), j.ph(2), j.ph(3), j.ph(4), j.ph(5), j.ph(6), j.ph(7),
		)
		if _, err := tx.ExecContext(ctx, query,
			row.FlightID, row.ClassName, row.OwnerID, row.Status, row.SubmitTime, row.SerializedException, row.DebugInfo,
		); err != nil {
			if j.isDupKeyErr(err) {
				return ErrDuplicateFlightID
			}
			return fmt.Errorf("journal: insert flight: %w", err)
		}

		inputQuery := fmt.Sprintf(
			`INSERT INTO flight_input (flight_id, param_key, value) VALUES (%s, %s, %s)`,
			j.ph(1), j.ph(2), j.ph(3),
		)
		for k, v := range inputs {
			if _, err := tx.ExecContext(ctx, inputQuery, row.FlightID, k, v); err != nil {
				return fmt.Errorf("journal: insert flight_input: %w", err)
			}
		}

		return tx.Commit()
	})
}

// Step implements Journal.
func (j *sqlJournal) Step(ctx context.Context, entry LogEntry) (int64, error) {
	var logID int64
	err := j.run(func() error {
		var exists int
		checkQuery := fmt.Sprintf(`SELECT 1 FROM flight WHERE flight_id = %s`, j.ph(1))
		if err := j.db.QueryRowContext(ctx, checkQuery, entry.FlightID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("journal: check flight exists: %w", err)
		}

		snapshot, err := encodeSnapshot(entry.WorkingSnapshot)
		if err != nil {
			return fmt.Errorf("journal: encode working snapshot: %w", err)
		}

		cols := `flight_id, log_time, step_index, direction, rerun, succeeded, serialized_exception, status, working_snapshot`
		args := []any{entry.FlightID, time.Now(), entry.StepIndex, entry.Direction, entry.Rerun, entry.Succeeded, entry.SerializedException, entry.Status, snapshot}

		if j.dialect == filter.DialectDollar {
			// lib/pq's Result.LastInsertId is always unsupported; use
			// RETURNING instead of AUTO_INCREMENT/LastInsertId.
			query := fmt.Sprintf(
				`INSERT INTO flight_log (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s) RETURNING log_id`,
				cols, j.ph(1), j.ph(2), j.ph(3), j.ph(4), j.ph(5), j.ph(6), j.ph(7), j.ph(8), j.ph(9),
			)
			if err := j.db.QueryRowContext(ctx, query, args...).Scan(&logID); err != nil {
				return fmt.Errorf("journal: insert flight_log: %w", err)
			}
			return nil
		}

		query := fmt.Sprintf(
			`INSERT INTO flight_log (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			cols, j.ph(1), j.ph(2), j.ph(3), j.ph(4), j.ph(5), j.ph(6), j.ph(7), j.ph(8), j.ph(9),
		)
		res, err := j.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("journal: insert flight_log: %w", err)
		}
		logID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("journal: read inserted log id: %w", err)
		}
		return nil
	})
	return logID, err
}

// Exit implements Journal.
func (j *sqlJournal) Exit(ctx context.Context, flightID string, status string, serializedException string) error {
	return j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("journal: begin exit tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		switch status {
		case "SUCCESS", "ERROR", "FATAL":
			query := fmt.Sprintf(
				`UPDATE flight SET status = %s, owner_id = '', completed_time = %s, serialized_exception = %s WHERE flight_id = %s`,
				j.ph(1), j.ph(2), j.ph(3), j.ph(4),
			)
			if _, err := tx.ExecContext(ctx, query, status, time.Now(), serializedException, flightID); err != nil {
				return fmt.Errorf("journal: exit to %s: %w", status, err)
			}
		case "READY", "WAITING", "READY_TO_RESTART":
			query := fmt.Sprintf(`UPDATE flight SET status = %s, owner_id = '' WHERE flight_id = %s`, j.ph(1), j.ph(2))
			if _, err := tx.ExecContext(ctx, query, status, flightID); err != nil {
				return fmt.Errorf("journal: exit to %s: %w", status, err)
			}
		case "QUEUED":
			query := fmt.Sprintf(
				`UPDATE flight SET status = 'QUEUED' WHERE flight_id = %s AND status = 'READY' AND owner_id = ''`,
				j.ph(1),
			)
			res, err := tx.ExecContext(ctx, query, flightID)
			if err != nil {
				return fmt.Errorf("journal: exit to QUEUED: %w", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return fmt.Errorf("journal: cannot transition flight %s to QUEUED: %w", flightID, ErrNotFound)
			}
		case "RUNNING":
			return fmt.Errorf("journal: exit() may not target RUNNING")
		default:
			return fmt.Errorf("journal: unknown exit status %q", status)
		}

		return tx.Commit()
	})
}

// Resume implements Journal.
func (j *sqlJournal) Resume(ctx context.Context, instanceID, flightID string) (*FlightState, bool, error) {
	var state *FlightState
	var ok bool
	err := j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("journal: begin resume tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		claimQuery := fmt.Sprintf(
			`UPDATE flight SET status = 'RUNNING', owner_id = %s
			 WHERE flight_id = %s AND owner_id = '' AND status IN ('WAITING', 'READY', 'QUEUED', 'READY_TO_RESTART')`,
			j.ph(1), j.ph(2),
		)
		res, err := tx.ExecContext(ctx, claimQuery, instanceID, flightID)
		if err != nil {
			return fmt.Errorf("journal: claim flight: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("journal: read rows affected: %w", err)
		}
		if n == 0 {
			ok = false
			return nil
		}

		state, err = reconstructTx(ctx, tx, j.ph, flightID)
		if err != nil {
			return err
		}
		ok = true
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}
	return state, ok, nil
}

// DisownRecovery implements Journal.
func (j *sqlJournal) DisownRecovery(ctx context.Context, oldInstanceID string) error {
	return j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("journal: begin disown tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		query := fmt.Sprintf(`UPDATE flight SET status = 'READY', owner_id = '' WHERE status = 'RUNNING' AND owner_id = %s`, j.ph(1))
		if _, err := tx.ExecContext(ctx, query, oldInstanceID); err != nil {
			return fmt.Errorf("journal: disown running flights: %w", err)
		}

		delQuery := fmt.Sprintf(`DELETE FROM instance WHERE name = %s`, j.ph(1))
		if _, err := tx.ExecContext(ctx, delQuery, oldInstanceID); err != nil {
			return fmt.Errorf("journal: delete instance row: %w", err)
		}

		return tx.Commit()
	})
}

// ReadyFlights implements Journal.
func (j *sqlJournal) ReadyFlights(ctx context.Context) ([]string, error) {
	var ids []string
	err := j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
		if err != nil {
			return fmt.Errorf("journal: begin ready-flights tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `SELECT flight_id FROM flight WHERE owner_id = '' AND status IN ('READY', 'READY_TO_RESTART') ORDER BY flight_id`)
		if err != nil {
			return fmt.Errorf("journal: query ready flights: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("journal: scan ready flight id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// StorePersistedState implements Journal.
func (j *sqlJournal) StorePersistedState(ctx context.Context, flightID string, kv map[string]string) error {
	return j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("journal: begin persisted-state tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		checkQuery := fmt.Sprintf(`SELECT 1 FROM flight WHERE flight_id = %s`, j.ph(1))
		if err := tx.QueryRowContext(ctx, checkQuery, flightID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("journal: check flight exists: %w", err)
		}

		for k, v := range kv {
			if err := j.upsertPersisted(ctx, tx, flightID, k, v); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// upsertPersisted inserts or updates one flight_persisted row, using
// the dialect-appropriate upsert syntax.
func (j *sqlJournal) upsertPersisted(ctx context.Context, tx *sql.Tx, flightID, key, value string) error {
	var query string
	switch j.upsert {
	case upsertPostgres:
		query = fmt.Sprintf(
			`INSERT INTO flight_persisted (flight_id, param_key, value) VALUES (%s, %s, %s)
			 ON CONFLICT (flight_id, param_key) DO UPDATE SET value = EXCLUDED.value`,
			j.ph(1), j.ph(2), j.ph(3),
		)
	case upsertSQLite:
		query = `INSERT INTO flight_persisted (flight_id, param_key, value) VALUES (?, ?, ?)
			 ON CONFLICT (flight_id, param_key) DO UPDATE SET value = excluded.value`
	default: // upsertMySQL
		query = `INSERT INTO flight_persisted (flight_id, param_key, value) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE value = VALUES(value)`
	}
	if _, err := tx.ExecContext(ctx, query, flightID, key, value); err != nil {
		return fmt.Errorf("journal: upsert flight_persisted: %w", err)
	}
	return nil
}

// Delete implements Journal.
func (j *sqlJournal) Delete(ctx context.Context, flightID string) error {
	return j.run(func() error {
		query := fmt.Sprintf(`DELETE FROM flight WHERE flight_id = %s`, j.ph(1))
		_, err := j.db.ExecContext(ctx, query, flightID)
		if err != nil {
			return fmt.Errorf("journal: delete flight: %w", err)
		}
		return nil
	})
}

// DeleteCompleted implements Journal.
func (j *sqlJournal) DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := j.run(func() error {
		query := fmt.Sprintf(`DELETE FROM flight WHERE completed_time IS NOT NULL AND completed_time < %s`, j.ph(1))
		res, err := j.db.ExecContext(ctx, query, olderThan)
		if err != nil {
			return fmt.Errorf("journal: delete completed flights: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("journal: read rows affected: %w", err)
		}
		return nil
	})
	return n, err
}

// FlightState implements Journal.
func (j *sqlJournal) FlightState(ctx context.Context, flightID string) (*FlightState, error) {
	var state *FlightState
	err := j.run(func() error {
		tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault, ReadOnly: true})
		if err != nil {
			return fmt.Errorf("journal: begin flight-state tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		state, err = reconstructTx(ctx, tx, j.ph, flightID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return state, err
}

// reconstructTx implements the reconstruction contract shared by
// Resume and FlightState: the flight row, its input and persisted
// maps, and the log entry with the maximal log_time.
func reconstructTx(ctx context.Context, tx *sql.Tx, ph func(int) string, flightID string) (*FlightState, error) {
	row := FlightRow{FlightID: flightID}
	var completedTime sql.NullTime
	flightQuery := fmt.Sprintf(
		`SELECT class_name, owner_id, status, submit_time, completed_time, serialized_exception, debug_info FROM flight WHERE flight_id = %s`,
		ph(1),
	)
	if err := tx.QueryRowContext(ctx, flightQuery, flightID).Scan(
		&row.ClassName, &row.OwnerID, &row.Status, &row.SubmitTime, &completedTime, &row.SerializedException, &row.DebugInfo,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("journal: load flight row: %w", err)
	}
	if completedTime.Valid {
		t := completedTime.Time
		row.CompletedTime = &t
	}

	input, err := loadKV(ctx, tx, ph, "flight_input", flightID)
	if err != nil {
		return nil, fmt.Errorf("journal: load flight_input: %w", err)
	}
	persisted, err := loadKV(ctx, tx, ph, "flight_persisted", flightID)
	if err != nil {
		return nil, fmt.Errorf("journal: load flight_persisted: %w", err)
	}

	latest := LogEntry{
		FlightID:  flightID,
		StepIndex: 0,
		Direction: "START",
		Rerun:     false,
		Succeeded: true,
		Status:    "SUCCESS",
	}
	logQuery := fmt.Sprintf(
		`SELECT log_id, log_time, step_index, direction, rerun, succeeded, serialized_exception, status, working_snapshot
		 FROM flight_log WHERE flight_id = %s ORDER BY log_time DESC LIMIT 1`,
		ph(1),
	)
	var snapshot string
	err = tx.QueryRowContext(ctx, logQuery, flightID).Scan(
		&latest.LogID, &latest.LogTime, &latest.StepIndex, &latest.Direction, &latest.Rerun, &latest.Succeeded, &latest.SerializedException, &latest.Status, &snapshot,
	)
	switch {
	case err == nil:
		latest.FlightID = flightID
		ws, derr := decodeSnapshot(snapshot)
		if derr != nil {
			return nil, fmt.Errorf("journal: decode working snapshot: %w", derr)
		}
		latest.WorkingSnapshot = ws
	case err == sql.ErrNoRows:
		// no log entries yet; latest stays the synthesized START entry.
	default:
		return nil, fmt.Errorf("journal: load latest log entry: %w", err)
	}

	return &FlightState{Flight: row, Input: input, Persisted: persisted, Latest: latest}, nil
}

func loadKV(ctx context.Context, tx *sql.Tx, ph func(int) string, table, flightID string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT param_key, value FROM %s WHERE flight_id = %s`, table, ph(1))
	rows, err := tx.QueryContext(ctx, query, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k] = v
	}
	return kv, rows.Err()
}

// Flights implements Journal.
func (j *sqlJournal) Flights(ctx context.Context, q FlightFilterQuery) ([]FlightRow, string, error) {
	var rows []FlightRow
	var next string
	err := j.run(func() error {
		where := q.WhereSQL
		if where == "" {
			where = "1=1"
		}
		args := append([]any{}, q.Args...)

		if q.PageToken != "" {
			cursor, err := filter.DecodePageToken(q.PageToken)
			if err != nil {
				return fmt.Errorf("journal: decode page token: %w", err)
			}
			op := "<"
			if q.Ascending {
				op = ">"
			}
			where = fmt.Sprintf("(%s) AND flight.submit_time %s %s", where, op, j.ph(len(args)+1))
			args = append(args, cursor)
		}

		order := "DESC"
		if q.Ascending {
			order = "ASC"
		}
		limit := q.Limit
		if limit <= 0 {
			limit = 100
		}

		query := fmt.Sprintf(
			`SELECT flight_id, class_name, owner_id, status, submit_time, completed_time, serialized_exception, debug_info
			 FROM flight WHERE %s ORDER BY submit_time %s LIMIT %d`,
			where, order, limit,
		)
		// Offset paging only applies when the caller isn't resuming from a
		// cursor (spec.md §4.9: the two styles are mutually exclusive).
		if q.PageToken == "" && q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}

		sqlRows, err := j.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("journal: query flights: %w", err)
		}
		defer sqlRows.Close()

		for sqlRows.Next() {
			var row FlightRow
			var completedTime sql.NullTime
			if err := sqlRows.Scan(&row.FlightID, &row.ClassName, &row.OwnerID, &row.Status, &row.SubmitTime, &completedTime, &row.SerializedException, &row.DebugInfo); err != nil {
				return fmt.Errorf("journal: scan flight row: %w", err)
			}
			if completedTime.Valid {
				t := completedTime.Time
				row.CompletedTime = &t
			}
			rows = append(rows, row)
		}
		if err := sqlRows.Err(); err != nil {
			return err
		}

		cursorTime := time.Now()
		if len(rows) > 0 {
			cursorTime = rows[len(rows)-1].SubmitTime
		}
		next = filter.EncodePageToken(cursorTime)
		return nil
	})
	return rows, next, err
}

// Count implements Journal.
func (j *sqlJournal) Count(ctx context.Context, whereSQL string, args []any) (int64, error) {
	var n int64
	err := j.run(func() error {
		where := whereSQL
		if where == "" {
			where = "1=1"
		}
		query := fmt.Sprintf(`SELECT COUNT(*) FROM flight WHERE %s`, where)
		return j.db.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	return n, err
}

// RegisterInstance implements Journal.
func (j *sqlJournal) RegisterInstance(ctx context.Context, name string) (string, error) {
	err := j.run(func() error {
		var insertQuery string
		switch j.upsert {
		case upsertPostgres:
			insertQuery = `INSERT INTO instance (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
		case upsertSQLite:
			insertQuery = `INSERT OR IGNORE INTO instance (name) VALUES (?)`
		default: // upsertMySQL
			insertQuery = `INSERT IGNORE INTO instance (name) VALUES (?)`
		}
		_, err := j.db.ExecContext(ctx, insertQuery, name)
		if err != nil && !j.isDupKeyErr(err) {
			return fmt.Errorf("journal: register instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// ListInstances implements Journal.
func (j *sqlJournal) ListInstances(ctx context.Context) ([]string, error) {
	var names []string
	err := j.run(func() error {
		rows, err := j.db.QueryContext(ctx, `SELECT name FROM instance ORDER BY name`)
		if err != nil {
			return fmt.Errorf("journal: list instances: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("journal: scan instance name: %w", err)
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names, err
}

// Close implements Journal.
func (j *sqlJournal) Close() error {
	return j.db.Close()
}
