package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/dshills/stairway/stairway/filter"
)

// newMockMySQLJournal wraps a sqlmock connection directly in a
// sqlJournal, bypassing NewMySQLJournal's pool tuning and goose
// migration so a test can assert exact query/argument sequences
// without standing up a real schema.
func newMockMySQLJournal(t *testing.T) (*sqlJournal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	j := newSQLJournal(db, filter.DialectQuestion, upsertMySQL, "test-mysql-journal", isMySQLDupKeyErr)
	return j, mock
}

func TestMySQLJournal_InterfaceCompliance(t *testing.T) {
	var _ Journal = (*MySQLJournal)(nil)
}

func TestMySQLJournal_CreateDuplicateKey(t *testing.T) {
	ctx := context.Background()
	j, mock := newMockMySQLJournal(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO flight").
		WillReturnError(&mysql.MySQLError{Number: mysqlDupKeyErrno, Message: "Duplicate entry 'f1' for key 'PRIMARY'"})
	mock.ExpectRollback()

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", SubmitTime: time.Now()}
	err := j.Create(ctx, row, nil)
	if !errors.Is(err, ErrDuplicateFlightID) {
		t.Fatalf("expected ErrDuplicateFlightID, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMySQLJournal_StepLastInsertId(t *testing.T) {
	ctx := context.Background()
	j, mock := newMockMySQLJournal(t)

	mock.ExpectQuery("SELECT 1 FROM flight").
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO flight_log").
		WillReturnResult(sqlmock.NewResult(42, 1))

	logID, err := j.Step(ctx, LogEntry{FlightID: "f1", Status: "RUNNING"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if logID != 42 {
		t.Fatalf("expected log id 42, got %d", logID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMySQLJournal_UpsertPersistedUsesOnDuplicateKey(t *testing.T) {
	ctx := context.Background()
	j, mock := newMockMySQLJournal(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM flight").
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO flight_persisted .* ON DUPLICATE KEY UPDATE").
		WithArgs("f1", "a", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := j.StorePersistedState(ctx, "f1", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("StorePersistedState: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMySQLJournal_RegisterInstanceUsesInsertIgnore(t *testing.T) {
	ctx := context.Background()
	j, mock := newMockMySQLJournal(t)

	mock.ExpectExec("INSERT IGNORE INTO instance").
		WithArgs("worker-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := j.RegisterInstance(ctx, "worker-1"); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsMySQLDupKeyErr(t *testing.T) {
	if isMySQLDupKeyErr(nil) {
		t.Fatalf("nil error must not be a dup key error")
	}
	if isMySQLDupKeyErr(errors.New("some other error")) {
		t.Fatalf("unrelated error misclassified as dup key")
	}
	if !isMySQLDupKeyErr(&mysql.MySQLError{Number: mysqlDupKeyErrno}) {
		t.Fatalf("errno 1062 must classify as dup key")
	}
	if isMySQLDupKeyErr(&mysql.MySQLError{Number: 1045}) {
		t.Fatalf("unrelated errno misclassified as dup key")
	}
}
