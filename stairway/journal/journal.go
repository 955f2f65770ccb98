// Package journal implements the Journal DAO (spec.md §4.1, C1): all
// reads and writes against the relational store backing a Stairway
// engine, under serializable-transaction discipline for writes and
// read-committed for reads, with owner/state transitions enforced by
// the update predicates described in spec.md §5.
//
// Journal is a storage-only vocabulary: flight and log rows, the
// instance registry, and parameter maps as plain string-keyed maps.
// It knows nothing about Step, RetryRule or the do/undo state machine
// — those live in package stairway, which depends on Journal rather
// than the other way around, mirroring the teacher's split between
// graph (engine) and graph/store (persistence).
package journal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an operation references a row that does
// not exist, matching the teacher's store.ErrNotFound
// (graph/store/store.go).
var ErrNotFound = errors.New("journal: not found")

// ErrDuplicateFlightID is returned by Create when a flight with the
// given id already exists (spec.md §4.1).
var ErrDuplicateFlightID = errors.New("journal: duplicate flight id")

// FlightRow is the persisted representation of a flight (spec.md §3).
// Status, Direction and StepStatus values are plain strings matching
// the constants package stairway defines (stairway.FlightRunning,
// etc.) — the journal only stores and compares them, it does not
// interpret them.
type FlightRow struct {
	FlightID            string
	ClassName           string
	OwnerID             string // empty when unowned
	Status              string
	SubmitTime          time.Time
	CompletedTime       *time.Time
	SerializedException string
	DebugInfo           string // caller-serialized FlightDebugInfo, opaque here
}

// LogEntry is one row in the flight log: one step attempt outcome the
// runner decided to persist (spec.md §3).
type LogEntry struct {
	LogID      int64
	FlightID   string
	LogTime    time.Time
	StepIndex  int
	Direction  string
	Rerun      bool
	Succeeded  bool
	SerializedException string
	Status     string
	// WorkingSnapshot is the working-parameter map captured at the
	// moment this entry was written.
	WorkingSnapshot map[string]string
}

// FlightState is the fully reconstructed in-memory state the journal
// hands back on Resume/FlightState: the flight row plus its immutable
// input map, its persisted map, and the log entry with the maximal
// log_time (spec.md §4.1 reconstruction contract).
type FlightState struct {
	Flight    FlightRow
	Input     map[string]string
	Persisted map[string]string
	Latest    LogEntry // zero value {StepIndex:0, Direction:"START", Rerun:false, Status:"SUCCESS"} if no log entry exists
}

// FlightFilterQuery is the subset of filter.Query the journal needs to
// build a SQL WHERE/ORDER/LIMIT clause for Flights: a pre-rendered
// WHERE fragment plus the paging fields. Callers build it from a
// filter.Query themselves; no translation helper exists in this module.
type FlightFilterQuery struct {
	// WhereSQL is a pre-built WHERE-clause fragment (without the leading
	// "WHERE") and its positional arguments, produced by
	// filter.Query.ToSQL for the target dialect.
	WhereSQL  string
	Args      []any
	PageToken string
	Ascending bool
	Limit     int

	// Offset, honored only when PageToken == "", skips the first Offset
	// matching rows instead of resuming from a cursor (spec.md §4.9's
	// offset/limit paging style).
	Offset int
}

// Journal is the persistence DAO described in spec.md §4.1/§6.
type Journal interface {
	// Create inserts the flight row and its input rows in one
	// transaction. Returns ErrDuplicateFlightID on a unique-constraint
	// violation.
	Create(ctx context.Context, row FlightRow, inputs map[string]string) error

	// Step appends a log entry and its working-map snapshot under a
	// fresh log id, returning the assigned LogID.
	Step(ctx context.Context, entry LogEntry) (int64, error)

	// Exit dispatches on status: terminal statuses set the status,
	// clear the owner and record the completion time and exception;
	// {READY, WAITING, READY_TO_RESTART} set the status and clear the
	// owner; QUEUED is only legal from READY with an empty owner;
	// RUNNING is rejected (spec.md §4.1).
	Exit(ctx context.Context, flightID string, status string, serializedException string) error

	// Resume atomically selects the flight if its status is one of
	// {WAITING, READY, QUEUED, READY_TO_RESTART} with an empty owner,
	// then updates it to RUNNING with owner_id = instanceID, all in one
	// transaction. ok is false if no such row existed (it was already
	// claimed or does not exist).
	Resume(ctx context.Context, instanceID, flightID string) (state *FlightState, ok bool, err error)

	// DisownRecovery converts every RUNNING flight owned by
	// oldInstanceID to READY with an empty owner, and deletes the
	// instance registry row for oldInstanceID — all in one transaction.
	DisownRecovery(ctx context.Context, oldInstanceID string) error

	// ReadyFlights returns the ids of every flight with an empty owner
	// and status in {READY, READY_TO_RESTART}, using a serializable
	// read to interlock with concurrent writers (spec.md §4.1/§5).
	ReadyFlights(ctx context.Context) ([]string, error)

	// StorePersistedState upserts each entry of kv into the persisted
	// side table for flightID, independently of the step log.
	StorePersistedState(ctx context.Context, flightID string, kv map[string]string) error

	// Delete removes a flight and all its child rows. A no-op (not an
	// error) if flightID does not exist.
	Delete(ctx context.Context, flightID string) error

	// DeleteCompleted removes every terminal flight whose
	// CompletedTime is older than olderThan, returning the count
	// removed.
	DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error)

	// FlightState reconstructs the full in-memory state for flightID
	// (spec.md §4.1 reconstruction contract). Returns ErrNotFound if
	// the flight does not exist.
	FlightState(ctx context.Context, flightID string) (*FlightState, error)

	// Flights returns the flight rows matching q, plus a next page
	// token.
	Flights(ctx context.Context, q FlightFilterQuery) (rows []FlightRow, nextToken string, err error)

	// Count returns the total number of flight rows matching q's
	// WhereSQL/Args (paging ignored).
	Count(ctx context.Context, whereSQL string, args []any) (int64, error)

	// RegisterInstance returns the existing instance id for name, or
	// inserts a new row (id == name) and returns it (spec.md §4.7).
	RegisterInstance(ctx context.Context, name string) (string, error)

	// ListInstances enumerates all known instance names.
	ListInstances(ctx context.Context) ([]string, error)

	// Close releases any resources (connections, etc.) held by the
	// journal.
	Close() error
}
