package journal

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestSQLiteJournal creates an in-memory SQLite journal for testing,
// mirroring the teacher's newTestSQLiteStore helper.
func newTestSQLiteJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSQLiteJournal_InterfaceCompliance(t *testing.T) {
	var _ Journal = (*SQLiteJournal)(nil)
}

func TestSQLiteJournal_CreateAndDuplicate(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", OwnerID: "i1", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, map[string]string{"name": "alice"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := j.Create(ctx, row, nil)
	if !errors.Is(err, ErrDuplicateFlightID) {
		t.Fatalf("expected ErrDuplicateFlightID, got %v", err)
	}
}

func TestSQLiteJournal_StepAndFlightState(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", OwnerID: "i1", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, map[string]string{"name": "alice"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	state, err := j.FlightState(ctx, "f1")
	if err != nil {
		t.Fatalf("FlightState before any step: %v", err)
	}
	if state.Latest.Direction != "START" || state.Latest.StepIndex != 0 {
		t.Fatalf("expected synthesized START entry, got %+v", state.Latest)
	}
	if state.Input["name"] != "alice" {
		t.Fatalf("expected input name=alice, got %+v", state.Input)
	}

	logID, err := j.Step(ctx, LogEntry{
		FlightID: "f1", StepIndex: 0, Direction: "DO", Rerun: false, Succeeded: true,
		Status: "RUNNING", WorkingSnapshot: map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if logID == 0 {
		t.Fatalf("expected nonzero log id")
	}

	state, err = j.FlightState(ctx, "f1")
	if err != nil {
		t.Fatalf("FlightState after step: %v", err)
	}
	if state.Latest.LogID != logID || state.Latest.WorkingSnapshot["k"] != "v" {
		t.Fatalf("unexpected latest entry: %+v", state.Latest)
	}
}

func TestSQLiteJournal_StepUnknownFlight(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	_, err := j.Step(ctx, LogEntry{FlightID: "missing", Status: "RUNNING"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteJournal_ExitTransitions(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", OwnerID: "i1", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := j.Exit(ctx, "f1", "SUCCESS", ""); err != nil {
		t.Fatalf("Exit to SUCCESS: %v", err)
	}
	state, err := j.FlightState(ctx, "f1")
	if err != nil {
		t.Fatalf("FlightState: %v", err)
	}
	if state.Flight.Status != "SUCCESS" || state.Flight.OwnerID != "" || state.Flight.CompletedTime == nil {
		t.Fatalf("unexpected flight row after SUCCESS: %+v", state.Flight)
	}

	if err := j.Exit(ctx, "f1", "RUNNING", ""); err == nil {
		t.Fatalf("expected error exiting to RUNNING")
	}
}

func TestSQLiteJournal_ExitQueuedRequiresReadyUnowned(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "READY", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := j.Exit(ctx, "f1", "QUEUED", ""); err != nil {
		t.Fatalf("Exit to QUEUED: %v", err)
	}

	// Already QUEUED, not READY: a second transition must fail.
	if err := j.Exit(ctx, "f1", "QUEUED", ""); err == nil {
		t.Fatalf("expected error re-queuing an already-QUEUED flight")
	}
}

func TestSQLiteJournal_ResumeClaimsAndReconstructs(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "READY", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	state, ok, err := j.Resume(ctx, "instance-a", "f1")
	if err != nil || !ok {
		t.Fatalf("Resume: ok=%v err=%v", ok, err)
	}
	if state.Flight.Status != "RUNNING" || state.Flight.OwnerID != "instance-a" {
		t.Fatalf("unexpected state after resume: %+v", state.Flight)
	}

	// Already claimed: a second Resume must not succeed.
	_, ok, err = j.Resume(ctx, "instance-b", "f1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ok {
		t.Fatalf("expected second Resume to fail to claim an owned flight")
	}
}

func TestSQLiteJournal_DisownRecoveryAndReadyFlights(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	for _, id := range []string{"f1", "f2"} {
		row := FlightRow{FlightID: id, ClassName: "demo", Status: "RUNNING", OwnerID: "dead-instance", SubmitTime: time.Now()}
		if err := j.Create(ctx, row, nil); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if _, err := j.RegisterInstance(ctx, "dead-instance"); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}

	if err := j.DisownRecovery(ctx, "dead-instance"); err != nil {
		t.Fatalf("DisownRecovery: %v", err)
	}

	ready, err := j.ReadyFlights(ctx)
	if err != nil {
		t.Fatalf("ReadyFlights: %v", err)
	}
	if len(ready) != 2 || ready[0] != "f1" || ready[1] != "f2" {
		t.Fatalf("expected [f1 f2] ready, got %v", ready)
	}

	names, err := j.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	for _, n := range names {
		if n == "dead-instance" {
			t.Fatalf("expected dead-instance row to be removed, got %v", names)
		}
	}
}

func TestSQLiteJournal_StorePersistedState(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := j.StorePersistedState(ctx, "f1", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("StorePersistedState: %v", err)
	}
	if err := j.StorePersistedState(ctx, "f1", map[string]string{"a": "2", "b": "3"}); err != nil {
		t.Fatalf("StorePersistedState overwrite: %v", err)
	}

	state, err := j.FlightState(ctx, "f1")
	if err != nil {
		t.Fatalf("FlightState: %v", err)
	}
	if state.Persisted["a"] != "2" || state.Persisted["b"] != "3" {
		t.Fatalf("unexpected persisted map: %+v", state.Persisted)
	}

	if err := j.StorePersistedState(ctx, "missing", map[string]string{"x": "y"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing flight, got %v", err)
	}
}

func TestSQLiteJournal_DeleteAndDeleteCompleted(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	row := FlightRow{FlightID: "f1", ClassName: "demo", Status: "RUNNING", SubmitTime: time.Now()}
	if err := j.Create(ctx, row, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := j.Delete(ctx, "f1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := j.FlightState(ctx, "f1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected flight gone after delete, got %v", err)
	}
	if err := j.Delete(ctx, "already-gone"); err != nil {
		t.Fatalf("Delete of nonexistent flight should be a no-op, got %v", err)
	}

	old := FlightRow{FlightID: "old", ClassName: "demo", Status: "SUCCESS", SubmitTime: time.Now().Add(-48 * time.Hour)}
	if err := j.Create(ctx, old, nil); err != nil {
		t.Fatalf("Create old: %v", err)
	}
	if err := j.Exit(ctx, "old", "SUCCESS", ""); err != nil {
		t.Fatalf("Exit old: %v", err)
	}

	n, err := j.DeleteCompleted(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteCompleted: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completed flight deleted, got %d", n)
	}
}

func TestSQLiteJournal_FlightsPagingAndCount(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		row := FlightRow{FlightID: id, ClassName: "demo", Status: "READY", SubmitTime: base.Add(time.Duration(i) * time.Second)}
		if err := j.Create(ctx, row, nil); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	n, err := j.Count(ctx, "", nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}

	rows, next, err := j.Flights(ctx, FlightFilterQuery{Ascending: true, Limit: 2})
	if err != nil {
		t.Fatalf("Flights: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if next == "" {
		t.Fatalf("expected a nonempty page token")
	}

	rows2, _, err := j.Flights(ctx, FlightFilterQuery{Ascending: true, Limit: 2, PageToken: next})
	if err != nil {
		t.Fatalf("Flights page 2: %v", err)
	}
	if len(rows2) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(rows2))
	}
}

func TestSQLiteJournal_FlightsOffsetPaging(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		row := FlightRow{FlightID: id, ClassName: "demo", Status: "READY", SubmitTime: base.Add(time.Duration(i) * time.Second)}
		if err := j.Create(ctx, row, nil); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	rows, _, err := j.Flights(ctx, FlightFilterQuery{Ascending: true, Offset: 1})
	if err != nil {
		t.Fatalf("Flights: %v", err)
	}
	if len(rows) != 2 || rows[0].FlightID != "b" || rows[1].FlightID != "c" {
		t.Fatalf("expected [b c] after an offset of 1, got %v", rows)
	}

	rows, _, err = j.Flights(ctx, FlightFilterQuery{Ascending: true, Limit: 1, Offset: 2})
	if err != nil {
		t.Fatalf("Flights: %v", err)
	}
	if len(rows) != 1 || rows[0].FlightID != "c" {
		t.Fatalf("expected [c] with limit 1 offset 2, got %v", rows)
	}
}

func TestSQLiteJournal_RegisterInstanceIdempotent(t *testing.T) {
	ctx := context.Background()
	j := newTestSQLiteJournal(t)

	id1, err := j.RegisterInstance(ctx, "worker-1")
	if err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	id2, err := j.RegisterInstance(ctx, "worker-1")
	if err != nil {
		t.Fatalf("RegisterInstance again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable instance id, got %q then %q", id1, id2)
	}
}
