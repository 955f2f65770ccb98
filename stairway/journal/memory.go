package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/stairway/stairway/filter"
)

// MemJournal is an in-memory Journal implementation, the Stairway
// analogue of the teacher's MemStore (graph/store/memory.go):
// single-process, thread-safe via a mutex, intended for tests and
// short-lived embedded use where a real database is unnecessary.
//
// Limitations, mirroring MemStore's documented tradeoffs: data is lost
// on process exit, there is no cross-process recovery, and Flights'
// paging does not evaluate the SQL WhereSQL/Args a real backend would
// — it returns all rows ordered by submit time and paginates that
// ordering, ignoring the filter predicate. Callers that need filter
// evaluation in tests should use SQLiteJournal against a temp file.
type MemJournal struct {
	mu sync.Mutex

	flights map[string]*FlightRow
	inputs  map[string]map[string]string
	persisted map[string]map[string]string
	logs    map[string][]LogEntry // flightID -> entries, append-only

	instances map[string]string // name -> id (id == name)

	nextLogID int64
	lastLogTime time.Time
}

// NewMemJournal constructs an empty MemJournal.
func NewMemJournal() *MemJournal {
	return &MemJournal{
		flights:   make(map[string]*FlightRow),
		inputs:    make(map[string]map[string]string),
		persisted: make(map[string]map[string]string),
		logs:      make(map[string][]LogEntry),
		instances: make(map[string]string),
	}
}

func (m *MemJournal) monotonicNow() time.Time {
	now := time.Now()
	if !now.After(m.lastLogTime) {
		now = m.lastLogTime.Add(time.Nanosecond)
	}
	m.lastLogTime = now
	return now
}

// Create implements Journal.
func (m *MemJournal) Create(_ context.Context, row FlightRow, inputs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.flights[row.FlightID]; exists {
		return ErrDuplicateFlightID
	}

	stored := row
	m.flights[row.FlightID] = &stored

	in := make(map[string]string, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	m.inputs[row.FlightID] = in
	m.persisted[row.FlightID] = make(map[string]string)
	m.logs[row.FlightID] = nil
	return nil
}

// Step implements Journal.
func (m *MemJournal) Step(_ context.Context, entry LogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.flights[entry.FlightID]; !exists {
		return 0, ErrNotFound
	}

	m.nextLogID++
	entry.LogID = m.nextLogID
	entry.LogTime = m.monotonicNow()

	snap := make(map[string]string, len(entry.WorkingSnapshot))
	for k, v := range entry.WorkingSnapshot {
		snap[k] = v
	}
	entry.WorkingSnapshot = snap

	m.logs[entry.FlightID] = append(m.logs[entry.FlightID], entry)
	return entry.LogID, nil
}

// Exit implements Journal.
func (m *MemJournal) Exit(_ context.Context, flightID string, status string, serializedException string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.flights[flightID]
	if !ok {
		return ErrNotFound
	}

	switch status {
	case "SUCCESS", "ERROR", "FATAL":
		now := time.Now()
		row.Status = status
		row.OwnerID = ""
		row.CompletedTime = &now
		row.SerializedException = serializedException
	case "READY", "WAITING", "READY_TO_RESTART":
		row.Status = status
		row.OwnerID = ""
	case "QUEUED":
		if row.Status != "READY" || row.OwnerID != "" {
			return fmt.Errorf("journal: cannot transition to QUEUED from %s (owner=%q): %w", row.Status, row.OwnerID, ErrNotFound)
		}
		row.Status = "QUEUED"
	case "RUNNING":
		return fmt.Errorf("journal: exit() may not target RUNNING")
	default:
		return fmt.Errorf("journal: unknown exit status %q", status)
	}
	return nil
}

// Resume implements Journal.
func (m *MemJournal) Resume(_ context.Context, instanceID, flightID string) (*FlightState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.flights[flightID]
	if !ok {
		return nil, false, nil
	}
	if row.OwnerID != "" || !isResumable(row.Status) {
		return nil, false, nil
	}

	row.Status = "RUNNING"
	row.OwnerID = instanceID

	state := m.reconstructLocked(flightID)
	return state, true, nil
}

func isResumable(status string) bool {
	switch status {
	case "WAITING", "READY", "QUEUED", "READY_TO_RESTART":
		return true
	default:
		return false
	}
}

// DisownRecovery implements Journal.
func (m *MemJournal) DisownRecovery(_ context.Context, oldInstanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.flights {
		if row.Status == "RUNNING" && row.OwnerID == oldInstanceID {
			row.Status = "READY"
			row.OwnerID = ""
		}
	}
	delete(m.instances, oldInstanceID)
	return nil
}

// ReadyFlights implements Journal.
func (m *MemJournal) ReadyFlights(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, row := range m.flights {
		if row.OwnerID == "" && (row.Status == "READY" || row.Status == "READY_TO_RESTART") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// StorePersistedState implements Journal.
func (m *MemJournal) StorePersistedState(_ context.Context, flightID string, kv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.persisted[flightID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range kv {
		p[k] = v
	}
	return nil
}

// Delete implements Journal.
func (m *MemJournal) Delete(_ context.Context, flightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.flights, flightID)
	delete(m.inputs, flightID)
	delete(m.persisted, flightID)
	delete(m.logs, flightID)
	return nil
}

// DeleteCompleted implements Journal.
func (m *MemJournal) DeleteCompleted(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.flights {
		if row.CompletedTime != nil && row.CompletedTime.Before(olderThan) {
			delete(m.flights, id)
			delete(m.inputs, id)
			delete(m.persisted, id)
			delete(m.logs, id)
			n++
		}
	}
	return n, nil
}

// FlightState implements Journal.
func (m *MemJournal) FlightState(_ context.Context, flightID string) (*FlightState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flights[flightID]; !ok {
		return nil, ErrNotFound
	}
	return m.reconstructLocked(flightID), nil
}

// reconstructLocked implements the reconstruction contract of spec.md
// §4.1: input map, persisted map, and the log entry with maximal
// log_time (or the synthesized START entry if none exists). Caller
// must hold m.mu.
func (m *MemJournal) reconstructLocked(flightID string) *FlightState {
	row := *m.flights[flightID]

	input := make(map[string]string, len(m.inputs[flightID]))
	for k, v := range m.inputs[flightID] {
		input[k] = v
	}
	persisted := make(map[string]string, len(m.persisted[flightID]))
	for k, v := range m.persisted[flightID] {
		persisted[k] = v
	}

	latest := LogEntry{
		FlightID:  flightID,
		StepIndex: 0,
		Direction: "START",
		Rerun:     false,
		Succeeded: true,
		Status:    "SUCCESS",
	}
	entries := m.logs[flightID]
	for _, e := range entries {
		if e.LogTime.After(latest.LogTime) || latest.LogID == 0 {
			latest = e
		}
	}

	return &FlightState{Flight: row, Input: input, Persisted: persisted, Latest: latest}
}

// Flights implements Journal. See the MemJournal doc comment for the
// paging limitation: WhereSQL/Args are not evaluated in memory.
func (m *MemJournal) Flights(_ context.Context, q FlightFilterQuery) ([]FlightRow, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]FlightRow, 0, len(m.flights))
	for _, row := range m.flights {
		all = append(all, *row)
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Ascending {
			return all[i].SubmitTime.Before(all[j].SubmitTime)
		}
		return all[i].SubmitTime.After(all[j].SubmitTime)
	})

	start := 0
	if q.PageToken != "" {
		cursor, err := filter.DecodePageToken(q.PageToken)
		if err == nil {
			for i, row := range all {
				if q.Ascending && row.SubmitTime.After(cursor) {
					start = i
					break
				}
				if !q.Ascending && row.SubmitTime.Before(cursor) {
					start = i
					break
				}
				start = i + 1
			}
		}
	} else if q.Offset > 0 {
		start = q.Offset
	}

	limit := q.Limit
	if limit <= 0 {
		limit = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}

	page := all[start:end]

	next := time.Now()
	if len(page) > 0 {
		next = page[len(page)-1].SubmitTime
	}
	return page, filter.EncodePageToken(next), nil
}

// Count implements Journal. WhereSQL is ignored; returns the total
// flight count (see the in-memory paging limitation above).
func (m *MemJournal) Count(_ context.Context, _ string, _ []any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.flights)), nil
}

// RegisterInstance implements Journal.
func (m *MemJournal) RegisterInstance(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.instances[name]; ok {
		return id, nil
	}
	m.instances[name] = name
	return name, nil
}

// ListInstances implements Journal.
func (m *MemJournal) ListInstances(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Journal. MemJournal holds no external resources.
func (m *MemJournal) Close() error { return nil }
