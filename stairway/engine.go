package stairway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/stairway/stairway/journal"
	"github.com/sirupsen/logrus"
)

// noPullSleep is how long the queue listener idles when admission is
// full, and maxMessagesPerPull bounds each dispatch call deliberately
// small so the admission estimate it was computed against cannot go
// stale by a large margin before the messages are actually pulled
// (spec.md §4.6).
const (
	noPullSleep        = 5 * time.Second
	maxMessagesPerPull = 2
)

// Engine is the Stairway façade (spec.md §2 C8, §4.8): the worker
// pool, admission control, submission/resume/shutdown lifecycle, and
// recovery orchestration tying together the journal, the hook
// wrapper, and the optional cluster work queue. Built the same way
// the teacher structures Engine[S] (graph/engine.go): a mutex-guarded
// struct configured via functional options, fronting a worker pool
// generalized here from DAG-node dispatch to flight dispatch.
type Engine struct {
	opts Options

	journal journal.Journal
	queue   QueueTransport
	hooks   *HookWrapper
	metrics *PrometheusMetrics
	runner  *runner
	reg     *registry

	pool *workerPool

	quieting atomic.Bool

	mu            sync.Mutex
	initialized   bool
	listenerCtx   context.Context
	listenerStop  context.CancelFunc
	listenerDone  chan struct{}
	sweeperStop   context.CancelFunc
	sweeperDone   chan struct{}
	bgCtx         context.Context
}

// New constructs an Engine (spec.md §4.8 "Phase 1 — construct: no
// I/O"). Register flight factories with RegisterFlightFactory before
// calling Initialize.
func New(opts ...Option) (*Engine, error) {
	o, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		opts:    o,
		hooks:   NewHookWrapper(o.Hooks),
		metrics: o.Metrics,
		reg:     newRegistry(),
	}
	return e, nil
}

// RegisterFlightFactory registers the factory used to reconstruct
// flights of className, both at submission time and at recovery time
// (spec.md §6 "Flight factory contract").
func (e *Engine) RegisterFlightFactory(className string, factory FlightFactory) error {
	return e.reg.register(className, factory)
}

// Initialize is Phase 2 (spec.md §4.8): wires the journal and
// optional queue transport, applies forceClean if requested, opens the
// worker pool, schedules the optional retention sweeper, and returns
// the list of instance names the journal already knows about (before
// this instance registers itself), so the caller can diff against its
// own notion of live peers.
//
// Initialize runs no schema migration: the SQL journal constructors in
// package journal apply their migrations when they open the database.
// forceClean resets the journal only when j has a
// Reset(context.Context) error method, which none of the journals in
// package journal has, and purges q when q is non-nil.
func (e *Engine) Initialize(ctx context.Context, j journal.Journal, q QueueTransport, forceClean bool) ([]string, error) {
	if e.quieting.Load() {
		return nil, ErrQuietingDown
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil, fmt.Errorf("stairway: engine already initialized")
	}

	if forceClean {
		if r, ok := j.(interface{ Reset(context.Context) error }); ok {
			if err := r.Reset(ctx); err != nil {
				return nil, fmt.Errorf("stairway: force-clean journal: %w", err)
			}
		}
		if q != nil {
			if err := q.Purge(ctx); err != nil {
				return nil, fmt.Errorf("stairway: purge queue: %w", err)
			}
		}
	}

	names, err := j.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("stairway: list instances: %w", err)
	}

	e.journal = j
	e.queue = q
	e.runner = newRunner(j, e.hooks, e.metrics, e.opts.ExceptionCodec, e.quieting.Load)
	e.pool = newWorkerPool(e.opts.MaxParallelFlights)
	e.bgCtx = context.Background()
	e.initialized = true

	if e.opts.CompletedFlightRetention > 0 {
		e.startRetentionSweeper()
	}

	return names, nil
}

// RecoverAndStart is Phase 3 (spec.md §4.8): disowns every flight
// owned by an obsolete instance, registers this instance, resumes or
// re-queues every READY flight, and starts the queue listener.
func (e *Engine) RecoverAndStart(ctx context.Context, obsoleteInstanceNames []string) error {
	if !e.initialized {
		return fmt.Errorf("stairway: Initialize must be called before RecoverAndStart")
	}

	for _, old := range obsoleteInstanceNames {
		if err := e.journal.DisownRecovery(ctx, old); err != nil {
			return fmt.Errorf("stairway: disown recovery for %q: %w", old, err)
		}
	}

	if _, err := e.journal.RegisterInstance(ctx, e.opts.InstanceName); err != nil {
		return fmt.Errorf("stairway: register instance: %w", err)
	}

	ready, err := e.journal.ReadyFlights(ctx)
	if err != nil {
		return fmt.Errorf("stairway: list ready flights: %w", err)
	}
	for _, flightID := range ready {
		if e.queue != nil {
			if err := e.enqueueReady(ctx, flightID); err != nil {
				return fmt.Errorf("stairway: re-enqueue ready flight %q: %w", flightID, err)
			}
			continue
		}
		if _, _, err := e.Resume(ctx, flightID); err != nil {
			return fmt.Errorf("stairway: resume ready flight %q: %w", flightID, err)
		}
	}

	if e.queue != nil {
		e.startListener()
	}
	return nil
}

// hasLocalSpace implements the admission predicate shared by Submit
// and the queue listener (spec.md §5): room exists if active runners
// are below the parallel cap, or the local backlog is below the
// queued-flight cap.
func (e *Engine) hasLocalSpace() bool {
	return e.pool.active() < e.opts.MaxParallelFlights || e.pool.backlog() < e.opts.MaxQueuedFlights
}

// Submit registers and launches a new flight (spec.md §4.8
// "Submission"). inputs is encoded through the engine's ObjectCodec
// into the input parameter map, sealed once, and handed to the
// registered FlightFactory for className. If the queue is enabled and
// either shouldQueue is true or no local space is available, the
// flight is deflected to the cluster queue via the READY-then-QUEUED
// two-step (spec.md §4.8's "key correctness trick"); otherwise it
// launches directly on the local worker pool.
func (e *Engine) Submit(ctx context.Context, flightID, className string, inputs map[string]any, shouldQueue bool, debug *FlightDebugInfo) error {
	if e.quieting.Load() {
		return ErrQuietingDown
	}

	inputMap := NewParamMap(e.opts.ObjectCodec)
	for k, v := range inputs {
		if err := PutParam(inputMap, k, v); err != nil {
			return fmt.Errorf("stairway: encode input %q: %w", k, err)
		}
	}
	inputMap.Seal()

	flight, err := e.reg.build(ctx, className, inputMap)
	if err != nil {
		return err
	}

	deflect := e.queue != nil && (shouldQueue || !e.hasLocalSpace())

	debugStr, err := encodeDebugInfo(e.opts.ObjectCodec, debug)
	if err != nil {
		return fmt.Errorf("stairway: encode debug info: %w", err)
	}

	row := journal.FlightRow{
		FlightID:   flightID,
		ClassName:  className,
		SubmitTime: time.Now(),
		DebugInfo:  debugStr,
	}
	if deflect {
		row.Status = string(FlightReady)
	} else {
		row.Status = string(FlightRunning)
		row.OwnerID = e.opts.InstanceName
	}

	if err := e.journal.Create(ctx, row, inputMap.Snapshot()); err != nil {
		if errors.Is(err, journal.ErrDuplicateFlightID) {
			return ErrDuplicateFlightID
		}
		return fmt.Errorf("stairway: create flight %q: %w", flightID, err)
	}

	if deflect {
		e.metrics.incBackpressure(deflectReason(shouldQueue))
		if err := e.enqueueReady(ctx, flightID); err != nil {
			return fmt.Errorf("stairway: enqueue ready flight %q: %w", flightID, err)
		}
		if err := e.journal.Exit(ctx, flightID, string(FlightQueued), ""); err != nil {
			return fmt.Errorf("stairway: mark flight %q queued: %w", flightID, err)
		}
		return nil
	}

	fc := e.newFlightContext(flightID, className, flight, inputMap, debug)
	e.launch(fc)
	return nil
}

func deflectReason(shouldQueue bool) string {
	if shouldQueue {
		return "requested"
	}
	return "no_local_space"
}

// enqueueReady encodes and publishes a READY(flightID) message (spec.md
// §4.6).
func (e *Engine) enqueueReady(ctx context.Context, flightID string) error {
	msg, err := encodeReadyMessage(flightID)
	if err != nil {
		return err
	}
	return e.queue.Enqueue(ctx, msg)
}

// Resume attempts to take ownership of flightID and, if successful,
// launches it on the local worker pool (spec.md §4.8 "Resume"). ok
// reports whether this instance actually took the flight. If
// ownership is claimed but the flight cannot be reconstructed (an
// unregistered or misbehaving factory), the flight is marked FATAL
// rather than left stuck RUNNING with no runner driving it.
func (e *Engine) Resume(ctx context.Context, flightID string) (ok bool, resumedOwner bool, err error) {
	state, claimed, err := e.journal.Resume(ctx, e.opts.InstanceName, flightID)
	if err != nil {
		return false, false, fmt.Errorf("stairway: resume flight %q: %w", flightID, err)
	}
	if !claimed {
		return false, false, nil
	}

	flight, err := e.reg.build(ctx, state.Flight.ClassName, NewSealedParamMap(e.opts.ObjectCodec, state.Input))
	if err != nil {
		e.abandonUnresumable(ctx, flightID, err)
		return false, true, err
	}

	debug, err := decodeDebugInfo(e.opts.ObjectCodec, state.Flight.DebugInfo)
	if err != nil {
		err = fmt.Errorf("stairway: decode debug info for %q: %w", flightID, err)
		e.abandonUnresumable(ctx, flightID, err)
		return false, true, err
	}

	fc := e.resumedFlightContext(state, flight, debug)
	e.launch(fc)
	return true, true, nil
}

// abandonUnresumable marks a claimed-but-unreconstructable flight
// FATAL so it does not stay wedged RUNNING forever with no runner
// ever assigned to it.
func (e *Engine) abandonUnresumable(ctx context.Context, flightID string, cause error) {
	serialized, _ := e.opts.ExceptionCodec.EncodeError(cause)
	_ = e.journal.Exit(ctx, flightID, string(FlightFatal), serialized)
	e.metrics.incCompleted(FlightFatal)
}

// newFlightContext builds the in-memory context for a brand-new
// flight (spec.md §4.1 reconstruction contract's "no log entry
// exists" branch, applied directly rather than via the journal since
// there is nothing to reconstruct yet).
func (e *Engine) newFlightContext(flightID, className string, flight *Flight, inputMap *ParamMap, debug *FlightDebugInfo) *FlightContext {
	fc := &FlightContext{
		FlightID:   flightID,
		ClassName:  className,
		Input:      inputMap,
		Working:    NewParamMap(e.opts.ObjectCodec),
		Persisted:  NewParamMap(e.opts.ObjectCodec),
		StepIndex:  0,
		Direction:  DirectionStart,
		Status:     FlightRunning,
		SubmitTime: time.Now(),
		steps:      flight.steps,
		debug:      newDebugInjector(debug),
	}
	fc.persistFlush = e.flushPersisted(fc)
	return fc
}

// resumedFlightContext rebuilds a FlightContext from the journal's
// reconstructed state (spec.md §4.1 reconstruction contract): the
// sealed input map, the persisted map, and the log entry with maximal
// log_time (or the synthesized START entry when none exists).
func (e *Engine) resumedFlightContext(state *journal.FlightState, flight *Flight, debug *FlightDebugInfo) *FlightContext {
	working := NewParamMap(e.opts.ObjectCodec)
	for k, v := range state.Latest.WorkingSnapshot {
		_ = working.PutRaw(k, v)
	}
	persisted := NewParamMap(e.opts.ObjectCodec)
	for k, v := range state.Persisted {
		_ = persisted.PutRaw(k, v)
	}

	fc := &FlightContext{
		FlightID:   state.Flight.FlightID,
		ClassName:  state.Flight.ClassName,
		Input:      NewSealedParamMap(e.opts.ObjectCodec, state.Input),
		Working:    working,
		Persisted:  persisted,
		StepIndex:  state.Latest.StepIndex,
		Direction:  Direction(state.Latest.Direction),
		Rerun:      state.Latest.Rerun,
		Status:     FlightRunning,
		SubmitTime: state.Flight.SubmitTime,
		steps:      flight.steps,
		debug:      newDebugInjector(debug),
	}
	fc.persistFlush = e.flushPersisted(fc)
	return fc
}

// flushPersisted returns the callback SetProgress uses to flush the
// persisted map to the journal independently of step logging (spec.md
// §4.3).
func (e *Engine) flushPersisted(fc *FlightContext) func(*FlightContext) error {
	return func(fc *FlightContext) error {
		return e.journal.StorePersistedState(e.bgCtx, fc.FlightID, fc.Persisted.Snapshot())
	}
}

// launch submits fc to the worker pool; the task runs the flight to
// completion via the runner and records diagnostic-context
// propagation (spec.md §4.8 "Propagating diagnostic context").
func (e *Engine) launch(fc *FlightContext) {
	dm := augmentForFlight(captureDiagnostics(e.bgCtx), fc.FlightID, fc.ClassName)
	e.metrics.setActiveFlights(e.pool.active() + 1)
	e.pool.submit(e.bgCtx, fc.FlightID, func(taskCtx context.Context) {
		taskCtx = withDiagnostics(taskCtx, dm)
		e.runner.run(taskCtx, fc)
		e.metrics.setActiveFlights(e.pool.active())
		e.metrics.setQueuedFlights(e.pool.backlog())
	})
	e.metrics.setQueuedFlights(e.pool.backlog())
}

// startListener runs the background queue-listener task described in
// spec.md §4.6: while not quieting, pull READY messages when there is
// admission room, otherwise sleep.
func (e *Engine) startListener() {
	ctx, cancel := context.WithCancel(e.bgCtx)
	e.listenerCtx = ctx
	e.listenerStop = cancel
	e.listenerDone = make(chan struct{})

	go func() {
		defer close(e.listenerDone)
		for {
			if ctx.Err() != nil || e.quieting.Load() {
				return
			}
			if !e.hasLocalSpace() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(noPullSleep):
				}
				continue
			}
			if err := e.queue.Dispatch(ctx, maxMessagesPerPull, e.processQueueMessage); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(noPullSleep):
				}
			}
		}
	}()
}

// processQueueMessage handles one READY message pulled from the
// cluster queue (spec.md §4.6 "Processing a READY message"). Both a
// successful resume and a flight already taken by another instance
// acknowledge the message; only a storage error leaves it for
// redelivery.
func (e *Engine) processQueueMessage(ctx context.Context, msg string) (bool, error) {
	flightID, ok, err := decodeReadyMessage(msg)
	if err != nil {
		// Malformed envelope: logged and dropped (spec.md §4.6 "unknown
		// types or versions are logged and dropped"), but since this is
		// genuinely unparseable rather than merely unrecognised, ack it
		// so it cannot wedge the queue.
		logrus.WithError(err).Warn("stairway: dropping malformed queue message")
		return true, nil
	}
	if !ok {
		logrus.Warn("stairway: dropping queue message of unknown type or version")
		return true, nil
	}
	_, _, err = e.Resume(ctx, flightID)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) startRetentionSweeper() {
	ctx, cancel := context.WithCancel(e.bgCtx)
	e.sweeperStop = cancel
	e.sweeperDone = make(chan struct{})
	interval := e.opts.RetentionCheckInterval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		defer close(e.sweeperDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-e.opts.CompletedFlightRetention)
				_, _ = e.journal.DeleteCompleted(ctx, cutoff)
			}
		}
	}()
}

// QuietDown begins a graceful shutdown (spec.md §4.8): sets the
// quieting flag (observed by runners at the next step boundary, which
// then return STOP and disown to READY), stops the queue listener,
// stops accepting new pool submissions, and waits up to timeout for
// the pool to drain.
func (e *Engine) QuietDown(timeout time.Duration) error {
	e.quieting.Store(true)

	listenerBudget := timeout / 10
	if listenerBudget <= 0 {
		listenerBudget = time.Second
	}
	e.stopListener(listenerBudget)
	e.stopSweeper()

	if e.pool != nil {
		e.pool.closeGraceful(timeout)
	}
	return nil
}

// Terminate forces an immediate shutdown (spec.md §4.8): sets the
// quieting flag, kills the listener, cancels every inflight pool task
// (interrupting its runner, which disowns to READY), and marks the
// flights of every task that never began executing READY directly.
func (e *Engine) Terminate(ctx context.Context, timeout time.Duration) error {
	e.quieting.Store(true)
	e.stopListener(0)
	e.stopSweeper()

	if e.pool == nil {
		return nil
	}
	neverStarted := e.pool.closeForced()

	done := make(chan struct{})
	go func() { e.pool.wg.Wait(); close(done) }()
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}

	var firstErr error
	for _, flightID := range neverStarted {
		if err := e.journal.Exit(ctx, flightID, string(FlightReady), ""); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stairway: mark never-started flight %q ready: %w", flightID, err)
		}
	}
	return firstErr
}

func (e *Engine) stopListener(grace time.Duration) {
	if e.listenerStop == nil {
		return
	}
	e.listenerStop()
	if e.listenerDone != nil {
		if grace > 0 {
			select {
			case <-e.listenerDone:
			case <-time.After(grace):
			}
		} else {
			<-e.listenerDone
		}
	}
	e.listenerStop = nil
}

func (e *Engine) stopSweeper() {
	if e.sweeperStop == nil {
		return
	}
	e.sweeperStop()
	if e.sweeperDone != nil {
		<-e.sweeperDone
	}
	e.sweeperStop = nil
}

// GetFlightState returns the current reconstructed state of flightID
// (spec.md §4.1 getFlightState read path).
func (e *Engine) GetFlightState(ctx context.Context, flightID string) (*journal.FlightState, error) {
	return e.journal.FlightState(ctx, flightID)
}

// DeleteFlight removes flightID and all of its child rows. A no-op if
// flightID does not exist (spec.md §8 idempotence).
func (e *Engine) DeleteFlight(ctx context.Context, flightID string) error {
	return e.journal.Delete(ctx, flightID)
}
