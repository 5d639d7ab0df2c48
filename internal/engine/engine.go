package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/reducer"
	"github.com/roach88/crmorbit/internal/value"
)

// EventLog is the durable, ordered event history of a device.
// Implemented by store.Store (SQLite) and store.MemoryLog.
type EventLog interface {
	// Load returns every event in append order.
	Load(ctx context.Context) ([]event.Event, error)

	// Append adds events, skipping ids already stored, and returns how
	// many were inserted.
	Append(ctx context.Context, events []event.Event) (int, error)

	// Replace atomically swaps the whole log.
	Replace(ctx context.Context, events []event.Event) error
}

// Metrics receives engine counters. Implemented by telemetry.Metrics.
type Metrics interface {
	EventApplied(t event.Type)
	EventRejected(t event.Type, code string)
	LogSize(n int)
}

type nopMetrics struct{}

func (nopMetrics) EventApplied(event.Type)          {}
func (nopMetrics) EventRejected(event.Type, string) {}
func (nopMetrics) LogSize(int)                      {}

// state is one published snapshot. Never mutated after publication.
type state struct {
	doc    *domain.Document
	events []event.Event // replay order
	ids    map[string]struct{}
}

// Engine is the single-writer document store.
//
// Thread-safety model:
//   - Document(), Events(), Len(): lock-free, safe from any goroutine
//   - Dispatch(), Emit(), Merge(), Replace(): serialized by the write lock
type Engine struct {
	mu sync.Mutex // serializes writers

	log        EventLog
	dispatcher *reducer.Dispatcher
	logger     *slog.Logger
	metrics    Metrics
	gen        *event.Generator
	clock      event.Clock
	deviceID   string

	current atomic.Pointer[state]
	changes *notifier
	closed  atomic.Bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithDispatcher replaces the reducer dispatcher, e.g. one created with
// reducer.WithLegacyDurationDefault for old logs.
func WithDispatcher(d *reducer.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDeviceID sets the id stamped on locally emitted events.
// Default: a fresh UUIDv7.
func WithDeviceID(id string) Option {
	return func(e *Engine) {
		e.deviceID = id
	}
}

// WithClock sets the clock used by Emit.
func WithClock(c event.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// Open loads log, replays it and returns a ready engine.
//
// Replay is lenient: events the reducers reject are kept in the log and
// logged at warn level.
func Open(ctx context.Context, log EventLog, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:        log,
		dispatcher: reducer.New(),
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		clock:      event.SystemClock{},
		changes:    newNotifier(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deviceID == "" {
		e.deviceID = event.NewDeviceID()
	}

	events, err := log.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	res := merge.Merge(e.dispatcher, nil, events)
	e.logMerge("replay", res)
	e.publish(res.Document, res.Events)

	e.gen = event.NewGenerator(e.deviceID,
		event.WithClock(e.clock),
		event.WithCounter(uint64(countFrom(res.Events, e.deviceID))),
	)

	e.logger.Info("engine opened",
		"device_id", e.deviceID,
		"events", len(res.Events),
		"rejected", len(res.Rejections),
	)
	return e, nil
}

// Close marks the engine closed, releases subscribers and closes the log
// if it implements io.Closer.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes.close()
	if c, ok := e.log.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// DeviceID returns the local device id.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Document returns the current document.
func (e *Engine) Document() *domain.Document {
	return e.current.Load().doc
}

// Events returns a copy of the log in replay order.
func (e *Engine) Events() []event.Event {
	s := e.current.Load()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of events in the log.
func (e *Engine) Len() int {
	return len(e.current.Load().events)
}

// Changes returns a channel signaled after each published change and a
// cancel func that unsubscribes. Signals coalesce.
func (e *Engine) Changes() (<-chan struct{}, func()) {
	return e.changes.subscribe()
}

// Emit builds a local event stamped with the device id and clock, then
// dispatches it.
func (e *Engine) Emit(ctx context.Context, t event.Type, entityID string, payload value.Object) (event.Event, error) {
	ev := e.gen.New(t, entityID, payload)
	if _, err := e.Dispatch(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// Dispatch applies ev and appends it to the log. Reducer errors are
// returned unchanged (see reducer.Error) and nothing is written.
func (e *Engine) Dispatch(ctx context.Context, ev event.Event) (*domain.Document, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	if _, dup := cur.ids[ev.ID]; dup {
		return nil, fmt.Errorf("dispatch %q: %w", ev.ID, ErrDuplicateEvent)
	}

	doc, events, err := e.applyOrdered(cur, ev)
	if err != nil {
		e.metrics.EventRejected(ev.Type, string(reducer.CodeOf(err)))
		return nil, err
	}

	if _, err := e.log.Append(ctx, []event.Event{ev}); err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", ev.ID, err)
	}
	e.metrics.EventApplied(ev.Type)
	e.publish(doc, events)

	e.logger.Debug("event dispatched",
		"event_id", ev.ID,
		"type", ev.Type,
		"entity_id", ev.EntityID,
	)
	return doc, nil
}

// applyOrdered applies ev on top of cur, replaying when ev sorts before
// the current head.
func (e *Engine) applyOrdered(cur *state, ev event.Event) (*domain.Document, []event.Event, error) {
	n := len(cur.events)
	if n == 0 || event.Compare(cur.events[n-1], ev) < 0 {
		doc, err := e.dispatcher.Apply(cur.doc, ev)
		if err != nil {
			return nil, nil, err
		}
		events := make([]event.Event, n, n+1)
		copy(events, cur.events)
		return doc, append(events, ev), nil
	}

	res := merge.Merge(e.dispatcher, cur.events, []event.Event{ev})
	for _, rej := range res.Rejections {
		if rej.Event.ID == ev.ID {
			return nil, nil, rej.Err
		}
	}
	for _, rej := range res.Invalid {
		if rej.Event.ID == ev.ID {
			return nil, nil, &reducer.Error{Code: reducer.CodeValidation, Message: rej.Err.Error(), EventID: ev.ID, EventType: ev.Type}
		}
	}
	if err := invalidates(e.dispatcher, cur.events, ev, res.Rejections); err != nil {
		return nil, nil, err
	}
	return res.Document, res.Events, nil
}

// invalidates fails when inserting ev makes the replay reject events of
// log that applied before it. Dispatch never discards logged history.
func invalidates(d *reducer.Dispatcher, log []event.Event, ev event.Event, after []merge.Rejection) error {
	if len(after) == 0 {
		return nil
	}
	before := map[string]struct{}{}
	for _, rej := range merge.Replay(d, log).Rejections {
		before[rej.Event.ID] = struct{}{}
	}

	var blocked []string
	for _, rej := range after {
		if _, ok := before[rej.Event.ID]; !ok {
			blocked = append(blocked, "event:"+rej.Event.ID)
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	return &reducer.Error{
		Code:      reducer.CodeDependencyExists,
		Message:   fmt.Sprintf("%s would invalidate %d later event(s)", ev.Type, len(blocked)),
		EventID:   ev.ID,
		EventType: ev.Type,
		EntityID:  ev.EntityID,
		Details:   blocked,
	}
}

// Merge folds remote into the log and republishes the replayed document.
// Only events new to this device are appended, unless a conflicting remote
// copy displaced a local event, in which case the log is rewritten.
func (e *Engine) Merge(ctx context.Context, remote []event.Event) (merge.Result, error) {
	if e.closed.Load() {
		return merge.Result{}, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	res := merge.Merge(e.dispatcher, cur.events, remote)
	if res.Added == 0 && res.Displaced == 0 {
		e.logMerge("merge", res)
		return res, nil
	}

	if res.Displaced > 0 {
		if err := e.log.Replace(ctx, res.Events); err != nil {
			return merge.Result{}, fmt.Errorf("merge: %w", err)
		}
		e.publish(res.Document, res.Events)
		e.logMerge("merge", res)
		return res, nil
	}

	fresh := make([]event.Event, 0, res.Added)
	for _, ev := range res.Events {
		if _, ok := cur.ids[ev.ID]; !ok {
			fresh = append(fresh, ev)
		}
	}
	if _, err := e.log.Append(ctx, fresh); err != nil {
		return merge.Result{}, fmt.Errorf("merge: %w", err)
	}
	e.publish(res.Document, res.Events)
	e.logMerge("merge", res)
	return res, nil
}

// Replace swaps the whole log for events, e.g. when restoring a backup.
func (e *Engine) Replace(ctx context.Context, events []event.Event) (merge.Result, error) {
	if e.closed.Load() {
		return merge.Result{}, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res := merge.Merge(e.dispatcher, nil, events)
	if err := e.log.Replace(ctx, res.Events); err != nil {
		return merge.Result{}, fmt.Errorf("replace: %w", err)
	}
	e.publish(res.Document, res.Events)
	e.logMerge("replace", res)
	return res, nil
}

// publish stores a new snapshot and signals subscribers.
// Callers hold e.mu, except Open which runs before the engine is shared.
func (e *Engine) publish(doc *domain.Document, events []event.Event) {
	ids := make(map[string]struct{}, len(events))
	for _, ev := range events {
		ids[ev.ID] = struct{}{}
	}
	e.current.Store(&state{doc: doc, events: events, ids: ids})
	e.metrics.LogSize(len(events))
	e.changes.notify()
}

func (e *Engine) logMerge(op string, res merge.Result) {
	for _, rej := range res.Rejections {
		e.metrics.EventRejected(rej.Event.Type, string(reducer.CodeOf(rej.Err)))
		e.logger.Warn("event rejected",
			"op", op,
			"event_id", rej.Event.ID,
			"type", rej.Event.Type,
			"code", reducer.CodeOf(rej.Err),
			"error", rej.Err,
		)
	}
	for _, c := range res.Conflicts {
		e.logger.Warn("conflicting duplicate event id",
			"op", op,
			"event_id", c.ID,
			"kept_device", c.Kept.DeviceID,
			"dropped_device", c.Dropped.DeviceID,
		)
	}
	for _, inv := range res.Invalid {
		e.logger.Warn("malformed event dropped", "op", op, "event_id", inv.Event.ID, "error", inv.Err)
	}
	if op != "replay" {
		e.logger.Info(op+" complete",
			"device_id", e.deviceID,
			"added", res.Added,
			"events", len(res.Events),
			"rejected", len(res.Rejections),
		)
	}
}

// countFrom counts events whose id carries the device prefix, used to
// resume the generator counter after restart.
func countFrom(events []event.Event, deviceID string) int {
	n := 0
	prefix := deviceID + "-"
	for _, ev := range events {
		if ev.DeviceID == deviceID && strings.HasPrefix(ev.ID, prefix) {
			n++
		}
	}
	return n
}
