package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/crmorbit/internal/engine"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/reducer"
	"github.com/roach88/crmorbit/internal/store"
	"github.com/roach88/crmorbit/internal/testutil"
	"github.com/roach88/crmorbit/internal/value"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step outcome and assertion matched.
	Pass bool

	// Trace holds one line per step followed by one final line per device.
	Trace []string

	// Errors lists mismatches. Empty if Pass is true.
	Errors []string

	// Hashes maps device id to its final document hash.
	Hashes map[string]string
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
		Hashes: map[string]string{},
	}
}

// AddError records a mismatch and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

func (r *Result) trace(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}

// Harness holds the devices of one scenario run.
type Harness struct {
	clock   *testutil.StepClock
	devices map[string]*engine.Engine
	order   []string
	logger  *slog.Logger
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger     *slog.Logger
	dispatcher *reducer.Dispatcher
}

// WithLogger routes engine logs. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// WithDispatcher sets the dispatcher shared by all devices.
func WithDispatcher(d *reducer.Dispatcher) Option {
	return func(o *runOptions) {
		o.dispatcher = d
	}
}

// Run executes a scenario on fresh in-memory devices and evaluates its
// assertions. Step and assertion mismatches are reported in the Result;
// the returned error is reserved for failures unrelated to the scenario's
// expectations, such as a device failing to open.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatcher: reducer.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		clock:   testutil.NewClock(),
		devices: make(map[string]*engine.Engine, len(scenario.Devices)),
		order:   scenario.Devices,
		logger:  o.logger,
	}
	defer h.close()

	for _, id := range scenario.Devices {
		eng, err := engine.Open(ctx, store.NewMemoryLog(),
			engine.WithDeviceID(id),
			engine.WithClock(h.clock),
			engine.WithDispatcher(o.dispatcher),
			engine.WithLogger(o.logger.With("device_id", id)),
		)
		if err != nil {
			return nil, fmt.Errorf("open device %s: %w", id, err)
		}
		h.devices[id] = eng
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, id := range h.order {
		eng := h.devices[id]
		hash, err := eng.Document().Hash()
		if err != nil {
			return nil, fmt.Errorf("hash device %s: %w", id, err)
		}
		result.Hashes[id] = hash
		result.trace("final %s events=%d", id, eng.Len())
	}

	if err := evaluateAssertions(h, scenario.Assertions, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	if len(step.Sync) > 0 {
		return h.sync(ctx, step.Sync[0], step.Sync[1], result)
	}

	device := step.Device
	if device == "" {
		device = h.order[0]
	}
	offset, ok, err := step.Offset()
	if err != nil {
		return err
	}
	if ok {
		h.clock.Set(testutil.Epoch.Add(offset))
	}
	payload, err := value.ObjectFrom(step.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	got := ExpectOK
	if _, err := h.devices[device].Emit(ctx, event.Type(step.Emit), step.Entity, payload); err != nil {
		code := reducer.CodeOf(err)
		if code == "" {
			return err
		}
		got = string(code)
	}

	entity := step.Entity
	if entity == "" {
		entity = "-"
	}
	result.trace("%s %s %s %s", device, step.Emit, entity, got)
	if want := step.Outcome(); got != want {
		result.AddError("steps[%d]: %s %s: expected %s, got %s", i, step.Emit, entity, want, got)
	}
	return nil
}

// sync merges b's log into a and then a's log into b.
func (h *Harness) sync(ctx context.Context, a, b string, result *Result) error {
	left, right := h.devices[a], h.devices[b]
	toLeft, err := left.Merge(ctx, right.Events())
	if err != nil {
		return fmt.Errorf("merge into %s: %w", a, err)
	}
	toRight, err := right.Merge(ctx, left.Events())
	if err != nil {
		return fmt.Errorf("merge into %s: %w", b, err)
	}
	result.trace("sync %s %s: %s+%d %s+%d", a, b, a, toLeft.Added, b, toRight.Added)
	return nil
}

func (h *Harness) close() {
	var errs []error
	for _, eng := range h.devices {
		errs = append(errs, eng.Close())
	}
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("close devices", "error", err)
	}
}
