package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/crmorbit/internal/value"
)

// Clock supplies the device-local wall time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Generator stamps new events with a device-unique id and a timestamp.
//
// Ids have the form "<deviceId>-<unixMillis>-<counter>". The counter is
// monotonic for the lifetime of the generator and timestamps never move
// backwards even if the wall clock does, so ids from one device always sort
// in creation order.
//
// Thread-safety: Generator is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	deviceID string
	clock    Clock
	counter  uint64
	last     time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock replaces the wall clock, typically with a fixed clock in tests.
func WithClock(c Clock) GeneratorOption {
	return func(g *Generator) {
		g.clock = c
	}
}

// WithCounter resumes the counter, e.g. from the length of a reloaded log.
func WithCounter(n uint64) GeneratorOption {
	return func(g *Generator) {
		g.counter = n
	}
}

// NewGenerator creates a generator for deviceID. An empty deviceID gets a
// fresh UUIDv7.
func NewGenerator(deviceID string, opts ...GeneratorOption) *Generator {
	if deviceID == "" {
		deviceID = NewDeviceID()
	}
	g := &Generator{deviceID: deviceID, clock: SystemClock{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DeviceID returns the device id stamped on generated events.
func (g *Generator) DeviceID() string {
	return g.deviceID
}

// New builds an event of type t. entityID may be empty when the payload
// carries the id.
func (g *Generator) New(t Type, entityID string, payload value.Object) Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UTC()
	if now.Before(g.last) {
		now = g.last
	}
	g.last = now
	g.counter++

	if payload == nil {
		payload = value.Object{}
	}
	return Event{
		ID:        fmt.Sprintf("%s-%013d-%06d", g.deviceID, now.UnixMilli(), g.counter),
		Type:      t,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: now,
		DeviceID:  g.deviceID,
	}
}

// NewDeviceID returns a time-sortable UUIDv7 string.
func NewDeviceID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewEntityID returns a fresh UUIDv7 suitable as an entity id.
func NewEntityID() string {
	return uuid.Must(uuid.NewV7()).String()
}
