package testutil

import (
	"fmt"
	"time"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/value"
)

// Payload converts a Go map into a payload object. It panics on values
// the canonical encoding rejects, such as floats.
func Payload(m map[string]any) value.Object {
	obj, err := value.ObjectFrom(m)
	if err != nil {
		panic(fmt.Sprintf("testutil.Payload: %v", err))
	}
	return obj
}

// Event builds an event with explicit id and timestamp. The device id is
// derived from the id prefix before the first dash, or "test" if none.
func Event(id string, t event.Type, entityID string, ts time.Time, payload map[string]any) event.Event {
	device := "test"
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			device = id[:i]
			break
		}
	}
	return event.Event{
		ID:        id,
		Type:      t,
		EntityID:  entityID,
		Payload:   Payload(payload),
		Timestamp: ts.UTC(),
		DeviceID:  device,
	}
}

// Events is an event builder for one device with a deterministic clock.
type Events struct {
	Clock *StepClock
	gen   *event.Generator
}

// NewEvents returns a builder for deviceID whose clock starts at Epoch and
// advances one second per event.
func NewEvents(deviceID string) *Events {
	clock := NewClock()
	return &Events{
		Clock: clock,
		gen:   event.NewGenerator(deviceID, event.WithClock(clock)),
	}
}

// DeviceID returns the builder's device id.
func (b *Events) DeviceID() string {
	return b.gen.DeviceID()
}

// Make builds the next event.
func (b *Events) Make(t event.Type, entityID string, payload map[string]any) event.Event {
	return b.gen.New(t, entityID, Payload(payload))
}

// At builds the next event with the clock first moved to ts. The
// generator never goes backwards, so an earlier ts yields the previous
// timestamp; use Event for deliberately skewed events.
func (b *Events) At(ts time.Time, t event.Type, entityID string, payload map[string]any) event.Event {
	b.Clock.Set(ts)
	return b.Make(t, entityID, payload)
}
