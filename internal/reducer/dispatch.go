package reducer

import (
	"errors"
	"fmt"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
)

// LegacyDurationMinutes is the audit duration assumed for historical
// completion events that predate the required durationMinutes field.
const LegacyDurationMinutes int64 = 60

// Dispatcher routes events to family reducers.
//
// A Dispatcher holds only immutable configuration and is safe for
// concurrent use.
type Dispatcher struct {
	legacyDuration bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLegacyDurationDefault makes audit events without durationMinutes
// fall back to LegacyDurationMinutes instead of failing validation.
// Used when replaying logs written before the field was required.
func WithLegacyDurationDefault() Option {
	return func(d *Dispatcher) {
		d.legacyDuration = true
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDispatcher = New()

// Apply applies ev to doc using the default dispatcher.
func Apply(doc *domain.Document, ev event.Event) (*domain.Document, error) {
	return defaultDispatcher.Apply(doc, ev)
}

// ApplyAll applies events in order using the default dispatcher.
func ApplyAll(doc *domain.Document, events []event.Event) (*domain.Document, error) {
	return defaultDispatcher.ApplyAll(doc, events)
}

// Apply applies a single event. On failure it returns nil and a *Error
// annotated with the event id and type; doc is left untouched.
func (d *Dispatcher) Apply(doc *domain.Document, ev event.Event) (*domain.Document, error) {
	if doc == nil {
		doc = domain.Empty()
	}

	next, err := d.apply(doc, ev)
	if err != nil {
		return nil, annotate(err, ev)
	}
	return next, nil
}

// ApplyAll folds events left to right and stops at the first failure.
// The returned document is the state before the failing event; the error
// names the failing index.
func (d *Dispatcher) ApplyAll(doc *domain.Document, events []event.Event) (*domain.Document, error) {
	if doc == nil {
		doc = domain.Empty()
	}
	for i, ev := range events {
		next, err := d.Apply(doc, ev)
		if err != nil {
			return doc, fmt.Errorf("event %d (%s): %w", i, ev.ID, err)
		}
		doc = next
	}
	return doc, nil
}

func (d *Dispatcher) apply(doc *domain.Document, ev event.Event) (*domain.Document, error) {
	if err := ev.Validate(); err != nil {
		return nil, &Error{Code: CodeValidation, Message: err.Error()}
	}

	if !ev.Type.Known() {
		return nil, unknownEventType(ev.Type)
	}

	r := reduction{doc: doc, ev: ev, legacyDuration: d.legacyDuration}

	switch ev.Type.Family() {
	case event.FamilyOrganization:
		return r.organization()
	case event.FamilyAccount:
		return r.account()
	case event.FamilyContact:
		return r.contact()
	case event.FamilyNote:
		return r.note()
	case event.FamilyInteraction:
		return r.interaction()
	case event.FamilyAudit:
		return r.audit()
	case event.FamilyCode:
		return r.code()
	case event.FamilyRelation:
		return r.relation()
	case event.FamilySettings:
		return r.settings()
	default:
		return nil, unknownEventType(ev.Type)
	}
}

func annotate(err error, ev event.Event) error {
	var re *Error
	if !errors.As(err, &re) {
		return err
	}
	out := *re
	if out.EventID == "" {
		out.EventID = ev.ID
	}
	if out.EventType == "" {
		out.EventType = ev.Type
	}
	return &out
}
