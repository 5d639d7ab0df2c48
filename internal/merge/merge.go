// Package merge combines event histories from two devices.
//
// Merge is a set union by event id followed by a deterministic replay:
// the union is sorted by (timestamp, id) and folded through the reducers
// from the empty document. Events a reducer rejects stay in the merged log
// so that every device keeps the same event set, but contribute nothing to
// the document. Two devices that merge the same histories therefore reach
// byte-identical documents regardless of which one performed the merge.
package merge

import (
	"bytes"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/reducer"
)

// Rejection records an event that failed its reducer check during replay.
type Rejection struct {
	Event event.Event
	Err   error
}

// Conflict records two events that share an id but differ in content.
// Kept is the copy with the lower digest; Dropped never enters the merged
// log. Both sides of a merge keep the same copy.
type Conflict struct {
	ID      string
	Kept    event.Event
	Dropped event.Event
}

// Result is the outcome of a merge or replay.
type Result struct {
	// Document is the state after replaying Events.
	Document *domain.Document

	// Events is the merged log in replay order.
	Events []event.Event

	// Rejections lists events in Events that a reducer refused.
	Rejections []Rejection

	// Conflicts lists id collisions found while forming the union.
	Conflicts []Conflict

	// Invalid lists events dropped from the union because their envelope
	// was malformed (no id, type, device or timestamp).
	Invalid []Rejection

	// Added counts remote events that were not already in the local log.
	Added int

	// Displaced counts local events replaced by a conflicting remote copy.
	// The local log must be rewritten when it is non-zero.
	Displaced int
}

// Merge unions local and remote, sorts and replays them.
// A nil dispatcher uses the reducer package default.
func Merge(d *reducer.Dispatcher, local, remote []event.Event) Result {
	u := union(local, remote)
	res := Replay(d, u.events)
	res.Conflicts = u.conflicts
	res.Invalid = u.invalid
	res.Added = u.added
	res.Displaced = u.displaced
	return res
}

// Replay sorts events by (timestamp, id) and folds them from the empty
// document, skipping events the reducers reject.
func Replay(d *reducer.Dispatcher, events []event.Event) Result {
	if d == nil {
		d = reducer.New()
	}
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	event.Sort(ordered)

	doc := domain.Empty()
	var rejections []Rejection
	for _, ev := range ordered {
		next, err := d.Apply(doc, ev)
		if err != nil {
			rejections = append(rejections, Rejection{Event: ev, Err: err})
			continue
		}
		doc = next
	}
	return Result{Document: doc, Events: ordered, Rejections: rejections}
}

type unionResult struct {
	events    []event.Event
	conflicts []Conflict
	invalid   []Rejection
	added     int
	displaced int
}

// union dedupes by id. Among copies of an id with different content the
// lowest digest wins, so the result does not depend on argument order.
func union(local, remote []event.Event) unionResult {
	var u unionResult
	seen := make(map[string]int, len(local)+len(remote))
	remoteAt := make(map[int]bool)

	add := func(ev event.Event, fromRemote bool) {
		if err := ev.Validate(); err != nil {
			u.invalid = append(u.invalid, Rejection{Event: ev, Err: err})
			return
		}
		if i, ok := seen[ev.ID]; ok {
			prev := u.events[i]
			if sameContent(prev, ev) {
				return
			}
			if !lowerDigest(ev, prev) {
				u.conflicts = append(u.conflicts, Conflict{ID: ev.ID, Kept: prev, Dropped: ev})
				return
			}
			u.conflicts = append(u.conflicts, Conflict{ID: ev.ID, Kept: ev, Dropped: prev})
			u.events[i] = ev
			if fromRemote && !remoteAt[i] {
				u.displaced++
				remoteAt[i] = true
			}
			return
		}
		seen[ev.ID] = len(u.events)
		remoteAt[len(u.events)] = fromRemote
		u.events = append(u.events, ev)
		if fromRemote {
			u.added++
		}
	}
	for _, ev := range local {
		add(ev, false)
	}
	for _, ev := range remote {
		add(ev, true)
	}
	return u
}

// lowerDigest reports whether a sorts before b by canonical digest. An
// event that cannot be hashed never wins.
func lowerDigest(a, b event.Event) bool {
	da, errA := a.Digest()
	if errA != nil {
		return false
	}
	db, errB := b.Digest()
	if errB != nil {
		return true
	}
	return da < db
}

func sameContent(a, b event.Event) bool {
	ca, errA := a.Canonical()
	cb, errB := b.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
