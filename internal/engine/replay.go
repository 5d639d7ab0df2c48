package engine

import (
	"context"
	"fmt"

	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/reducer"
)

// ReplayReport summarizes a verification replay.
type ReplayReport struct {
	Events   int
	Rejected []merge.Rejection
	Hash     string
}

// VerifyReplay loads log, replays it twice from the empty document and
// checks both runs hash to the same document.
//
// Replay is deterministic by construction: events are sorted by
// (timestamp, id) and reducers read nothing but the document and the
// event. A mismatch therefore means a reducer broke that contract.
func VerifyReplay(ctx context.Context, log EventLog, d *reducer.Dispatcher) (ReplayReport, error) {
	events, err := log.Load(ctx)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("verify replay: %w", err)
	}

	first := merge.Replay(d, events)
	second := merge.Replay(d, events)

	h1, err := first.Document.Hash()
	if err != nil {
		return ReplayReport{}, fmt.Errorf("verify replay: hash: %w", err)
	}
	h2, err := second.Document.Hash()
	if err != nil {
		return ReplayReport{}, fmt.Errorf("verify replay: hash: %w", err)
	}

	report := ReplayReport{Events: len(first.Events), Rejected: first.Rejections, Hash: h1}
	if h1 != h2 {
		return report, fmt.Errorf("%w: %s != %s", ErrReplayMismatch, h1, h2)
	}
	return report, nil
}
