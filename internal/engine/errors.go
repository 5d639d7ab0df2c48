package engine

import "errors"

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrDuplicateEvent is returned by Dispatch for an id already in the log.
	ErrDuplicateEvent = errors.New("event id already in log")

	// ErrReplayMismatch is returned by VerifyReplay when two replays of the
	// same log produce different documents.
	ErrReplayMismatch = errors.New("replay produced different documents")
)
