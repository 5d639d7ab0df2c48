package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/engine"
	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/reducer"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// RejectedEvent is an event the reducers refused during replay.
type RejectedEvent struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReplayResult holds the replay verification outcome.
type ReplayResult struct {
	Events        int             `json:"events"`
	Rejected      []RejectedEvent `json:"rejected"`
	Hash          string          `json:"hash"`
	Deterministic bool            `json:"deterministic"`
}

func (r ReplayResult) renderText(w io.Writer, verbose bool) {
	status := "DETERMINISTIC"
	if !r.Deterministic {
		status = "NON-DETERMINISTIC"
	}
	fmt.Fprintf(w, "Replayed %d events: %s\n", r.Events, status)
	fmt.Fprintf(w, "Document hash: %s\n", r.Hash)
	if len(r.Rejected) == 0 {
		return
	}
	fmt.Fprintf(w, "Rejected: %d\n", len(r.Rejected))
	if verbose {
		for _, rej := range r.Rejected {
			fmt.Fprintf(w, "  %s %s %s: %s\n", rej.EventID, rej.Type, rej.Code, rej.Message)
		}
	}
}

func rejectedEvents(rs []merge.Rejection) []RejectedEvent {
	out := make([]RejectedEvent, 0, len(rs))
	for _, r := range rs {
		rej := RejectedEvent{
			EventID: r.Event.ID,
			Type:    string(r.Event.Type),
			Code:    string(reducer.CodeOf(r.Err)),
			Message: r.Err.Error(),
		}
		var rerr *reducer.Error
		if errors.As(r.Err, &rerr) && rerr.Message != "" {
			rej.Message = rerr.Message
		}
		out = append(out, rej)
	}
	return out
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay event log and verify determinism",
		Long: `Replay the event log to verify determinism.

This command loads every event, replays the log twice from the empty
document and compares the document hashes. Events the reducers reject
are listed; they stay in the log but contribute nothing.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (hashes differ)
  2 - Command error (database not found, etc.)

Examples:
  crmorbit replay --db ./crmorbit.db
  crmorbit replay --db ./crmorbit.db -v
  crmorbit replay --db ./crmorbit.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := engine.VerifyReplay(cmd.Context(), st, e.dispatcher())
	mismatch := errors.Is(err, engine.ErrReplayMismatch)
	if err != nil && !mismatch {
		return WrapExitError(ExitCommandError, "failed to replay log", err)
	}

	result := ReplayResult{
		Events:        report.Events,
		Rejected:      rejectedEvents(report.Rejected),
		Hash:          report.Hash,
		Deterministic: !mismatch,
	}
	if err := e.out.Success(result); err != nil {
		return err
	}
	if mismatch {
		return WrapExitError(ExitFailure, "replay is not deterministic", err)
	}
	return nil
}
