package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/value"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	Payload string // JSON object
	Event   string // path to a full event envelope, "-" for stdin
}

// DispatchResult describes the applied event.
type DispatchResult struct {
	EventID   string `json:"eventId"`
	Type      string `json:"type"`
	EntityID  string `json:"entityId,omitempty"`
	Timestamp string `json:"timestamp"`
	Events    int    `json:"events"`
}

func (r DispatchResult) renderText(w io.Writer, _ bool) {
	fmt.Fprintf(w, "applied %s %s (%s)\n", r.Type, r.EventID, r.Timestamp)
	fmt.Fprintf(w, "log: %d events\n", r.Events)
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch [type] [entity-id]",
		Short: "Apply one event to the local log",
		Long: `Apply one event to the local document and append it to the log.

With a type, a new event is stamped with this device's id and clock. With
--event, a complete envelope is read from a file (or stdin) and applied as
is, which is how events recorded elsewhere are replayed by hand.

Exit codes:
  0 - Event applied
  1 - Event rejected by a reducer (nothing is written)
  2 - Command error (bad payload, database not found, etc.)

Examples:
  crmorbit dispatch organization.created org-1 --payload '{"name":"Acme"}'
  crmorbit dispatch relation.account_contact.linked --payload '{"accountId":"acct-1","contactId":"c-1"}'
  crmorbit dispatch --event ./event.json`,
		Args:          cobra.RangeArgs(0, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Payload, "payload", "p", "", "event payload as a JSON object")
	cmd.Flags().StringVar(&opts.Event, "event", "", `event envelope file ("-" for stdin)`)

	return cmd
}

func runDispatch(opts *DispatchOptions, cmd *cobra.Command, args []string) error {
	if (opts.Event == "") == (len(args) == 0) {
		return NewExitError(ExitCommandError, "give either an event type or --event")
	}
	if opts.Event != "" && opts.Payload != "" {
		return NewExitError(ExitCommandError, "--payload cannot be combined with --event")
	}

	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var ev event.Event
	if opts.Event != "" {
		if ev, err = readEnvelope(cmd, opts.Event); err != nil {
			return err
		}
	} else {
		typ := event.Type(args[0])
		if !typ.Known() {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown event type %q", typ))
		}
		payload := value.Object{}
		if opts.Payload != "" {
			if err := json.Unmarshal([]byte(opts.Payload), &payload); err != nil {
				return WrapExitError(ExitCommandError, "invalid payload", err)
			}
		}
		ev = event.Event{Type: typ, Payload: payload}
		if len(args) == 2 {
			ev.EntityID = args[1]
		}
	}

	eng, err := e.openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	if opts.Event != "" {
		_, err = eng.Dispatch(ctx, ev)
	} else {
		ev, err = eng.Emit(ctx, ev.Type, ev.EntityID, ev.Payload)
	}
	if err != nil {
		return e.rejected(err)
	}

	return e.out.Success(DispatchResult{
		EventID:   ev.ID,
		Type:      string(ev.Type),
		EntityID:  ev.EntityID,
		Timestamp: event.FormatTime(ev.Timestamp),
		Events:    eng.Len(),
	})
}

func readEnvelope(cmd *cobra.Command, path string) (event.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return event.Event{}, WrapExitError(ExitCommandError, "failed to read event", err)
	}

	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return event.Event{}, WrapExitError(ExitCommandError, "invalid event", err)
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, WrapExitError(ExitCommandError, "invalid event", err)
	}
	return ev, nil
}
