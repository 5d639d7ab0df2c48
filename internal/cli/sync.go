package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/config"
	"github.com/roach88/crmorbit/internal/syncer"
	"github.com/roach88/crmorbit/internal/transport"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Peers    []string      // "host:port" or "deviceId@host:port"
	Pull     bool          // request the peer's log without pushing ours
	Discover time.Duration // scan time when no --peer is given
}

// SyncResult summarizes one completed session.
type SyncResult struct {
	Peer       string          `json:"peer"`
	PeerName   string          `json:"peerName,omitempty"`
	Sent       int             `json:"sent"`
	Received   int             `json:"received"`
	Added      int             `json:"added"`
	Conflicts  int             `json:"conflicts"`
	Rejected   []RejectedEvent `json:"rejected"`
	Attempts   int             `json:"attempts"`
	DurationMS int64           `json:"durationMs"`
}

func (r SyncResult) renderText(w io.Writer, verbose bool) {
	name := r.Peer
	if r.PeerName != "" {
		name = fmt.Sprintf("%s (%s)", r.Peer, r.PeerName)
	}
	fmt.Fprintf(w, "synced with %s: sent %d, received %d, %d new\n", name, r.Sent, r.Received, r.Added)
	if len(r.Rejected) > 0 {
		fmt.Fprintf(w, "rejected on replay: %d\n", len(r.Rejected))
	}
	if verbose {
		fmt.Fprintf(w, "attempts: %d, took %dms\n", r.Attempts, r.DurationMS)
	}
}

func syncResult(r syncer.Report) SyncResult {
	return SyncResult{
		Peer:       r.Peer.String(),
		PeerName:   r.PeerName,
		Sent:       r.Sent,
		Received:   r.Received,
		Added:      r.Added,
		Conflicts:  len(r.Conflicts),
		Rejected:   rejectedEvents(r.Rejections),
		Attempts:   r.Attempts,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange event logs with a peer",
		Long: `Send the local log to a peer, merge the peer's log in reply and
stop at the first peer that answers.

Peers are given with --peer; without one, the network is scanned for
--discover and every peer found is tried in device id order. Each peer
is retried with exponential backoff before moving to the next.

Exit codes:
  0 - Synced with a peer
  1 - No peer reachable, or the peer broke the protocol
  2 - Command error

Examples:
  crmorbit sync --peer 192.168.1.20:8765
  crmorbit sync --peer dev-7@192.168.1.20:8765 --pull
  crmorbit sync --discover 5s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Peers, "peer", nil, "peer address, optionally prefixed with deviceId@")
	cmd.Flags().BoolVar(&opts.Pull, "pull", false, "fetch the peer's log without sending ours")
	cmd.Flags().DurationVar(&opts.Discover, "discover", 3*time.Second, "scan time when no --peer is given")

	return cmd
}

// parsePeer reads "host:port" or "deviceId@host:port".
func parsePeer(s string) (transport.Peer, error) {
	var p transport.Peer
	addr := s
	if id, rest, ok := strings.Cut(s, "@"); ok {
		if id == "" {
			return p, fmt.Errorf("peer %q: empty device id", s)
		}
		p.DeviceID, addr = id, rest
	}
	if !strings.Contains(addr, ":") {
		return p, fmt.Errorf("peer %q: want host:port", s)
	}
	p.Addr = addr
	return p, nil
}

func syncBackoff(b config.Backoff) syncer.Backoff {
	return syncer.Backoff{
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
		MaxTries:   b.MaxTries,
	}
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	if opts.Pull && len(opts.Peers) != 1 {
		return NewExitError(ExitCommandError, "--pull needs exactly one --peer")
	}
	peers := make([]transport.Peer, 0, len(opts.Peers))
	for _, s := range opts.Peers {
		p, err := parsePeer(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --peer", err)
		}
		peers = append(peers, p)
	}

	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	eng, err := e.openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(peers) == 0 {
		found, err := discoverPeers(ctx, e, opts.RootOptions, opts.Discover)
		if err != nil {
			return WrapExitError(ExitFailure, "discovery failed", err)
		}
		for _, p := range found {
			peers = append(peers, p.Endpoint())
		}
	}

	client := transport.NewClient(transport.WithLogger(e.logger))
	s := syncer.New(eng, client, e.cfg.DeviceName,
		syncer.WithLogger(e.logger),
		syncer.WithBackoff(syncBackoff(e.cfg.Backoff)),
	)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()

	var report syncer.Report
	if opts.Pull {
		report, err = s.Pull(ctx, peers[0])
	} else {
		report, err = s.SyncAny(ctx, peers)
	}
	switch {
	case errors.Is(err, syncer.ErrNoPeers):
		return NewExitError(ExitFailure, "no peers found")
	case err != nil:
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	return e.out.Success(syncResult(report))
}
