package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/discovery"
	"github.com/roach88/crmorbit/internal/event"
)

// PeersOptions holds flags for the peers command.
type PeersOptions struct {
	*RootOptions
	Wait time.Duration
}

// PeerInfo is one discovered peer.
type PeerInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Addr       string `json:"addr"`
	LastSeen   string `json:"lastSeen"`
}

// PeersResult lists the peers found during the scan.
type PeersResult struct {
	Peers []PeerInfo `json:"peers"`
}

func (r PeersResult) renderText(w io.Writer, _ bool) {
	if len(r.Peers) == 0 {
		fmt.Fprintln(w, "No peers found.")
		return
	}
	for _, p := range r.Peers {
		name := p.DeviceName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", p.DeviceID, name, p.Addr)
	}
}

// NewPeersCommand creates the peers command.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Scan the local network for peers",
		Long: `Browse mDNS for other devices announcing the sync service and list
them. This device is never listed.

Examples:
  crmorbit peers
  crmorbit peers --wait 10s --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeers(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 3*time.Second, "how long to scan")

	return cmd
}

func runPeers(opts *PeersOptions, cmd *cobra.Command) error {
	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := e.settleDeviceID(ctx); err != nil {
		return err
	}

	peers, err := discoverPeers(ctx, e, opts.RootOptions, opts.Wait)
	if err != nil {
		return WrapExitError(ExitFailure, "discovery failed", err)
	}

	result := PeersResult{Peers: make([]PeerInfo, 0, len(peers))}
	for _, p := range peers {
		result.Peers = append(result.Peers, PeerInfo{
			DeviceID:   p.DeviceID,
			DeviceName: p.DeviceName,
			Addr:       p.Addr,
			LastSeen:   event.FormatTime(p.LastSeen),
		})
	}
	return e.out.Success(result)
}

func discoveryConfig(e *env) discovery.Config {
	return discovery.Config{
		DeviceID:   e.cfg.DeviceID,
		DeviceName: e.cfg.DeviceName,
		Port:       e.cfg.Port,
		Service:    e.cfg.Service,
		Domain:     e.cfg.Domain,
		PeerTTL:    e.cfg.PeerTTL,
	}
}

// discoverPeers scans for wait and returns the peers seen.
func discoverPeers(ctx context.Context, e *env, opts *RootOptions, wait time.Duration) ([]discovery.Peer, error) {
	svc := discovery.New(discoveryConfig(e), opts.advertiser, opts.browser, discovery.WithLogger(e.logger))
	defer svc.Close()

	if err := svc.StartScanning(ctx); err != nil {
		return nil, err
	}
	e.out.VerboseLog("scanning %s for %s", e.cfg.Service, wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return svc.Peers().List(), nil
}
