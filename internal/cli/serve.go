package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/discovery"
	"github.com/roach88/crmorbit/internal/syncer"
	"github.com/roach88/crmorbit/internal/telemetry"
	"github.com/roach88/crmorbit/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen       string
	Port         int
	MetricsAddr  string
	NoDiscovery  bool
	SyncInterval time.Duration
}

// ServeStatus is printed once the server is accepting connections.
type ServeStatus struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	Addr        string `json:"addr"`
	Events      int    `json:"events"`
	Discovery   bool   `json:"discovery"`
	MetricsAddr string `json:"metricsAddr,omitempty"`
}

func (s ServeStatus) renderText(w io.Writer, _ bool) {
	fmt.Fprintf(w, "listening on %s as %s (%s), %d events\n", s.Addr, s.DeviceID, s.DeviceName, s.Events)
	if s.Discovery {
		fmt.Fprintln(w, "advertising and scanning over mDNS")
	}
	if s.MetricsAddr != "" {
		fmt.Fprintf(w, "metrics on http://%s/metrics\n", s.MetricsAddr)
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Accept sync sessions from peers until interrupted.

The device announces itself over mDNS and scans for others; every peer
that appears or changes address is synced with at once. --sync-interval
adds periodic syncs with all known peers.

Examples:
  crmorbit serve
  crmorbit serve --port 9000 --metrics-addr 127.0.0.1:9100
  crmorbit serve --no-discovery --listen 127.0.0.1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen host (default from config)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port, 0 for any (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "expose Prometheus metrics on host:port")
	cmd.Flags().BoolVar(&opts.NoDiscovery, "no-discovery", false, "disable mDNS advertising and scanning")
	cmd.Flags().DurationVar(&opts.SyncInterval, "sync-interval", 0, "periodic sync with known peers (0 disables)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	override(&e.cfg.Listen, opts.Listen)
	override(&e.cfg.MetricsAddr, opts.MetricsAddr)
	if cmd.Flags().Changed("port") {
		e.cfg.Port = opts.Port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)

	eng, err := e.openEngine(ctx, metrics)
	if err != nil {
		return err
	}
	defer eng.Close()

	handler := syncer.NewHandler(eng, e.cfg.DeviceName,
		syncer.WithHandlerLogger(e.logger),
		syncer.WithHandlerMetrics(metrics),
	)
	srv := transport.NewServer(handler, handler.EncodeError,
		transport.WithLogger(e.logger),
		transport.WithMetrics(metrics),
	)
	ln, err := transport.Listen(ctx, e.cfg.Addr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	client := transport.NewClient(transport.WithLogger(e.logger), transport.WithMetrics(metrics))
	auto := &autoSync{
		ctx: ctx,
		syncer: syncer.New(eng, client, e.cfg.DeviceName,
			syncer.WithLogger(e.logger),
			syncer.WithMetrics(metrics),
			syncer.WithBackoff(syncBackoff(e.cfg.Backoff)),
		),
		timeout:  e.cfg.SyncTimeout,
		logger:   e.logger,
		inflight: map[string]bool{},
	}
	defer auto.wait()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	errc := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx, ln); err != nil {
			errc <- err
		}
	}()

	if e.cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telemetry.Serve(ctx, e.cfg.MetricsAddr, reg, e.logger); err != nil {
				errc <- err
			}
		}()
	}

	var svc *discovery.Service
	if !opts.NoDiscovery {
		dcfg := discoveryConfig(e)
		dcfg.Port = ln.Addr().(*net.TCPAddr).Port
		svc = discovery.New(dcfg, opts.advertiser, opts.browser,
			discovery.WithLogger(e.logger),
			discovery.WithOnChange(func(c discovery.Change) {
				metrics.PeerCount(svc.Peers().Len())
				if c.Kind == discovery.PeerAdded || c.Kind == discovery.PeerUpdated {
					auto.trigger(c.Peer.Endpoint())
				}
			}),
		)
		defer svc.Close()
		if err := svc.StartAdvertising(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to advertise", err)
		}
		if err := svc.StartScanning(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to scan", err)
		}
	}

	if opts.SyncInterval > 0 && svc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(opts.SyncInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					for _, p := range svc.Peers().List() {
						auto.trigger(p.Endpoint())
					}
				}
			}
		}()
	}

	if err := e.out.Success(ServeStatus{
		DeviceID:    eng.DeviceID(),
		DeviceName:  e.cfg.DeviceName,
		Addr:        ln.Addr().String(),
		Events:      eng.Len(),
		Discovery:   svc != nil,
		MetricsAddr: e.cfg.MetricsAddr,
	}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		e.logger.Info("shutting down", "device_id", eng.DeviceID())
		return nil
	case err := <-errc:
		cancel()
		return WrapExitError(ExitFailure, "server failed", err)
	}
}

// autoSync runs at most one background session per peer.
type autoSync struct {
	ctx     context.Context
	syncer  *syncer.Syncer
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

func (a *autoSync) trigger(p transport.Peer) {
	key := p.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.inflight[key] {
		return
	}
	a.inflight[key] = true
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.inflight, key)
			a.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		defer cancel()
		if _, err := a.syncer.SyncAny(ctx, []transport.Peer{p}); err != nil && a.ctx.Err() == nil {
			a.logger.Warn("background sync failed", "peer", key, "error", err)
		}
	}()
}

// wait stops new sessions and waits for running ones.
func (a *autoSync) wait() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
