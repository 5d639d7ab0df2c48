// Package telemetry exposes Prometheus metrics for the engine, the sync
// transport and sync sessions.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/crmorbit/internal/event"
)

const namespace = "crmorbit"

// Metrics implements engine.Metrics, transport.Metrics and
// syncer.Metrics.
type Metrics struct {
	applied    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	logSize    prometheus.Gauge
	frames     *prometheus.CounterVec
	frameBytes *prometheus.CounterVec
	violations prometheus.Counter
	sessions   *prometheus.CounterVec
	merged     prometheus.Counter
	peers      prometheus.Gauge
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Events accepted by the reducers and appended to the log.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events refused by a reducer, on dispatch or during replay.",
		}, []string{"type", "code"}),
		logSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_log_size",
			Help:      "Number of events in the local log.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Sync frames by direction.",
		}, []string{"direction"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Sync frame payload bytes by direction.",
		}, []string{"direction"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Connections closed because a peer broke the framing rules.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_sessions_total",
			Help:      "Sync sessions by role and outcome.",
		}, []string{"role", "outcome"}),
		merged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_merged_total",
			Help:      "Events received from peers that were new to this device.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers currently in the discovery table.",
		}),
	}
	reg.MustRegister(m.applied, m.rejected, m.logSize, m.frames, m.frameBytes,
		m.violations, m.sessions, m.merged, m.peers)
	return m
}

func (m *Metrics) EventApplied(t event.Type) {
	m.applied.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) EventRejected(t event.Type, code string) {
	m.rejected.WithLabelValues(string(t), code).Inc()
}

func (m *Metrics) LogSize(n int) {
	m.logSize.Set(float64(n))
}

func (m *Metrics) FrameSent(bytes int) {
	m.frames.WithLabelValues("sent").Inc()
	m.frameBytes.WithLabelValues("sent").Add(float64(bytes))
}

func (m *Metrics) FrameReceived(bytes int) {
	m.frames.WithLabelValues("received").Inc()
	m.frameBytes.WithLabelValues("received").Add(float64(bytes))
}

func (m *Metrics) ProtocolViolation() {
	m.violations.Inc()
}

func (m *Metrics) SyncSession(role, outcome string) {
	m.sessions.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) EventsMerged(n int) {
	m.merged.Add(float64(n))
}

// PeerCount sets the discovery table size.
func (m *Metrics) PeerCount(n int) {
	m.peers.Set(float64(n))
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: Handler(g), ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	logger.Info("metrics listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("metrics serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
