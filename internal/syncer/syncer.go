package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/transport"
)

// Exchanger performs one request/response exchange. Implemented by
// transport.Client.
type Exchanger interface {
	SyncWithPeer(ctx context.Context, peer transport.Peer, payload []byte) ([]byte, error)
}

// ErrNoPeers is returned by SyncAny when given no peers.
var ErrNoPeers = errors.New("no peers to sync with")

// Report summarizes one sync session.
type Report struct {
	Peer       transport.Peer
	PeerName   string
	Sent       int
	Received   int
	Added      int
	Rejections []merge.Rejection
	Conflicts  []merge.Conflict
	Attempts   int
	Duration   time.Duration
}

// Backoff bounds the retries of one peer in SyncAny.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxTries   uint
}

// DefaultBackoff is used when no Backoff is configured.
var DefaultBackoff = Backoff{
	Initial:    250 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
	MaxTries:   4,
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithBackoff sets the per-peer retry policy of SyncAny.
func WithBackoff(b Backoff) Option {
	return func(s *Syncer) {
		s.backoff = b
	}
}

// Syncer initiates sync sessions.
type Syncer struct {
	eng     Engine
	client  Exchanger
	name    string
	logger  *slog.Logger
	metrics Metrics
	backoff Backoff
}

// New creates a syncer that merges into eng. deviceName is announced in
// outgoing envelopes.
func New(eng Engine, client Exchanger, deviceName string, opts ...Option) *Syncer {
	s := &Syncer{
		eng:     eng,
		client:  client,
		name:    deviceName,
		logger:  slog.Default(),
		metrics: nopMetrics{},
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncPeer pushes the local log to peer and merges its answer.
func (s *Syncer) SyncPeer(ctx context.Context, peer transport.Peer) (Report, error) {
	return s.session(ctx, peer, KindBatch)
}

// Pull fetches the peer's log without pushing and merges it.
func (s *Syncer) Pull(ctx context.Context, peer transport.Peer) (Report, error) {
	return s.session(ctx, peer, KindRequest)
}

func (s *Syncer) session(ctx context.Context, peer transport.Peer, kind Kind) (Report, error) {
	start := time.Now()
	report := Report{Peer: peer, Attempts: 1}

	env := Envelope{
		Version:    Version,
		Kind:       kind,
		DeviceID:   s.eng.DeviceID(),
		DeviceName: s.name,
	}
	if kind == KindBatch {
		env.Events = s.eng.Events()
		report.Sent = len(env.Events)
	}
	payload, err := Encode(env)
	if err != nil {
		return report, err
	}

	data, err := s.client.SyncWithPeer(ctx, peer, payload)
	if err != nil {
		s.metrics.SyncSession("initiator", "error")
		return report, fmt.Errorf("sync %s: %w", peer, err)
	}

	resp, err := s.checkResponse(peer, data)
	if err != nil {
		s.metrics.SyncSession("initiator", "error")
		return report, fmt.Errorf("sync %s: %w", peer, err)
	}
	report.PeerName = resp.DeviceName
	report.Received = len(resp.Events)

	res, err := s.eng.Merge(ctx, resp.Events)
	if err != nil {
		s.metrics.SyncSession("initiator", "error")
		return report, fmt.Errorf("sync %s: %w", peer, err)
	}
	report.Added = res.Added
	report.Rejections = res.Rejections
	report.Conflicts = res.Conflicts
	report.Duration = time.Since(start)

	s.metrics.SyncSession("initiator", "ok")
	s.metrics.EventsMerged(res.Added)
	s.logger.Info("sync complete",
		"peer", peer.String(),
		"peer_name", report.PeerName,
		"sent", report.Sent,
		"received", report.Received,
		"added", report.Added,
		"rejected", len(report.Rejections),
		"duration", report.Duration,
	)
	return report, nil
}

// checkResponse decodes the answer and turns error envelopes into
// *transport.RemoteError.
func (s *Syncer) checkResponse(peer transport.Peer, data []byte) (Envelope, error) {
	resp, err := Decode(data)
	if err != nil {
		return Envelope{}, err
	}
	if resp.Kind == KindError {
		return Envelope{}, &transport.RemoteError{
			Peer:    peer.String(),
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
		}
	}
	if resp.Kind != KindBatch {
		return Envelope{}, fmt.Errorf("%w: response kind %q", ErrInvalidEnvelope, resp.Kind)
	}
	if peer.DeviceID != "" && resp.DeviceID != peer.DeviceID {
		return Envelope{}, fmt.Errorf("%w: expected device %s, got %s", ErrInvalidEnvelope, peer.DeviceID, resp.DeviceID)
	}
	return resp, nil
}

// SyncAny tries peers in order and returns the first successful report.
// Each peer is retried with exponential backoff; protocol violations and
// bad-request answers give up on that peer at once. The joined errors of
// all peers are returned when none succeeds.
func (s *Syncer) SyncAny(ctx context.Context, peers []transport.Peer) (Report, error) {
	if len(peers) == 0 {
		return Report{}, ErrNoPeers
	}

	var errs []error
	for _, peer := range peers {
		attempts := 0
		report, err := backoff.Retry(ctx, func() (Report, error) {
			attempts++
			r, err := s.SyncPeer(ctx, peer)
			if err != nil && permanent(err) {
				return r, backoff.Permanent(err)
			}
			return r, err
		},
			backoff.WithBackOff(s.exponential()),
			backoff.WithMaxTries(s.backoff.MaxTries),
			backoff.WithNotify(func(err error, d time.Duration) {
				s.logger.Warn("sync attempt failed", "peer", peer.String(), "retry_in", d, "error", err)
			}),
		)
		if err == nil {
			report.Attempts = attempts
			return report, nil
		}
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		s.logger.Warn("giving up on peer", "peer", peer.String(), "attempts", attempts, "error", err)
		errs = append(errs, err)
	}
	return Report{}, errors.Join(errs...)
}

func (s *Syncer) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if s.backoff.Initial > 0 {
		b.InitialInterval = s.backoff.Initial
	}
	if s.backoff.Max > 0 {
		b.MaxInterval = s.backoff.Max
	}
	if s.backoff.Multiplier > 0 {
		b.Multiplier = s.backoff.Multiplier
	}
	return b
}

func permanent(err error) bool {
	if transport.IsProtocolViolation(err) {
		return true
	}
	var re *transport.RemoteError
	return errors.As(err, &re) && re.Code == CodeBadRequest
}
