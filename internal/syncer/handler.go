package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/merge"
	"github.com/roach88/crmorbit/internal/transport"
)

// Engine is the part of engine.Engine the sync layer needs.
type Engine interface {
	DeviceID() string
	Events() []event.Event
	Merge(ctx context.Context, remote []event.Event) (merge.Result, error)
}

// Metrics receives sync counters. Implemented by telemetry.Metrics.
type Metrics interface {
	SyncSession(role, outcome string)
	EventsMerged(n int)
}

type nopMetrics struct{}

func (nopMetrics) SyncSession(string, string) {}
func (nopMetrics) EventsMerged(int)           {}

// Handler answers inbound sync requests. It implements transport.Handler.
type Handler struct {
	eng     Engine
	name    string
	logger  *slog.Logger
	metrics Metrics
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the structured logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithHandlerMetrics sets the metrics sink.
func WithHandlerMetrics(m Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a handler over eng. deviceName is announced in
// responses.
func NewHandler(eng Engine, deviceName string, opts ...HandlerOption) *Handler {
	h := &Handler{eng: eng, name: deviceName, logger: slog.Default(), metrics: nopMetrics{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ transport.Handler = (*Handler)(nil)

// ServeSync decodes a request, merges pushed events and answers with the
// local post-merge log.
func (h *Handler) ServeSync(ctx context.Context, remote string, payload []byte) ([]byte, error) {
	env, err := Decode(payload)
	if err != nil {
		h.metrics.SyncSession("responder", "invalid")
		return nil, err
	}
	log := h.logger.With("peer", env.DeviceID, "addr", remote, "kind", env.Kind)

	switch env.Kind {
	case KindRequest:
	case KindBatch:
		res, err := h.eng.Merge(ctx, env.Events)
		if err != nil {
			h.metrics.SyncSession("responder", "error")
			return nil, fmt.Errorf("merge from %s: %w", env.DeviceID, err)
		}
		h.metrics.EventsMerged(res.Added)
		log.Info("merged inbound batch",
			"received", len(env.Events),
			"added", res.Added,
			"rejected", len(res.Rejections),
			"conflicts", len(res.Conflicts),
		)
	default:
		h.metrics.SyncSession("responder", "invalid")
		return nil, fmt.Errorf("%w: unexpected %s envelope from %s", ErrInvalidEnvelope, env.Kind, env.DeviceID)
	}

	resp, err := Encode(Envelope{
		Version:    Version,
		Kind:       KindBatch,
		DeviceID:   h.eng.DeviceID(),
		DeviceName: h.name,
		Events:     h.eng.Events(),
	})
	if err != nil {
		h.metrics.SyncSession("responder", "error")
		return nil, err
	}
	h.metrics.SyncSession("responder", "ok")
	return resp, nil
}

// EncodeError is the transport.ErrorEncoder for Handler errors.
func (h *Handler) EncodeError(err error) []byte {
	code := CodeInternal
	if errors.Is(err, transport.ErrProtocolViolation) {
		code = CodeBadRequest
	}
	data, encErr := Encode(ErrorEnvelope(h.eng.DeviceID(), code, err))
	if encErr != nil {
		h.logger.Error("encode error envelope", "error", encErr)
		return nil
	}
	return data
}
