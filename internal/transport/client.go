package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Peer addresses a remote device.
type Peer struct {
	DeviceID string
	Addr     string // host:port
}

func (p Peer) String() string {
	if p.DeviceID == "" {
		return p.Addr
	}
	return p.DeviceID + "@" + p.Addr
}

// Metrics receives transport counters. Implemented by telemetry.Metrics.
type Metrics interface {
	FrameSent(bytes int)
	FrameReceived(bytes int)
	ProtocolViolation()
}

type nopMetrics struct{}

func (nopMetrics) FrameSent(int)      {}
func (nopMetrics) FrameReceived(int)  {}
func (nopMetrics) ProtocolViolation() {}

// Option configures a Client or Server.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics Metrics
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		metrics: nopMetrics{},
		dialer:  (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithDialer replaces the TCP dialer, e.g. with one returning net.Pipe
// connections in tests.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(o *options) {
		o.dialer = dial
	}
}

// Client initiates sync exchanges.
type Client struct {
	opts options
}

// NewClient creates a client.
func NewClient(opts ...Option) *Client {
	return &Client{opts: buildOptions(opts)}
}

// SyncWithPeer dials peer, writes payload as one frame, reads exactly one
// response frame and closes the connection.
//
// The response, a socket error and cancellation of ctx race; the first to
// happen settles the call. Canceling ctx closes the socket. There is no
// timeout beyond ctx.
func (c *Client) SyncWithPeer(ctx context.Context, peer Peer, payload []byte) ([]byte, error) {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return nil, err
	}

	conn, err := c.opts.dialer(ctx, "tcp", peer.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}

	var (
		once   sync.Once
		done   = make(chan struct{})
		result []byte
		resErr error
	)
	settle := func(resp []byte, err error) {
		once.Do(func() {
			result, resErr = resp, err
			close(done)
		})
	}

	stop := context.AfterFunc(ctx, func() {
		settle(nil, ctx.Err())
		_ = conn.Close()
	})
	defer stop()

	go func() {
		if _, err := conn.Write(frame); err != nil {
			settle(nil, fmt.Errorf("send to %s: %w", peer, err))
			return
		}
		c.opts.metrics.FrameSent(len(payload))

		resp, err := ReadFrame(conn)
		if err != nil {
			if IsProtocolViolation(err) {
				c.opts.metrics.ProtocolViolation()
				c.opts.logger.Warn("protocol violation", "peer", peer.String(), "error", err)
			}
			settle(nil, fmt.Errorf("receive from %s: %w", peer, err))
			return
		}
		c.opts.metrics.FrameReceived(len(resp))
		settle(resp, nil)
	}()

	<-done
	_ = conn.Close()

	if resErr != nil {
		return nil, resErr
	}
	c.opts.logger.Debug("sync exchange complete",
		"peer", peer.String(),
		"sent_bytes", len(payload),
		"received_bytes", len(result),
	)
	return result, nil
}
