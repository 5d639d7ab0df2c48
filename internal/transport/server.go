package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Handler answers one sync request. The returned bytes are sent as the
// response frame.
type Handler interface {
	ServeSync(ctx context.Context, remote string, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, remote string, payload []byte) ([]byte, error)

// ServeSync calls f.
func (f HandlerFunc) ServeSync(ctx context.Context, remote string, payload []byte) ([]byte, error) {
	return f(ctx, remote, payload)
}

// ErrorEncoder turns a handler error into a response payload. The payload
// format belongs to the sync layer, so the transport only carries it.
type ErrorEncoder func(err error) []byte

// Server accepts connections and answers one request per connection.
type Server struct {
	handler Handler
	encode  ErrorEncoder
	opts    options

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer creates a server. encode may be nil, in which case a handler
// error closes the connection without a response.
func NewServer(h Handler, encode ErrorEncoder, opts ...Option) *Server {
	return &Server{handler: h, encode: encode, opts: buildOptions(opts)}
}

// Listen binds addr ("host:port", port 0 for any) and returns the listener
// without serving.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is canceled, then closes ln
// and waits for in-flight connections. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.conns.Wait()

	s.opts.logger.Info("sync server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req, err := ReadFrame(conn)
	if err != nil {
		if IsProtocolViolation(err) {
			s.opts.metrics.ProtocolViolation()
			s.opts.logger.Warn("protocol violation", "peer", remote, "error", err)
			return
		}
		s.opts.logger.Debug("connection dropped before request", "peer", remote, "error", err)
		return
	}
	s.opts.metrics.FrameReceived(len(req))

	resp, err := s.handler.ServeSync(ctx, remote, req)
	if err != nil {
		s.opts.logger.Warn("sync handler failed", "peer", remote, "error", err)
		if s.encode == nil {
			return
		}
		resp = s.encode(err)
	}

	if err := WriteFrame(conn, resp); err != nil {
		s.opts.logger.Warn("write response failed", "peer", remote, "error", err)
		return
	}
	s.opts.metrics.FrameSent(len(resp))
}
