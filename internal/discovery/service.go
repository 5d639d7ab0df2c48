package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State of one discovery state machine.
type State string

const (
	StateIdle        State = "idle"
	StateAdvertising State = "advertising"
	StateScanning    State = "scanning"
)

var (
	// ErrAlreadyActive is returned when starting a machine that is not idle.
	ErrAlreadyActive = errors.New("discovery already active")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("discovery closed")
)

// Config describes the local device and the service it uses.
type Config struct {
	DeviceID   string
	DeviceName string
	Port       int
	Service    string        // default DefaultService
	Domain     string        // default DefaultDomain
	PeerTTL    time.Duration // default DefaultTTL
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = DefaultTTL
	}
	return c
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithOnChange registers a callback for peer table changes. It runs on
// the browsing goroutine and must not block.
func WithOnChange(fn func(Change)) Option {
	return func(s *Service) {
		s.onChange = fn
	}
}

// WithNow replaces the clock used for TTL bookkeeping.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs the advertising and scanning state machines.
//
// Thread-safety: Service is safe for concurrent use.
type Service struct {
	cfg      Config
	adv      Advertiser
	browser  Browser
	table    *PeerTable
	logger   *slog.Logger
	onChange func(Change)
	now      func() time.Time

	mu        sync.Mutex
	advState  State
	scanState State
	stopAdv   func()
	stopScan  context.CancelFunc
	scanDone  chan struct{}
	closed    bool
}

// New creates an idle service.
func New(cfg Config, adv Advertiser, browser Browser, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:       cfg,
		adv:       adv,
		browser:   browser,
		table:     NewPeerTable(cfg.DeviceID),
		logger:    slog.Default(),
		onChange:  func(Change) {},
		now:       time.Now,
		advState:  StateIdle,
		scanState: StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Peers returns the peer table.
func (s *Service) Peers() *PeerTable {
	return s.table
}

// AdvertisingState returns idle or advertising.
func (s *Service) AdvertisingState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advState
}

// ScanningState returns idle or scanning.
func (s *Service) ScanningState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanState
}

// StartAdvertising moves idle → advertising.
func (s *Service) StartAdvertising(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.advState != StateIdle {
		return ErrAlreadyActive
	}

	stop, err := s.adv.Advertise(ctx, s.cfg.Service, s.cfg.Domain, Announcement{
		DeviceID:   s.cfg.DeviceID,
		DeviceName: s.cfg.DeviceName,
		Port:       s.cfg.Port,
	})
	if err != nil {
		return err
	}
	s.stopAdv = stop
	s.advState = StateAdvertising
	s.logger.Info("advertising",
		"device_id", s.cfg.DeviceID,
		"service", s.cfg.Service,
		"port", s.cfg.Port,
	)
	return nil
}

// StopAdvertising moves advertising → idle. Stopping an idle machine is a
// no-op.
func (s *Service) StopAdvertising() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAdvertisingLocked()
}

func (s *Service) stopAdvertisingLocked() {
	if s.advState != StateAdvertising {
		return
	}
	s.stopAdv()
	s.stopAdv = nil
	s.advState = StateIdle
	s.logger.Info("advertising stopped", "device_id", s.cfg.DeviceID)
}

// StartScanning moves idle → scanning and browses until StopScanning, Close
// or cancellation of ctx. Browsing restarts every PeerTTL/2 so that live
// peers are reported again before they lapse. Peers are expired every
// PeerTTL/4.
func (s *Service) StartScanning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.scanState != StateIdle {
		return ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopScan = cancel
	s.scanDone = done
	s.scanState = StateScanning

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.browseLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.expireLoop(ctx)
	}()
	go func() {
		wg.Wait()
		s.mu.Lock()
		if s.scanDone == done {
			s.scanState = StateIdle
			s.stopScan = nil
			s.scanDone = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("scanning", "service", s.cfg.Service, "domain", s.cfg.Domain)
	return nil
}

// StopScanning moves scanning → idle and waits for the browser to stop.
func (s *Service) StopScanning() {
	s.mu.Lock()
	cancel, done := s.stopScan, s.scanDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops both machines. The service cannot be restarted.
func (s *Service) Close() {
	s.StopScanning()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAdvertisingLocked()
	s.closed = true
}

// ExpireNow drops peers whose TTL has lapsed.
func (s *Service) ExpireNow() {
	for _, c := range s.table.Expire(s.now()) {
		s.emit(c)
	}
}

// browseLoop runs one browse round per refresh interval. Each round starts
// a fresh query, since a resolver reports an instance only once.
func (s *Service) browseLoop(ctx context.Context) {
	refresh := s.cfg.PeerTTL / 2
	for ctx.Err() == nil {
		round, cancel := context.WithTimeout(ctx, refresh)
		err := s.browser.Browse(round, s.cfg.Service, s.cfg.Domain, s.observe)
		cancel()
		if err != nil {
			s.logger.Error("browse failed", "service", s.cfg.Service, "error", err)
			return
		}
	}
}

func (s *Service) expireLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.PeerTTL / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ExpireNow()
		}
	}
}

func (s *Service) observe(sg Sighting) {
	if sg.TTL <= 0 || sg.TTL > s.cfg.PeerTTL {
		sg.TTL = s.cfg.PeerTTL
	}
	if c, ok := s.table.Observe(sg, s.now()); ok {
		s.emit(c)
	}
}

func (s *Service) emit(c Change) {
	s.logger.Info("peer "+string(c.Kind),
		"peer", c.Peer.DeviceID,
		"name", c.Peer.DeviceName,
		"addr", c.Peer.Addr,
	)
	s.onChange(c)
}
