package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestPeerTable_ExcludesLocalDevice(t *testing.T) {
	table := NewPeerTable("me")

	_, changed := table.Observe(Sighting{DeviceID: "me", Host: "10.0.0.1", Port: 8765}, t0)
	assert.False(t, changed)
	_, changed = table.Observe(Sighting{Host: "10.0.0.1", Port: 8765}, t0)
	assert.False(t, changed)
	assert.Equal(t, 0, table.Len())
}

func TestPeerTable_AddUpdateRemove(t *testing.T) {
	table := NewPeerTable("me")

	c, ok := table.Observe(Sighting{DeviceID: "b", DeviceName: "Tablet", Host: "10.0.0.2", Port: 8765}, t0)
	require.True(t, ok)
	assert.Equal(t, PeerAdded, c.Kind)
	assert.Equal(t, "10.0.0.2:8765", c.Peer.Addr)

	_, ok = table.Observe(Sighting{DeviceID: "b", DeviceName: "Tablet", Host: "10.0.0.2", Port: 8765}, t0.Add(time.Second))
	assert.False(t, ok, "same address is a refresh, not a change")
	p, _ := table.Get("b")
	assert.Equal(t, t0.Add(time.Second), p.LastSeen)

	c, ok = table.Observe(Sighting{DeviceID: "b", DeviceName: "Tablet", Host: "10.0.0.3", Port: 8765}, t0)
	require.True(t, ok)
	assert.Equal(t, PeerUpdated, c.Kind)

	c, ok = table.Observe(Sighting{DeviceID: "b", Gone: true}, t0)
	require.True(t, ok)
	assert.Equal(t, PeerRemoved, c.Kind)
	assert.Equal(t, 0, table.Len())

	_, ok = table.Remove("b")
	assert.False(t, ok)
}

func TestPeerTable_IPv6Addr(t *testing.T) {
	table := NewPeerTable("me")
	c, ok := table.Observe(Sighting{DeviceID: "b", Host: "fe80::1", Port: 8765}, t0)
	require.True(t, ok)
	assert.Equal(t, "[fe80::1]:8765", c.Peer.Addr)
}

func TestPeerTable_Expire(t *testing.T) {
	table := NewPeerTable("me")
	table.Observe(Sighting{DeviceID: "b", Host: "10.0.0.2", Port: 1, TTL: time.Minute}, t0)
	table.Observe(Sighting{DeviceID: "a", Host: "10.0.0.3", Port: 1, TTL: time.Minute}, t0)
	table.Observe(Sighting{DeviceID: "c", Host: "10.0.0.4", Port: 1, TTL: time.Hour}, t0)

	assert.Empty(t, table.Expire(t0.Add(time.Minute)), "expiry is strictly after the deadline")

	changes := table.Expire(t0.Add(2 * time.Minute))
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].Peer.DeviceID)
	assert.Equal(t, "b", changes[1].Peer.DeviceID)
	assert.Equal(t, PeerExpired, changes[0].Kind)

	peers := table.List()
	require.Len(t, peers, 1)
	assert.Equal(t, "c", peers[0].DeviceID)
}

func TestPeerTable_ListSorted(t *testing.T) {
	table := NewPeerTable("me")
	for _, id := range []string{"z", "m", "a"} {
		table.Observe(Sighting{DeviceID: id, Host: "h", Port: 1}, t0)
	}
	var ids []string
	for _, p := range table.List() {
		ids = append(ids, p.DeviceID)
	}
	assert.Equal(t, []string{"a", "m", "z"}, ids)
}

func TestPeer_Endpoint(t *testing.T) {
	p := Peer{DeviceID: "b", Addr: "10.0.0.2:8765"}
	ep := p.Endpoint()
	assert.Equal(t, "b", ep.DeviceID)
	assert.Equal(t, "10.0.0.2:8765", ep.Addr)
}

func TestAnnouncement_TXT(t *testing.T) {
	a := Announcement{DeviceID: "dev-1", DeviceName: "Laptop"}
	assert.Equal(t, []string{"deviceId=dev-1", "deviceName=Laptop"}, a.TXT())
}

func TestSightingFrom(t *testing.T) {
	entry := zeroconf.NewServiceEntry("dev-b", DefaultService, DefaultDomain)
	entry.HostName = "tablet.local."
	entry.Port = 8765
	entry.TTL = 120
	entry.Text = []string{"deviceId=dev-b", "deviceName=Tablet", "junk"}

	s, ok := sightingFrom(entry)
	require.True(t, ok)
	assert.Equal(t, Sighting{
		DeviceID:   "dev-b",
		DeviceName: "Tablet",
		Host:       "tablet.local",
		Port:       8765,
		TTL:        120 * time.Second,
	}, s)

	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	s, ok = sightingFrom(entry)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20", s.Host)

	entry.TTL = 0
	s, ok = sightingFrom(entry)
	require.True(t, ok)
	assert.False(t, s.Gone)
	assert.Zero(t, s.TTL, "zero TTL falls back to the table default")

	entry.Text = []string{"deviceName=Anonymous"}
	_, ok = sightingFrom(entry)
	assert.False(t, ok, "entries without a device id are ignored")
}

func TestService_AdvertisingStateMachine(t *testing.T) {
	adv := &fakeAdvertiser{}
	s := New(Config{DeviceID: "me", DeviceName: "Laptop"}, adv, &fakeBrowser{}, WithLogger(quiet()))

	assert.Equal(t, StateIdle, s.AdvertisingState())
	require.NoError(t, s.StartAdvertising(context.Background()))
	assert.Equal(t, StateAdvertising, s.AdvertisingState())
	assert.ErrorIs(t, s.StartAdvertising(context.Background()), ErrAlreadyActive)

	require.Len(t, adv.announced, 1)
	assert.Equal(t, Announcement{DeviceID: "me", DeviceName: "Laptop", Port: DefaultPort}, adv.announced[0])
	assert.Equal(t, DefaultService, adv.service)
	assert.Equal(t, DefaultDomain, adv.domain)

	s.StopAdvertising()
	assert.Equal(t, StateIdle, s.AdvertisingState())
	assert.Equal(t, 1, adv.stopped)
	s.StopAdvertising()
	assert.Equal(t, 1, adv.stopped)
}

func TestService_AdvertiseError(t *testing.T) {
	adv := &fakeAdvertiser{err: errors.New("no multicast")}
	s := New(Config{DeviceID: "me"}, adv, &fakeBrowser{}, WithLogger(quiet()))

	require.Error(t, s.StartAdvertising(context.Background()))
	assert.Equal(t, StateIdle, s.AdvertisingState())
}

func TestService_ScanningPopulatesTable(t *testing.T) {
	browser := newFakeBrowser()
	changes := make(chan Change, 8)
	s := New(Config{DeviceID: "me"}, &fakeAdvertiser{}, browser,
		WithLogger(quiet()),
		WithOnChange(func(c Change) { changes <- c }),
	)

	require.NoError(t, s.StartScanning(context.Background()))
	assert.Equal(t, StateScanning, s.ScanningState())
	assert.ErrorIs(t, s.StartScanning(context.Background()), ErrAlreadyActive)

	browser.sightings <- Sighting{DeviceID: "me", Host: "10.0.0.1", Port: 8765}
	browser.sightings <- Sighting{DeviceID: "b", DeviceName: "Tablet", Host: "10.0.0.2", Port: 8765}

	c := receive(t, changes)
	assert.Equal(t, PeerAdded, c.Kind)
	assert.Equal(t, "b", c.Peer.DeviceID)
	assert.Equal(t, 1, s.Peers().Len())

	s.StopScanning()
	assert.Equal(t, StateIdle, s.ScanningState())
	assert.Equal(t, 1, s.Peers().Len(), "stopping keeps the table")
}

func TestService_CapsTTLAndExpires(t *testing.T) {
	browser := newFakeBrowser()
	changes := make(chan Change, 8)
	now := t0
	var mu sync.Mutex
	s := New(Config{DeviceID: "me", PeerTTL: time.Minute}, &fakeAdvertiser{}, browser,
		WithLogger(quiet()),
		WithOnChange(func(c Change) { changes <- c }),
		WithNow(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
	)
	require.NoError(t, s.StartScanning(context.Background()))
	defer s.Close()

	browser.sightings <- Sighting{DeviceID: "b", Host: "10.0.0.2", Port: 8765, TTL: time.Hour}
	c := receive(t, changes)
	assert.Equal(t, t0.Add(time.Minute), c.Peer.Expires)

	mu.Lock()
	now = t0.Add(2 * time.Minute)
	mu.Unlock()
	s.ExpireNow()

	c = receive(t, changes)
	assert.Equal(t, PeerExpired, c.Kind)
	assert.Equal(t, 0, s.Peers().Len())
}

func TestService_RebrowsesToKeepPeersAlive(t *testing.T) {
	browser := &onceBrowser{sighting: Sighting{DeviceID: "b", Host: "10.0.0.2", Port: 8765}}
	browser.present.Store(true)
	changes := make(chan Change, 8)
	s := New(Config{DeviceID: "me", PeerTTL: 200 * time.Millisecond}, &fakeAdvertiser{}, browser,
		WithLogger(quiet()),
		WithOnChange(func(c Change) { changes <- c }),
	)
	require.NoError(t, s.StartScanning(context.Background()))
	defer s.Close()

	assert.Equal(t, PeerAdded, receive(t, changes).Kind)
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 1, s.Peers().Len(), "a peer reported once per round outlives its TTL")
	assert.GreaterOrEqual(t, browser.rounds.Load(), int32(3))

	browser.present.Store(false)
	c := receive(t, changes)
	assert.Equal(t, PeerExpired, c.Kind)
	assert.Equal(t, "b", c.Peer.DeviceID)
}

func TestService_BrowseErrorStopsScanning(t *testing.T) {
	s := New(Config{DeviceID: "me"}, &fakeAdvertiser{}, failingBrowser{}, WithLogger(quiet()))
	require.NoError(t, s.StartScanning(context.Background()))
	require.Eventually(t, func() bool {
		return s.ScanningState() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_Close(t *testing.T) {
	adv := &fakeAdvertiser{}
	s := New(Config{DeviceID: "me"}, adv, newFakeBrowser(), WithLogger(quiet()))
	require.NoError(t, s.StartAdvertising(context.Background()))
	require.NoError(t, s.StartScanning(context.Background()))

	s.Close()
	assert.Equal(t, StateIdle, s.AdvertisingState())
	assert.Equal(t, StateIdle, s.ScanningState())
	assert.Equal(t, 1, adv.stopped)

	assert.ErrorIs(t, s.StartAdvertising(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.StartScanning(context.Background()), ErrClosed)
}

func TestService_ScanStopsWithContext(t *testing.T) {
	s := New(Config{DeviceID: "me"}, &fakeAdvertiser{}, newFakeBrowser(), WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.StartScanning(ctx))

	cancel()
	require.Eventually(t, func() bool {
		return s.ScanningState() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no peer change")
		return Change{}
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdvertiser struct {
	err       error
	announced []Announcement
	service   string
	domain    string
	stopped   int
}

func (f *fakeAdvertiser) Advertise(_ context.Context, service, domain string, a Announcement) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.service, f.domain = service, domain
	f.announced = append(f.announced, a)
	return func() { f.stopped++ }, nil
}

type fakeBrowser struct {
	sightings chan Sighting
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{sightings: make(chan Sighting)}
}

func (f *fakeBrowser) Browse(ctx context.Context, _, _ string, found func(Sighting)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-f.sightings:
			found(s)
		}
	}
}

// onceBrowser reports its sighting once per round, like a resolver, while
// present is set.
type onceBrowser struct {
	sighting Sighting
	present  atomic.Bool
	rounds   atomic.Int32
}

func (f *onceBrowser) Browse(ctx context.Context, _, _ string, found func(Sighting)) error {
	f.rounds.Add(1)
	if f.present.Load() {
		found(f.sighting)
	}
	<-ctx.Done()
	return nil
}

type failingBrowser struct{}

func (failingBrowser) Browse(context.Context, string, string, func(Sighting)) error {
	return errors.New("no multicast interface")
}
