package discovery

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/crmorbit/internal/transport"
)

// DefaultTTL is how long a peer stays listed without being seen again.
const DefaultTTL = 2 * time.Minute

// Sighting is one observation of an advertised device.
type Sighting struct {
	DeviceID   string
	DeviceName string
	Host       string
	Port       int
	TTL        time.Duration // zero means DefaultTTL
	Gone       bool          // the device withdrew; drop it now
}

// Peer is a discovered device.
type Peer struct {
	DeviceID   string
	DeviceName string
	Addr       string // host:port
	LastSeen   time.Time
	Expires    time.Time
}

// Endpoint returns the transport address of p.
func (p Peer) Endpoint() transport.Peer {
	return transport.Peer{DeviceID: p.DeviceID, Addr: p.Addr}
}

// ChangeKind classifies a peer table change.
type ChangeKind string

const (
	PeerAdded   ChangeKind = "added"
	PeerUpdated ChangeKind = "updated"
	PeerRemoved ChangeKind = "removed"
	PeerExpired ChangeKind = "expired"
)

// Change is a peer table mutation.
type Change struct {
	Kind ChangeKind
	Peer Peer
}

// PeerTable holds discovered peers keyed by device id. The local device is
// never listed.
//
// Thread-safety: PeerTable is safe for concurrent use.
type PeerTable struct {
	mu      sync.RWMutex
	localID string
	peers   map[string]Peer
}

// NewPeerTable creates a table that ignores localID.
func NewPeerTable(localID string) *PeerTable {
	return &PeerTable{localID: localID, peers: make(map[string]Peer)}
}

// Observe records s at now and returns the resulting change, if any.
func (t *PeerTable) Observe(s Sighting, now time.Time) (Change, bool) {
	if s.DeviceID == "" || s.DeviceID == t.localID {
		return Change{}, false
	}
	if s.Gone {
		return t.remove(s.DeviceID, PeerRemoved)
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	p := Peer{
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		Addr:       net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		LastSeen:   now,
		Expires:    now.Add(ttl),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.peers[s.DeviceID]
	t.peers[s.DeviceID] = p
	switch {
	case !ok:
		return Change{Kind: PeerAdded, Peer: p}, true
	case prev.Addr != p.Addr || prev.DeviceName != p.DeviceName:
		return Change{Kind: PeerUpdated, Peer: p}, true
	default:
		return Change{}, false
	}
}

// Remove drops a peer.
func (t *PeerTable) Remove(deviceID string) (Change, bool) {
	return t.remove(deviceID, PeerRemoved)
}

func (t *PeerTable) remove(deviceID string, kind ChangeKind) (Change, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[deviceID]
	if !ok {
		return Change{}, false
	}
	delete(t.peers, deviceID)
	return Change{Kind: kind, Peer: p}, true
}

// Expire removes peers whose TTL lapsed before now.
func (t *PeerTable) Expire(now time.Time) []Change {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Change
	for id, p := range t.peers {
		if now.After(p.Expires) {
			delete(t.peers, id)
			out = append(out, Change{Kind: PeerExpired, Peer: p})
		}
	}
	slices.SortFunc(out, func(a, b Change) int { return strings.Compare(a.Peer.DeviceID, b.Peer.DeviceID) })
	return out
}

// Get returns the peer with deviceID.
func (t *PeerTable) Get(deviceID string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[deviceID]
	return p, ok
}

// List returns all peers ordered by device id.
func (t *PeerTable) List() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// Len returns the number of peers.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
