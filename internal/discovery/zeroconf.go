package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the DNS-SD service type.
	DefaultService = "_crmorbit._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultPort is the default sync port.
	DefaultPort = 8765

	txtDeviceID   = "deviceId"
	txtDeviceName = "deviceName"
)

// Announcement is what a device publishes about itself.
type Announcement struct {
	DeviceID   string
	DeviceName string
	Port       int
}

// TXT returns the TXT record entries.
func (a Announcement) TXT() []string {
	return []string{
		txtDeviceID + "=" + a.DeviceID,
		txtDeviceName + "=" + a.DeviceName,
	}
}

// Advertiser publishes an announcement until the returned stop func is
// called.
type Advertiser interface {
	Advertise(ctx context.Context, service, domain string, a Announcement) (stop func(), err error)
}

// Browser reports sightings of service until ctx is canceled.
type Browser interface {
	Browse(ctx context.Context, service, domain string, found func(Sighting)) error
}

// Zeroconf implements Advertiser and Browser with
// github.com/grandcat/zeroconf.
type Zeroconf struct{}

// Advertise registers a DNS-SD instance named after the device id.
func (Zeroconf) Advertise(_ context.Context, service, domain string, a Announcement) (func(), error) {
	srv, err := zeroconf.Register(a.DeviceID, service, domain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", service, err)
	}
	return srv.Shutdown, nil
}

// Browse resolves service instances and converts them to sightings until
// ctx is done. The resolver reports each instance once and never delivers
// goodbyes, so callers re-browse to refresh peers. Entries without a
// deviceId TXT entry are ignored.
func (Zeroconf) Browse(ctx context.Context, service, domain string, found func(Sighting)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	// The resolver closes entries once ctx is done.
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if s, ok := sightingFrom(entry); ok {
				found(s)
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", service, err)
	}
	<-ctx.Done()
	return nil
}

func sightingFrom(e *zeroconf.ServiceEntry) (Sighting, bool) {
	txt := parseTXT(e.Text)
	id := txt[txtDeviceID]
	if id == "" {
		return Sighting{}, false
	}

	host := strings.TrimSuffix(e.HostName, ".")
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	}
	if host == "" {
		return Sighting{}, false
	}

	return Sighting{
		DeviceID:   id,
		DeviceName: txt[txtDeviceName],
		Host:       host,
		Port:       e.Port,
		TTL:        time.Duration(e.TTL) * time.Second,
	}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
