// Package discovery drives peer discovery: periodic multicast beacon
// broadcast/receipt, and the AutoHost lifecycle for statically configured
// peer addresses that should be (re)dialed whenever not currently connected
//.
package discovery

import (
	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/wire"
)

// Discovery owns the beacon channel and the set of configured AutoHosts.
type Discovery struct {
	cfg    *config.Config
	driver linkdriver.BeaconDriver
	self   *wire.HostInfo

	autoHosts map[string]*autoHost
}

type autoHost struct {
	addr        string
	lastAttempt int64
	attempted   bool
	connected   bool
}

func New(cfg *config.Config, driver linkdriver.BeaconDriver, self *wire.HostInfo) *Discovery {
	return &Discovery{cfg: cfg, driver: driver, self: self, autoHosts: make(map[string]*autoHost)}
}

// BroadcastBeacon sends one beacon advertising self over the multicast
// channel.
func (d *Discovery) BroadcastBeacon() error {
	b := wire.Beacon{Version: 1, NetworkString: d.cfg.NetworkString, Host: d.self}
	return d.driver.BroadcastBeacon(wire.EncodeBeacon(&b))
}

// PollBeacons drains every pending beacon from the driver, decoding and
// filtering out ones for a different network string. Returns the HostInfo
// of every accepted sighting for the caller to feed into hostreg.Observe.
func (d *Discovery) PollBeacons() []*wire.HostInfo {
	var out []*wire.HostInfo
	for {
		payload, _, err := d.driver.RecvBeacon()
		if err != nil || payload == nil {
			return out
		}
		b, derr := wire.DecodeBeacon(payload)
		if derr != nil || b.NetworkString != d.cfg.NetworkString {
			continue
		}
		out = append(out, b.Host)
	}
}

// AddAutoHost registers a statically configured peer address to keep
// (re)dialing whenever it isn't currently connected.
func (d *Discovery) AddAutoHost(addr string) {
	if _, ok := d.autoHosts[addr]; ok {
		return
	}
	d.autoHosts[addr] = &autoHost{addr: addr}
}

func (d *Discovery) RemoveAutoHost(addr string) { delete(d.autoHosts, addr) }

// MarkConnected records whether addr currently has a live connection, so
// DueAutoHosts stops proposing it.
func (d *Discovery) MarkConnected(addr string, connected bool) {
	if h, ok := d.autoHosts[addr]; ok {
		h.connected = connected
	}
}

// MarkAttempted records that a dial attempt to addr was just made, resetting
// its retry clock.
func (d *Discovery) MarkAttempted(addr string, now int64) {
	if h, ok := d.autoHosts[addr]; ok {
		h.lastAttempt = now
		h.attempted = true
	}
}

// DueAutoHosts returns every AutoHost address that is not currently
// connected and hasn't been attempted within cfg.AutoHostRetry.
func (d *Discovery) DueAutoHosts(now int64) []string {
	var due []string
	for addr, h := range d.autoHosts {
		if h.connected {
			continue
		}
		if !h.attempted || now-h.lastAttempt >= int64(d.cfg.AutoHostRetry) {
			due = append(due, addr)
		}
	}
	return due
}
