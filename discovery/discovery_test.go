package discovery

import (
	"testing"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/wire"
)

type fakeBeaconDriver struct {
	sent    [][]byte
	inbound [][]byte
}

func (f *fakeBeaconDriver) BroadcastBeacon(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeBeaconDriver) RecvBeacon() ([]byte, string, error) {
	if len(f.inbound) == 0 {
		return nil, "", nil
	}
	p := f.inbound[0]
	f.inbound = f.inbound[1:]
	return p, "239.0.0.1:1", nil
}

func TestBroadcastBeaconEncodesSelf(t *testing.T) {
	cfg := config.Default()
	cfg.NetworkString = "net-a"
	fd := &fakeBeaconDriver{}
	self := &wire.HostInfo{PeerID: 7, Hostname: "me"}
	d := New(cfg, fd, self)
	if err := d.BroadcastBeacon(); err != nil {
		t.Fatalf("BroadcastBeacon: %v", err)
	}
	if len(fd.sent) != 1 {
		t.Fatalf("expected one beacon sent")
	}
	b, err := wire.DecodeBeacon(fd.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.NetworkString != "net-a" || b.Host.PeerID != 7 {
		t.Fatalf("unexpected beacon contents: %+v", b)
	}
}

func TestPollBeaconsFiltersOtherNetworks(t *testing.T) {
	cfg := config.Default()
	cfg.NetworkString = "net-a"
	fd := &fakeBeaconDriver{}
	mine := wire.Beacon{Version: 1, NetworkString: "net-a", Host: &wire.HostInfo{PeerID: 1}}
	other := wire.Beacon{Version: 1, NetworkString: "net-b", Host: &wire.HostInfo{PeerID: 2}}
	fd.inbound = [][]byte{wire.EncodeBeacon(&mine), wire.EncodeBeacon(&other)}

	d := New(cfg, fd, &wire.HostInfo{PeerID: 99})
	hosts := d.PollBeacons()
	if len(hosts) != 1 || hosts[0].PeerID != 1 {
		t.Fatalf("expected only the matching-network beacon, got %+v", hosts)
	}
}

func TestAutoHostDueAfterRetryInterval(t *testing.T) {
	cfg := config.Default()
	cfg.AutoHostRetry = 100
	d := New(cfg, &fakeBeaconDriver{}, &wire.HostInfo{})
	d.AddAutoHost("10.0.0.1:9")

	if due := d.DueAutoHosts(0); len(due) != 1 {
		t.Fatalf("expected immediately due on first check, got %v", due)
	}
	d.MarkAttempted("10.0.0.1:9", 0)
	if due := d.DueAutoHosts(50); len(due) != 0 {
		t.Fatalf("should not be due before retry interval elapses")
	}
	if due := d.DueAutoHosts(150); len(due) != 1 {
		t.Fatalf("expected due again after retry interval")
	}
}

func TestAutoHostNotDueWhileConnected(t *testing.T) {
	cfg := config.Default()
	d := New(cfg, &fakeBeaconDriver{}, &wire.HostInfo{})
	d.AddAutoHost("10.0.0.1:9")
	d.MarkConnected("10.0.0.1:9", true)
	if due := d.DueAutoHosts(1e9); len(due) != 0 {
		t.Fatalf("a connected AutoHost must not be proposed for dialing")
	}
}
