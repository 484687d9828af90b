package connmgr

import (
	"testing"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/transport"
	"github.com/peismesh/kernel/wire"
)

func mkConn(id int32, peerID int32, cfg *config.Config, createdAt int64, value float64) *transport.Connection {
	c := transport.New(id, nil, cfg, nil)
	c.Peer = &wire.HostInfo{PeerID: peerID}
	c.CreatedAt = createdAt
	c.Value = value
	return c
}

func TestEvaluateRequestsDialWhenBelowMinAuto(t *testing.T) {
	cfg := config.Default()
	cfg.MinAuto = 2
	m := New(cfg)
	d := m.Evaluate(0, nil, 5)
	if !d.DialMore {
		t.Fatalf("expected DialMore with zero connections and known hosts available")
	}
}

func TestEvaluateDoesNotDialWithNoKnownHosts(t *testing.T) {
	cfg := config.Default()
	m := New(cfg)
	d := m.Evaluate(0, nil, 0)
	if d.DialMore {
		t.Fatalf("must not request a dial with nothing known to dial")
	}
}

func TestEvaluateEvictsWorstOverMaxAuto(t *testing.T) {
	cfg := config.Default()
	cfg.MaxAuto = 1
	cfg.ConnMinAge = 0
	m := New(cfg)
	c1 := mkConn(1, 1, cfg, 0, 10)
	c2 := mkConn(2, 2, cfg, 0, 1)
	d := m.Evaluate(1000, []*transport.Connection{c1, c2}, 0)
	if len(d.Close) != 1 || d.Close[0] != c2 {
		t.Fatalf("expected the lowest-value connection evicted, got %+v", d.Close)
	}
}

func TestEvaluateSparesConnectionsYoungerThanMinAge(t *testing.T) {
	cfg := config.Default()
	cfg.MaxAuto = 0
	cfg.ConnMinAge = 1000
	m := New(cfg)
	c1 := mkConn(1, 1, cfg, 900, 0)
	d := m.Evaluate(1000, []*transport.Connection{c1}, 0)
	if len(d.Close) != 0 {
		t.Fatalf("connection younger than ConnMinAge must not be evicted yet")
	}
}

func TestUpdateValueComputesBytesPerSecond(t *testing.T) {
	cfg := config.Default()
	m := New(cfg)
	c := mkConn(1, 1, cfg, 0, 0)
	c.UsefulIn = 1000
	c.UsefulOut = 1000
	m.UpdateValue(c, int64(2e9)) // 2 seconds of age
	if c.Value != 1000 {
		t.Fatalf("expected 1000 bytes/sec, got %f", c.Value)
	}
}

func TestShouldForceLinkAboveThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.ForceLinkThreshold = 500
	m := New(cfg)
	c := mkConn(1, 1, cfg, 0, 0)
	c.UsefulOut = 1000
	if !m.ShouldForceLink(c, int64(1e9)) {
		t.Fatalf("expected force-link at 1000 bytes/sec over an 500 B/s threshold")
	}
}

func TestDedupeNeverClosesTheSoleConnectionToAPeer(t *testing.T) {
	cfg := config.Default()
	cfg.MinAuto = 0
	m := New(cfg)
	c := mkConn(1, 42, cfg, 0, 5)
	d := m.Evaluate(0, []*transport.Connection{c}, 0)
	if len(d.Close) != 0 {
		t.Fatalf("a lone connection to a peer must never be closed by dedupe")
	}
}
