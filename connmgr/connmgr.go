// Package connmgr decides which links to keep, which to open, and which to
// close: the link-count band (MinAuto/MaxAuto/MaxForcedAuto), value-based
// eviction of the least useful auto connection, the force-link traffic
// threshold, and damped duplicate-connection closing.
//
// Grounded on mirror's config-band-driven policy functions (mirror/
// put_mirror.go: compare a runtime count against a cmn.MirrorConf band and
// decide an action) adapted from "how many local replicas" to "how many
// live links".
package connmgr

import (
	"math/rand"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/transport"
)

// Decision is one tick's verdict: whether to look for more peers to dial,
// and which existing connections to close.
type Decision struct {
	DialMore bool
	Close    []*transport.Connection
}

// Manager holds no connection state of its own — the kernel owns the
// connection set and passes it in each tick — only the configuration the
// policy is evaluated against.
type Manager struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Manager { return &Manager{cfg: cfg} }

// UpdateValue recomputes a Connection's Value score: useful bytes per
// second of age, the metric ConnMgr ranks auto connections by when deciding
// which to evict.
func (m *Manager) UpdateValue(c *transport.Connection, now int64) {
	ageSec := float64(now-c.CreatedAt) / 1e9
	if ageSec <= 0 {
		c.Value = 0
		return
	}
	c.Value = float64(c.UsefulIn+c.UsefulOut) / ageSec
}

// ShouldForceLink reports whether c's recent useful throughput exceeds
// cfg.ForceLinkThreshold bytes/sec, in which case it must be exempted from
// count-band eviction regardless of how many other links are open.
func (m *Manager) ShouldForceLink(c *transport.Connection, now int64) bool {
	ageSec := float64(now-c.CreatedAt) / 1e9
	if ageSec <= 0 {
		return false
	}
	return float64(c.UsefulIn+c.UsefulOut)/ageSec >= float64(m.cfg.ForceLinkThreshold)
}

// Evaluate applies the full policy for one tick. knownHosts is the number
// of peers currently known to hostreg but not yet connected to, used to
// decide whether dialing more is even possible.
func (m *Manager) Evaluate(now int64, conns []*transport.Connection, knownHosts int) Decision {
	var auto, forced []*transport.Connection
	for _, c := range conns {
		if c.ForceBcast {
			forced = append(forced, c)
		} else {
			auto = append(auto, c)
		}
	}

	d := Decision{}
	if len(auto) < m.cfg.MinAuto && knownHosts > 0 {
		d.DialMore = true
	}
	if len(auto) > m.cfg.MaxAuto {
		d.Close = append(d.Close, pickWorst(auto, len(auto)-m.cfg.MaxAuto, now, int64(m.cfg.ConnMinAge))...)
	}
	if len(forced) > m.cfg.MaxForcedAuto {
		d.Close = append(d.Close, pickWorst(forced, len(forced)-m.cfg.MaxForcedAuto, now, int64(m.cfg.ConnMinAge))...)
	}
	d.Close = append(d.Close, m.dedupeConnections(conns)...)
	return d
}

// pickWorst returns up to n connections older than minAge with the lowest
// Value score, the eviction candidates when a band is over budget.
func pickWorst(conns []*transport.Connection, n int, now int64, minAge int64) []*transport.Connection {
	eligible := make([]*transport.Connection, 0, len(conns))
	for _, c := range conns {
		if now-c.CreatedAt >= int64(minAge) {
			eligible = append(eligible, c)
		}
	}
	if n > len(eligible) {
		n = len(eligible)
	}
	out := make([]*transport.Connection, 0, n)
	for i := 0; i < n; i++ {
		worst := 0
		for j := 1; j < len(eligible); j++ {
			if eligible[j].Value < eligible[worst].Value {
				worst = j
			}
		}
		out = append(out, eligible[worst])
		eligible[worst] = eligible[len(eligible)-1]
		eligible = eligible[:len(eligible)-1]
	}
	return out
}

// dedupeConnections finds peers reachable over more than one Connection and
// closes every redundant one with probability cfg.DupCloseProb per tick
// closing with 30% probability, damped so that both ends of a simultaneous
// double-dial don't deterministically close the same side and end up with
// zero links.
func (m *Manager) dedupeConnections(conns []*transport.Connection) []*transport.Connection {
	byPeer := make(map[int32][]*transport.Connection)
	for _, c := range conns {
		if c.Peer == nil {
			continue
		}
		byPeer[c.Peer.PeerID] = append(byPeer[c.Peer.PeerID], c)
	}
	var out []*transport.Connection
	for _, group := range byPeer {
		if len(group) < 2 {
			continue
		}
		best := 0
		for i := 1; i < len(group); i++ {
			if group[i].Value > group[best].Value {
				best = i
			}
		}
		for i, c := range group {
			if i == best {
				continue
			}
			if rand.Float64() < m.cfg.DupCloseProb {
				out = append(out, c)
			}
		}
	}
	return out
}
