// Package router implements the overlay's distance-vector routing table:
// sequence-numbered route entries (DSDV-style), the (seq, -hops)
// monotonicity rule for accepting updates, and the outdated/dead aging
// bands used to retire routes that stop being refreshed.
//
// Grounded on reb's versioned-state-under-RWMutex pattern (reb/status.go:
// a snapshot taken under RLock, staleness judged against a last-update
// timestamp) adapted from cluster-map versions to per-destination route
// freshness.
package router

import (
	"encoding/binary"
	"sync"

	"github.com/peismesh/kernel/config"
)

// Hops aging bands: 0..249 are live hop counts, 250..253
// mark a route that hasn't been refreshed recently ("outdated"), and 254
// marks a route as dead (about to be evicted). 255 is an internal-only
// sentinel used by RoutingView.MarkAllStale, never sent on the wire.
const (
	lostHops uint8 = 255
)

// Advert is one entry of a routing page as exchanged between neighbours:
// "I can reach Dest in Hops hops, as of my Seq-th advertisement of it."
type Advert struct {
	Dest int32
	Hops uint8
	Seq  uint32
}

const advertSize = 4 + 1 + 4

// EncodePage serializes a routing page of up to 70 entries.
func EncodePage(page []Advert) []byte {
	buf := make([]byte, len(page)*advertSize)
	for i, a := range page {
		off := i * advertSize
		binary.BigEndian.PutUint32(buf[off:], uint32(a.Dest))
		buf[off+4] = a.Hops
		binary.BigEndian.PutUint32(buf[off+5:], a.Seq)
	}
	return buf
}

// DecodePage parses a routing page payload.
func DecodePage(buf []byte) []Advert {
	n := len(buf) / advertSize
	page := make([]Advert, n)
	for i := 0; i < n; i++ {
		off := i * advertSize
		page[i] = Advert{
			Dest: int32(binary.BigEndian.Uint32(buf[off:])),
			Hops: buf[off+4],
			Seq:  binary.BigEndian.Uint32(buf[off+5:]),
		}
	}
	return page
}

// RouteEntry is the table's view of the best known path to one destination.
type RouteEntry struct {
	Dest        int32
	NextHop     int32 // peer ID of the neighbour to forward through
	Hops        uint8
	Seq         uint32
	LastUpdated int64 // clock.Mono() at last refresh
}

// Table is one host's full routing table plus its own advertised sequence
// counter.
type Table struct {
	mu      sync.RWMutex
	self    int32
	seq     uint32
	entries map[int32]*RouteEntry
	cfg     *config.Config
	onDead  func(dest int32)
}

func New(self int32, cfg *config.Config) *Table {
	return &Table{self: self, entries: make(map[int32]*RouteEntry), cfg: cfg}
}

// OnRouteDead registers a callback fired when a route's age crosses
// RouteDeadBand and the entry is evicted. The kernel wires this to
// hostreg.Remove(dest, hostreg.DeadRoute).
func (t *Table) OnRouteDead(cb func(dest int32)) { t.onDead = cb }

// Ingest applies one neighbour's routing page, received over the
// connection identified by fromPeer (which becomes the NextHop for any
// accepted entry). Accepts an update only when it strictly improves on the
// (seq, -hops) ordering: greater Seq always wins; equal Seq only if Hops is
// lower.
func (t *Table) Ingest(fromPeer int32, page []Advert, linkCost int, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range page {
		if a.Dest == t.self {
			continue // never install a route back to ourselves
		}
		hops := a.Hops
		if int(hops)+linkCost < int(lostHops) {
			hops += uint8(linkCost)
		}
		cur, ok := t.entries[a.Dest]
		if !ok {
			t.entries[a.Dest] = &RouteEntry{Dest: a.Dest, NextHop: fromPeer, Hops: hops, Seq: a.Seq, LastUpdated: now}
			continue
		}
		if a.Seq > cur.Seq || (a.Seq == cur.Seq && hops < cur.Hops) {
			cur.NextHop, cur.Hops, cur.Seq, cur.LastUpdated = fromPeer, hops, a.Seq, now
		}
	}
}

// Lookup returns the current best route to dest.
func (t *Table) Lookup(dest int32) (*RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[dest]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Page builds this host's own outgoing routing page: every known route plus
// a zero-hop self-entry, capped at cfg.RouteMaxEntries and truncating the
// highest-hop entries first when over the 70-entry-per-page budget.
func (t *Table) Page(now int64) []Advert {
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	t.mu.RLock()
	defer t.mu.RUnlock()
	page := make([]Advert, 0, len(t.entries)+1)
	page = append(page, Advert{Dest: t.self, Hops: 0, Seq: seq})
	for _, e := range t.entries {
		if int(e.Hops) >= t.cfg.RouteDeadBand {
			continue
		}
		page = append(page, Advert{Dest: e.Dest, Hops: e.Hops, Seq: e.Seq})
	}
	if len(page) > t.cfg.RouteMaxEntries {
		page = truncateWorst(page, t.cfg.RouteMaxEntries)
	}
	return page
}

func truncateWorst(page []Advert, max int) []Advert {
	for len(page) > max {
		worst := 0
		for i := 1; i < len(page); i++ {
			if page[i].Hops > page[worst].Hops {
				worst = i
			}
		}
		page[worst] = page[len(page)-1]
		page = page[:len(page)-1]
	}
	return page
}

// AgeSweep advances every entry not refreshed since refreshBefore one step
// into the outdated band, and evicts any entry that has reached
// RouteDeadBand, firing onDead for each. Called once per RoutePeriod tick.
func (t *Table) AgeSweep(now, refreshBefore int64) {
	t.mu.Lock()
	var dead []int32
	for dest, e := range t.entries {
		if e.LastUpdated > refreshBefore {
			continue // refreshed recently enough, leave it be
		}
		if int(e.Hops) < t.cfg.RouteOutdatedBand {
			e.Hops = uint8(t.cfg.RouteOutdatedBand)
		} else {
			e.Hops++
		}
		if int(e.Hops) >= t.cfg.RouteDeadBand {
			dead = append(dead, dest)
		}
	}
	for _, dest := range dead {
		delete(t.entries, dest)
	}
	cb := t.onDead
	t.mu.Unlock()
	if cb != nil {
		for _, dest := range dead {
			cb(dest)
		}
	}
}

// Len reports how many destinations are currently routable.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// LinkView is a Connection's per-link snapshot of routes as last advertised
// by that neighbour specifically. It
// implements transport.RoutingView.
type LinkView struct {
	mu      sync.Mutex
	entries map[int32]uint8 // dest -> last-advertised hop count from this link
}

func NewLinkView() *LinkView { return &LinkView{entries: make(map[int32]uint8)} }

// MarkAllStale sets every entry's hop count to the lost sentinel before a
// fresh routing page from this link is ingested; entries that are absent
// from the new page then age out naturally instead of being trusted forever.
func (v *LinkView) MarkAllStale() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for d := range v.entries {
		v.entries[d] = lostHops
	}
}

// Update records the hop count this link most recently advertised for dest.
func (v *LinkView) Update(dest int32, hops uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[dest] = hops
}
