// Package dispatcher is the kernel's port-indexed hook registry and the
// home of the two message-plane algorithms that need global connection
// knowledge: stochastic-flooding broadcast and long-message fragmentation
// via send_reliable.
//
// Grounded on xact/xreg's registry-of-renewables shape (xact/xreg/xreg.go:
// a process-wide table guarded by a mutex, looked up by a small key,
// entries registered once at startup) adapted from xaction-kind lookup to
// port-number lookup.
package dispatcher

import (
	"errors"
	"math/rand"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/cos"
	"github.com/peismesh/kernel/loopstore"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/router"
	"github.com/peismesh/kernel/transport"
	"github.com/peismesh/kernel/wire"
)

// errPoolExhausted is returned by enqueueCopy when the process-wide
// QueuedPackage ceiling has been reached.
var errPoolExhausted = errors.New("dispatcher: queued-package pool exhausted")

// Hook is invoked for every Package delivered to a given port, whether
// received from the network or looped back locally.
type Hook func(p *wire.Package, fromConn int32)

// Dispatcher owns loop-dedup, routing/forwarding decisions and the port
// hook table. The kernel's Step feeds it every Package that ProcessIncoming
// produces.
type Dispatcher struct {
	cfg    *config.Config
	loop   *loopstore.Store
	routes *router.Table
	pool   *pool.Pool
	hooks  map[uint16][]Hook
	conns  map[int32]*transport.Connection
	selfID int32
}

func New(cfg *config.Config, routes *router.Table, pl *pool.Pool, selfID int32) *Dispatcher {
	return &Dispatcher{
		cfg: cfg, routes: routes, pool: pl, selfID: selfID,
		loop:  loopstore.New(cfg.LoopRingSize, cfg.LoopBuckets),
		hooks: make(map[uint16][]Hook),
		conns: make(map[int32]*transport.Connection),
	}
}

// RegisterHook registers fn to run on every Package delivered locally on port.
func (d *Dispatcher) RegisterHook(port uint16, fn Hook) {
	d.hooks[port] = append(d.hooks[port], fn)
}

// AddConn/RemoveConn maintain the live connection set dispatch forwards and
// floods through, keyed by the established peer's PeerID — the same value
// router.Table.RouteEntry.NextHop carries, so route lookups resolve
// directly to a Connection without a second indirection.
func (d *Dispatcher) AddConn(peerID int32, c *transport.Connection) { d.conns[peerID] = c }
func (d *Dispatcher) RemoveConn(peerID int32)                       { delete(d.conns, peerID) }
func (d *Dispatcher) NumConns() int                                 { return len(d.conns) }

// Dispatch processes one Package freshly received on fromConn: drops it if
// already seen (loop detection), otherwise delivers it locally and/or
// forwards or re-floods it depending on its Type.
func (d *Dispatcher) Dispatch(p *wire.Package, fromConn int32) {
	if d.loop.Seen(p.ID) {
		return
	}
	d.loop.Remember(p.ID)

	switch p.Type {
	case wire.TypeLinkLocal:
		d.deliverLocal(p, fromConn)
	case wire.TypeBroadcast:
		d.deliverLocal(p, fromConn)
		d.reflood(p, fromConn)
	case wire.TypeDirected:
		if p.Destination == d.selfID {
			d.deliverLocal(p, fromConn)
			return
		}
		d.forward(p, fromConn)
	}
}

func (d *Dispatcher) deliverLocal(p *wire.Package, fromConn int32) {
	for _, h := range d.hooks[p.Port] {
		h(p, fromConn)
	}
}

// reflood re-sends a broadcast Package to up to cfg.BroadcastFanout random
// connections other than the one it arrived on (stochastic flooding
// broadcast).
func (d *Dispatcher) reflood(p *wire.Package, fromConn int32) {
	if int(p.Hops) >= d.cfg.RouteHopCap {
		return
	}
	candidates := make([]*transport.Connection, 0, len(d.conns))
	for id, c := range d.conns {
		if id != fromConn {
			candidates = append(candidates, c)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	k := d.cfg.BroadcastFanout
	if k > len(candidates) {
		k = len(candidates)
	}
	for i := 0; i < k; i++ {
		d.enqueueCopy(candidates[i], p, transport.PriBulk)
	}
}

// forward sends a directed Package one hop closer to its destination via
// the routing table's current NextHop, dropping it if no route exists or
// the hop cap has been reached.
func (d *Dispatcher) forward(p *wire.Package, fromConn int32) error {
	if int(p.Hops) >= d.cfg.RouteHopCap {
		return nil
	}
	e, ok := d.routes.Lookup(p.Destination)
	if !ok {
		return cos.NewErrNoRoute(p.Destination)
	}
	c, ok := d.conns[e.NextHop]
	if !ok {
		return cos.NewErrNoRoute(p.Destination)
	}
	return d.enqueueCopy(c, p, transport.PriNormal)
}

func (d *Dispatcher) enqueueCopy(c *transport.Connection, p *wire.Package, prio transport.Priority) error {
	qp := d.pool.Get()
	if qp == nil {
		return errPoolExhausted
	}
	qp.Pkg = *p
	qp.Pkg.Hops++
	return c.Enqueue(qp, prio)
}

// Broadcast originates a new broadcast Package locally: assigns it a fresh
// packageID (so the loop store won't immediately treat a later echo as a
// dup of something we never actually sent) and floods it to every
// connection up to the fanout.
func (d *Dispatcher) Broadcast(port uint16, payload []byte) {
	id := cos.RandUint32() | 1
	d.loop.Remember(id)
	p := &wire.Package{
		Header: wire.Header{
			Sync: wire.SyncConst, ID: id, Source: d.selfID,
			Destination: wire.BroadcastDest, Type: wire.TypeBroadcast,
			Port: port, Datalen: uint16(len(payload)),
		},
		Payload: payload,
	}
	d.reflood(p, -1)
}

// SendReliable splits payload into cfg.MaxPayload-sized fragments sharing
// one SeqID, sets RequestAck on each, and enqueues them on the Connection
// toward dest's current next hop. A
// single-fragment message is still tagged (SeqLen=1) so the receiver's
// Reassembler path is exercised uniformly.
func (d *Dispatcher) SendReliable(dest int32, port uint16, payload []byte, prio transport.Priority) error {
	c, typ, err := d.nextHopFor(dest)
	if err != nil {
		return err
	}
	maxPayload := d.cfg.MaxPayload
	n := (len(payload) + maxPayload - 1) / maxPayload
	if n == 0 {
		n = 1
	}
	seqID := uint16(cos.RandUint32())
	for i := 0; i < n; i++ {
		lo := i * maxPayload
		hi := lo + maxPayload
		if hi > len(payload) {
			hi = len(payload)
		}
		frag := payload[lo:hi]
		qp := d.pool.Get()
		if qp == nil {
			return errPoolExhausted
		}
		qp.Pkg = wire.Package{
			Header: wire.Header{
				Sync: wire.SyncConst, ID: cos.RandUint32() | 1, Source: d.selfID,
				Destination: dest, Type: typ, Port: port, Flags: wire.RequestAck,
				Datalen: uint16(len(frag)), SeqLen: uint16(n), SeqID: seqID, SeqNum: uint16(i),
			},
			Payload: frag,
		}
		if err := c.Enqueue(qp, prio); err != nil {
			return err
		}
	}
	return nil
}

// nextHopFor picks the Connection and wire.Type to use for reaching dest:
// TypeLinkLocal when dest is a direct neighbour, otherwise TypeDirected via
// the routing table.
func (d *Dispatcher) nextHopFor(dest int32) (*transport.Connection, wire.Type, error) {
	if c, ok := d.conns[dest]; ok {
		return c, wire.TypeLinkLocal, nil
	}
	e, ok := d.routes.Lookup(dest)
	if !ok {
		return nil, 0, cos.NewErrNoRoute(dest)
	}
	c, ok := d.conns[e.NextHop]
	if !ok {
		return nil, 0, cos.NewErrNoRoute(dest)
	}
	return c, wire.TypeDirected, nil
}
