// Package kernel assembles every other package into a single cooperative
// core: one Step drives accept, handshake
// completion, inbound/outbound draining and periodic housekeeping, with no
// goroutines of its own. A thin multithreaded wrapper (Run/Stop) is offered
// for callers who want a dedicated goroutine driving Step on a fixed tick,
// rather than an always-multithreaded default.
//
// Grounded on cmn.GCO's single-owned-structure pattern: one struct, built
// once, whose fields every other package either reads through an accessor
// or never touches directly.
package kernel

import (
	"sync"
	"time"

	"github.com/peismesh/kernel/clock"
	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/connmgr"
	"github.com/peismesh/kernel/cos"
	"github.com/peismesh/kernel/discovery"
	"github.com/peismesh/kernel/dispatcher"
	"github.com/peismesh/kernel/hk"
	"github.com/peismesh/kernel/hostreg"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/nlog"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/router"
	"github.com/peismesh/kernel/stats"
	"github.com/peismesh/kernel/transport"
	"github.com/peismesh/kernel/wire"
)

// pendingHandshake is a link that has been established at the driver level
// but hasn't yet exchanged the application handshake.
type pendingHandshake struct {
	link     linkdriver.Link
	outbound bool
	sentAt   int64
}

// Kernel is one host's complete runtime state.
type Kernel struct {
	cfg  *config.Config
	self *wire.HostInfo

	driver   linkdriver.Driver
	beacon   linkdriver.BeaconDriver
	listener linkdriver.Listener

	pool        *pool.Pool
	routes      *router.Table
	hosts       *hostreg.Registry
	disp        *dispatcher.Dispatcher
	connMgr     *connmgr.Manager
	disc        *discovery.Discovery
	hk          *hk.Housekeeper
	reassembler *transport.Reassembler
	ackmgr      *transport.AckMgr
	stats       *stats.Stats

	conns      map[int32]*transport.Connection // keyed by PeerID, established only
	pending    []*pendingHandshake
	dialing    []linkdriver.PendingLink
	nextConnID int32

	mu     sync.Mutex // guards conns/pending/dialing for the multithreaded wrapper
	stopCh chan struct{}
}

// New builds a Kernel around self's identity and the given link driver. st
// may be nil, in which case every stats call is a no-op.
func New(cfg *config.Config, self *wire.HostInfo, driver linkdriver.Driver, st *stats.Stats) *Kernel {
	k := &Kernel{
		cfg: cfg, self: self, driver: driver, stats: st,
		pool:        pool.New(cfg.QueuedPkgCeil),
		routes:      router.New(self.PeerID, cfg),
		hosts:       hostreg.New(),
		hk:          hk.New(),
		reassembler: transport.NewReassembler(cfg),
		ackmgr:      transport.NewAckMgr(cfg),
		conns:       make(map[int32]*transport.Connection),
		stopCh:      make(chan struct{}),
	}
	k.connMgr = connmgr.New(cfg)
	k.disp = dispatcher.New(cfg, k.routes, k.pool, self.PeerID)
	if bd, ok := driver.(linkdriver.BeaconDriver); ok {
		k.beacon = bd
		k.disc = discovery.New(cfg, bd, self)
	}
	k.routes.OnRouteDead(func(dest int32) { k.hosts.Remove(dest, hostreg.DeadRoute) })
	k.registerPeriodics()
	return k
}

func (k *Kernel) registerPeriodics() {
	k.hk.Reg("route-broadcast", k.cfg.RoutePeriod, func() time.Duration {
		k.broadcastRoutes()
		return 0
	})
	k.hk.Reg("ack-flush", k.cfg.AckBatchPeriod, func() time.Duration {
		k.flushAcks()
		return 0
	})
	k.hk.Reg("assembly-sweep", k.cfg.AssemblyTimeout, func() time.Duration {
		n := k.reassembler.Sweep(clock.Mono())
		if n > 0 {
			nlog.Infof("kernel: dropped %d incomplete assembly buffer(s) on timeout", n)
		}
		k.stats.SetAssemblyPending(k.reassembler.Pending())
		return 0
	})
	k.hk.Reg("host-sweep", k.cfg.ConnTimeout, func() time.Duration {
		k.hosts.SweepStale(clock.Mono(), int64(k.cfg.ConnTimeout))
		return 0
	})
	k.hk.Reg("route-age", k.cfg.RoutePeriod, func() time.Duration {
		k.routes.AgeSweep(clock.Mono(), clock.Mono()-int64(k.cfg.RoutePeriod)*2)
		return 0
	})
	if k.beacon != nil {
		k.hk.Reg("beacon", k.cfg.BeaconPeriod, func() time.Duration {
			if err := k.disc.BroadcastBeacon(); err != nil {
				nlog.Warningf("kernel: beacon broadcast failed: %v", err)
			}
			return 0
		})
	}
	k.hk.Reg("conn-mgr", k.cfg.ConnTimeout, func() time.Duration {
		k.tickConnMgr()
		return 0
	})
}

// Listen opens a listener for inbound links at addr.
func (k *Kernel) Listen(addr string) error {
	ln, err := k.driver.Listen(addr)
	if err != nil {
		return err
	}
	k.listener = ln
	return nil
}

// Connect begins an outbound dial; the resulting link is finished
// asynchronously by Step.
func (k *Kernel) Connect(addr string) error {
	p, err := k.driver.Dial(addr)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.dialing = append(k.dialing, p)
	k.mu.Unlock()
	return nil
}

// AddAutoHost registers a statically configured peer with Discovery, which
// proposes it for dialing when the connection manager wants more links.
// Discovery exists only when the link driver also implements
// linkdriver.BeaconDriver; otherwise the call does nothing.
func (k *Kernel) AddAutoHost(addr string) {
	if k.disc != nil {
		k.disc.AddAutoHost(addr)
	}
}

// RegisterHook exposes the dispatcher's port hook table to applications
// built on top of the kernel (e.g. tuplesvc).
func (k *Kernel) RegisterHook(port uint16, fn dispatcher.Hook) { k.disp.RegisterHook(port, fn) }

// SendReliable fragments and reliably delivers payload to dest on port,
// passing through to the dispatcher.
func (k *Kernel) SendReliable(dest int32, port uint16, payload []byte, prio transport.Priority) error {
	return k.disp.SendReliable(dest, port, payload, prio)
}

// Broadcast floods payload to every connection up to the broadcast fanout.
func (k *Kernel) Broadcast(port uint16, payload []byte) { k.disp.Broadcast(port, payload) }

// NumConns reports the number of established connections.
func (k *Kernel) NumConns() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.conns)
}

// Step runs one full cooperative iteration: accept/handshake, drain every
// connection's inbound and outbound traffic, then run due periodics
//.
func (k *Kernel) Step() {
	now := clock.Mono()
	k.acceptAndDial(now)
	k.advanceHandshakes(now)
	k.drainConns(now)
	k.pollDiscovery(now)
	k.hk.RunDue(now)
	if k.stats != nil {
		k.stats.Collect(k.connList())
	}
}

// pollDiscovery drains freshly heard beacons into hostreg so connmgr can
// see them as dialable candidates.
func (k *Kernel) pollDiscovery(now int64) {
	if k.disc == nil {
		return
	}
	for _, hi := range k.disc.PollBeacons() {
		k.hosts.Observe(hi, now)
	}
}

func (k *Kernel) connList() []*transport.Connection {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*transport.Connection, 0, len(k.conns))
	for _, c := range k.conns {
		out = append(out, c)
	}
	return out
}

// acceptAndDial pulls newly established links — both inbound (Accept) and
// outbound (resolved Dial) — into the pending-handshake set and sends our
// side of the handshake immediately.
func (k *Kernel) acceptAndDial(now int64) {
	if k.listener != nil {
		for {
			link, err := k.listener.Accept()
			if err != nil {
				nlog.Warningf("kernel: accept error: %v", err)
				break
			}
			if link == nil {
				break
			}
			k.beginHandshake(link, false, now)
		}
	}

	k.mu.Lock()
	dialing := k.dialing
	k.dialing = nil
	k.mu.Unlock()

	for _, p := range dialing {
		ok, link, failed, err := p.Poll()
		switch {
		case ok:
			k.beginHandshake(link, true, now)
		case failed:
			nlog.Warningf("kernel: dial failed: %v", err)
		default:
			k.mu.Lock()
			k.dialing = append(k.dialing, p)
			k.mu.Unlock()
		}
	}
}

func (k *Kernel) beginHandshake(link linkdriver.Link, outbound bool, now int64) {
	hs := wire.Handshake{Version: 1, ID: k.self.PeerID, NetworkString: k.cfg.NetworkString}
	if _, err := link.SendFrame(wire.EncodeHandshake(&hs)); err != nil {
		nlog.Warningf("kernel: handshake send failed: %v", err)
		_ = link.Close()
		return
	}
	k.mu.Lock()
	k.pending = append(k.pending, &pendingHandshake{link: link, outbound: outbound, sentAt: now})
	k.mu.Unlock()
}

// advanceHandshakes polls every link with a handshake outstanding; once the
// peer's handshake frame arrives it's validated and, on success, promoted
// to a live transport.Connection.
func (k *Kernel) advanceHandshakes(now int64) {
	k.mu.Lock()
	pend := k.pending
	k.pending = nil
	k.mu.Unlock()

	for _, ph := range pend {
		res, buf, err := ph.link.RecvFrame()
		if err != nil || res == linkdriver.RecvPipeBroken {
			_ = ph.link.Close()
			continue
		}
		if res == linkdriver.RecvNone {
			k.mu.Lock()
			k.pending = append(k.pending, ph)
			k.mu.Unlock()
			continue
		}
		hs, derr := wire.DecodeHandshake(buf)
		if derr != nil {
			_ = ph.link.Close()
			continue
		}
		if aerr := hs.Accept(1, k.cfg.NetworkString, k.self.PeerID); aerr != nil {
			nlog.Warningf("kernel: handshake rejected: %v", aerr)
			_ = ph.link.Close()
			continue
		}
		k.promoteConnection(ph.link, hs, now)
	}
}

func (k *Kernel) promoteConnection(link linkdriver.Link, hs *wire.Handshake, now int64) {
	k.mu.Lock()
	k.nextConnID++
	id := k.nextConnID
	k.mu.Unlock()

	c := transport.New(id, link, k.cfg, k.pool)
	c.Peer = &wire.HostInfo{PeerID: hs.ID, LastSeen: now}
	c.ForceBcast = hs.Flags&wire.ForceBcast != 0
	c.SetEstablished()

	k.mu.Lock()
	k.conns[hs.ID] = c
	k.mu.Unlock()
	k.disp.AddConn(hs.ID, c)
	k.hosts.Observe(c.Peer, now)
}

// drainConns pumps every established connection: processes incoming frames
// (applying acks/routing pages internally, handing everything else to the
// dispatcher) and drains its outgoing queues.
func (k *Kernel) drainConns(now int64) {
	const maxFramesPerConnPerStep = 64
	for peerID, c := range k.connsSnapshot() {
		for i := 0; i < maxFramesPerConnPerStep; i++ {
			p, err := c.ProcessIncoming()
			if err != nil || p == nil {
				break
			}
			k.handleIncoming(peerID, c, p, now)
		}
		c.DrainOutgoing(now)
		if c.State() == transport.Closed {
			k.mu.Lock()
			delete(k.conns, peerID)
			k.mu.Unlock()
			k.disp.RemoveConn(peerID)
		}
	}
}

func (k *Kernel) connsSnapshot() map[int32]*transport.Connection {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[int32]*transport.Connection, len(k.conns))
	for id, c := range k.conns {
		out[id] = c
	}
	return out
}

// handleIncoming consumes the two reserved ports (acks, routing pages)
// itself; everything else goes to the Dispatcher, which owns forwarding and
// re-flood. A fragment is reassembled first only when this Package is
// actually locally bound — a directed Package passing through on its way to
// another host must travel as the original fragment so the eventual
// recipient can reassemble it itself.
func (k *Kernel) handleIncoming(peerID int32, c *transport.Connection, p *wire.Package, now int64) {
	switch p.Port {
	case PortAcknowledgements:
		transport.ApplyAcks(c, p.Payload)
		return
	case PortRouting:
		page := router.DecodePage(p.Payload)
		k.routes.Ingest(peerID, page, c.Cost, now)
		return
	}

	locallyBound := p.Type != wire.TypeDirected || p.Destination == k.self.PeerID
	if locallyBound && p.IsFragment() {
		full, done := k.reassembler.Accept(p, now)
		if !done {
			return
		}
		cp := *p
		cp.SeqLen, cp.SeqNum = 1, 0
		cp.Payload = full
		cp.Datalen = uint16(len(full))
		k.disp.Dispatch(&cp, peerID)
		return
	}
	k.disp.Dispatch(p, peerID)
}

func (k *Kernel) broadcastRoutes() {
	page := k.routes.Page(clock.Mono())
	payload := router.EncodePage(page)
	for peerID, c := range k.connsSnapshot() {
		qp := k.pool.Get()
		if qp == nil {
			continue
		}
		qp.Pkg = wire.Package{Header: wire.Header{
			Sync: wire.SyncConst, Source: k.self.PeerID, Destination: peerID,
			Type: wire.TypeLinkLocal, Port: PortRouting, Datalen: uint16(len(payload)),
		}, Payload: payload}
		_ = c.Enqueue(qp, transport.PriBulk)
	}
}

func (k *Kernel) flushAcks() {
	conns := k.connsSnapshot()
	for _, pkg := range k.ackmgr.Flush(clock.Mono()) {
		c, ok := conns[pkg.Destination]
		if !ok {
			continue
		}
		qp := k.pool.Get()
		if qp == nil {
			continue
		}
		qp.Pkg = *pkg
		_ = c.Enqueue(qp, transport.PriHigh)
	}
}

func (k *Kernel) tickConnMgr() {
	conns := k.connList()
	known := k.unconnectedKnownHosts()
	for _, c := range conns {
		k.connMgr.UpdateValue(c, clock.Mono())
		c.ForceBcast = c.ForceBcast || k.connMgr.ShouldForceLink(c, clock.Mono())
	}
	d := k.connMgr.Evaluate(clock.Mono(), conns, known)
	for _, c := range d.Close {
		c.Close(int(cos.FailNone))
	}
	if d.DialMore && k.disc != nil {
		for _, addr := range k.disc.DueAutoHosts(clock.Mono()) {
			if err := k.Connect(addr); err == nil {
				k.disc.MarkAttempted(addr, clock.Mono())
			}
		}
	}
}

// unconnectedKnownHosts counts hostreg entries with no live Connection,
// ConnMgr's signal that dialing more is even worth attempting.
func (k *Kernel) unconnectedKnownHosts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, hi := range k.hosts.All() {
		if _, ok := k.conns[hi.PeerID]; !ok {
			n++
		}
	}
	return n
}

// Run drives Step from a dedicated goroutine at a fixed tick, for callers
// that want the multithreaded wrapper instead of calling Step themselves
//.
func (k *Kernel) Run(tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			k.Step()
		case <-k.stopCh:
			return
		}
	}
}

func (k *Kernel) Stop() { close(k.stopCh) }

