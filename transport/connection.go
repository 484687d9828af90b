package transport

import (
	"github.com/peismesh/kernel/clock"
	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/cos"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/nlog"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/wire"
)

// RoutingView is a Connection's per-link copy of each destination as last
// advertised by its neighbour.
// Declared as an interface here to avoid an import cycle: router owns the
// concrete type and Connection just carries an opaque handle to it.
type RoutingView interface {
	// MarkAllStale sets every entry's hop count to the "lost" sentinel
	// before a fresh routing page is ingested.
	MarkAllStale()
}

// State is a Connection's lifecycle stage, ending in Closed.
type State int

const (
	Pending State = iota
	Established
	Closed
)

// Connection is one active direct link.
type Connection struct {
	ID     int32
	Link   linkdriver.Link
	Peer   *wire.HostInfo // resolved after the ConnectMessage handshake
	Routes RoutingView

	queues      [4]*queue // indexed by Priority; PriAck is the pending-ack store
	outSeq      uint32    // outgoing sequence counter
	inSeq       uint32    // incoming sequence tracker, for link loss estimation
	Cost        int       // per-link metric cost
	Value       float64   // ConnMgr-computed value score
	CreatedAt   int64     // clock.Mono()
	LastActive  int64     // clock.Mono()
	BytesIn     int64
	BytesOut    int64
	UsefulIn    int64
	UsefulOut   int64
	state       State
	ForceBcast  bool // broadcast-force flag

	cfg  *config.Config
	pool *pool.Pool
}

// New constructs a pending Connection over an already-dialed/accepted Link.
func New(id int32, link linkdriver.Link, cfg *config.Config, pl *pool.Pool) *Connection {
	now := clock.Mono()
	c := &Connection{
		ID: id, Link: link, cfg: cfg, pool: pl,
		Cost: cfg.NetMetric, CreatedAt: now, LastActive: now, state: Pending,
	}
	c.queues[PriHigh] = newQueue(cfg.QueueCapHiPri)
	c.queues[PriAck] = newQueue(cfg.QueueCapAck)
	c.queues[PriNormal] = newQueue(cfg.QueueCapNormal)
	c.queues[PriBulk] = newQueue(cfg.QueueCapBulk)
	return c
}

func (c *Connection) State() State      { return c.state }
func (c *Connection) SetEstablished()   { c.state = Established }
func (c *Connection) IsEstablished() bool { return c.state == Established }

// Enqueue places a QueuedPackage into one of the three application-visible
// queues (PriHigh/PriNormal/PriBulk), applying RED admission first
//.
func (c *Connection) Enqueue(qp *pool.QueuedPackage, prio Priority) error {
	if prio == PriAck {
		panic("transport: Enqueue must not target the pending-ack queue directly")
	}
	q := c.queues[prio]
	if q.count >= q.cap {
		qp.Fire(false, int(cos.FailQueueFull))
		return &cos.ErrQueueFull{Peer: c.Peer0(), Priority: prioName(prio)}
	}
	fillrate := redFillRate(c.queues, prio)
	if fillrate > 0.5 && !redAdmit(fillrate) {
		qp.Fire(false, int(cos.FailREDDrop))
		return errREDDrop
	}
	q.pushBack(qp)
	return nil
}

func (c *Connection) Peer0() int32 {
	if c.Peer == nil {
		return -1
	}
	return c.Peer.PeerID
}

func prioName(p Priority) string {
	switch p {
	case PriHigh:
		return "hi-pri"
	case PriNormal:
		return "normal"
	case PriBulk:
		return "bulk"
	default:
		return "ack"
	}
}

type redDropErr struct{}

func (redDropErr) Error() string { return "transport: RED drop" }

var errREDDrop error = redDropErr{}

// DrainOutgoing walks the four queues in strict priority order, sending as
// many packages as the link will accept without blocking. Called once per
// Connection per kernel step.
func (c *Connection) DrainOutgoing(now int64) {
	c.drainSendable(PriHigh, now)
	c.drainPendingAck(now)
	c.drainSendable(PriNormal, now)
	c.drainSendable(PriBulk, now)
}

func (c *Connection) drainSendable(prio Priority, now int64) {
	q := c.queues[prio]
	for {
		qp := q.head
		if qp == nil {
			return
		}
		res, err := c.sendOne(qp)
		switch res {
		case linkdriver.SendOK:
			q.popFront()
			c.onSent(qp, now)
		case linkdriver.SendWouldBlock:
			c.outSeq-- // undo the pre-increment from sendOne's loss-estimation counter
			return
		case linkdriver.SendPipeBroken:
			c.Close(int(cos.FailLinkClosed))
			return
		}
		_ = err
	}
}

// drainPendingAck is the retry store: items whose deadline hasn't passed
// are left in place; items past the retry ceiling are dropped with a
// retries-exhausted callback.
func (c *Connection) drainPendingAck(now int64) {
	q := c.queues[PriAck]
	cur := q.head
	for cur != nil {
		next := cur.Next()
		if cur.Retries > c.cfg.MaxRetries {
			q.remove(cur)
			cur.Fire(false, int(cos.FailRetriesExhausted))
			c.free(cur)
		} else if now >= cur.Deadline {
			// retry: re-send directly from the pending-ack queue, leaving it in place
			res, _ := c.sendOne(cur)
			if res == linkdriver.SendOK {
				cur.Retries++
				cur.Deadline = now + int64(c.cfg.BaseRetryTime)*int64(cur.Retries+1)
			} else if res == linkdriver.SendPipeBroken {
				c.Close(int(cos.FailLinkClosed))
				return
			}
		}
		cur = next
	}
}

func (c *Connection) sendOne(qp *pool.QueuedPackage) (linkdriver.SendResult, error) {
	c.outSeq++ // pre-increment for loss estimation; undone on WouldBlock
	qp.Pkg.LinkCnt = c.outSeq
	buf := wire.Encode(&qp.Pkg)
	res, err := c.Link.SendFrame(buf)
	if res == linkdriver.SendOK {
		c.BytesOut += int64(len(buf))
		if qp.Pkg.Port > reservedPortMax {
			c.UsefulOut += int64(len(buf))
		}
	}
	return res, err
}

const reservedPortMax = 19

// onSent is called after a successful send: it either frees the package or,
// if REQUEST_ACK was set and we are the original source, moves it into the
// pending-ack queue with a fresh packageID so it cannot collide with
// loop-dedup of the original send.
func (c *Connection) onSent(qp *pool.QueuedPackage, now int64) {
	if qp.Pkg.Flags&wire.RequestAck != 0 && qp.Pkg.Source == selfSourceMarker {
		qp.Pkg.ID = cos.RandUint32() | 1
		qp.Deadline = now + int64(c.cfg.BaseRetryTime)
		qp.Retries = 0
		c.queues[PriAck].pushBack(qp)
		return
	}
	qp.Fire(true, 0)
	c.free(qp)
}

// selfSourceMarker is the Source value onSent treats as "we are the original
// sender", as opposed to a package we're merely forwarding. It starts as
// MinInt32 and changes only through SetSelfSourceMarker, which no package in
// this module calls; until it is set, onSent frees every package after its
// first successful send and nothing enters the pending-ack queue.
var selfSourceMarker int32 = -2147483648

func SetSelfSourceMarker(id int32) { selfSourceMarker = id }

func (c *Connection) free(qp *pool.QueuedPackage) {
	if c.pool != nil {
		c.pool.Put(qp)
	}
}

// ProcessIncoming reads one frame, validates it, and returns the decoded
// Package for the Dispatcher. A malformed frame closes the connection
//.
func (c *Connection) ProcessIncoming() (*wire.Package, error) {
	res, buf, err := c.Link.RecvFrame()
	switch res {
	case linkdriver.RecvNone:
		return nil, nil
	case linkdriver.RecvPipeBroken:
		c.Close(int(cos.FailLinkClosed))
		return nil, err
	}
	c.LastActive = clock.Mono()
	c.BytesIn += int64(len(buf))
	p, derr := wire.Decode(buf)
	if derr != nil {
		nlog.Warningf("connection %d: malformed frame: %v", c.ID, derr)
		c.Close(int(cos.FailLinkClosed))
		return nil, derr
	}
	if p.Port > reservedPortMax {
		c.UsefulIn += int64(len(buf))
	}
	if c.inSeq != 0 && p.LinkCnt > c.inSeq+1 {
		nlog.Infof("connection %d: detected %d lost frame(s) via link sequence gap", c.ID, p.LinkCnt-c.inSeq-1)
	}
	c.inSeq = p.LinkCnt
	return p, nil
}

// Close is idempotent. Triggers failure callbacks for every QueuedPackage
// in any queue before returning buffers to the pool.
func (c *Connection) Close(failCode int) {
	if c.state == Closed {
		return
	}
	c.state = Closed
	for _, q := range c.queues {
		if q == nil {
			continue
		}
		for qp := q.popFront(); qp != nil; qp = q.popFront() {
			qp.Fire(false, failCode)
			c.free(qp)
		}
	}
	if c.Link != nil {
		_ = c.Link.Close()
	}
}

// QueueDepth reports the current length of one of the four queues, for
// stats export.
func (c *Connection) QueueDepth(prio Priority) int { return c.queues[prio].Len() }
