package transport

import (
	"encoding/binary"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/wire"
)

// PortAcknowledgements is the reserved port batched acks are sent on
//. Reserved ports are
// excluded from the "useful bytes" stats counters.
const PortAcknowledgements uint16 = 1

// ackBatch accumulates the packageIDs owed to one destination until the
// next periodic flush or until it reaches cfg.AckBatchMax.
type ackBatch struct {
	dest     int32
	ackIDs   []uint32
	hiPri    bool // true if any bundled ack's originating package carried HiPri
}

// AckMgr batches acknowledgements per destination rather than sending one
// ack frame per received package, following a periodic-flush-of-accumulated-state shape.
type AckMgr struct {
	cfg       *config.Config
	pending   map[int32]*ackBatch
	lastFlush int64
}

func NewAckMgr(cfg *config.Config) *AckMgr {
	return &AckMgr{cfg: cfg, pending: make(map[int32]*ackBatch)}
}

// Record notes that dest is owed an acknowledgement for ackID. hiPri should
// be true when the package being acked itself carried the HiPri flag, so
// the eventual batch can request its own ack promptly.
func (a *AckMgr) Record(dest int32, ackID uint32, hiPri bool) {
	b, ok := a.pending[dest]
	if !ok {
		b = &ackBatch{dest: dest}
		a.pending[dest] = b
	}
	b.ackIDs = append(b.ackIDs, ackID)
	if hiPri {
		b.hiPri = true
	}
}

// Flush returns one wire.Package per destination whose batch is due: either
// it has reached cfg.AckBatchMax entries, or cfg.AckBatchPeriod has elapsed
// since the last flush. Flushed batches are removed from the pending set.
func (a *AckMgr) Flush(now int64) []*wire.Package {
	due := now-a.lastFlush >= int64(a.cfg.AckBatchPeriod)
	var out []*wire.Package
	for dest, b := range a.pending {
		if len(b.ackIDs) == 0 {
			continue
		}
		if !due && len(b.ackIDs) < a.cfg.AckBatchMax {
			continue
		}
		out = append(out, buildAckPackage(dest, b))
		delete(a.pending, dest)
	}
	if due {
		a.lastFlush = now
	}
	return out
}

func buildAckPackage(dest int32, b *ackBatch) *wire.Package {
	payload := make([]byte, 4*len(b.ackIDs))
	for i, id := range b.ackIDs {
		binary.BigEndian.PutUint32(payload[i*4:], id)
	}
	var flags wire.Flags
	if b.hiPri {
		flags |= wire.RequestAck | wire.HiPri
	}
	return &wire.Package{
		Header: wire.Header{
			Sync:        wire.SyncConst,
			Flags:       flags,
			Type:        wire.TypeDirected,
			Destination: dest,
			Port:        PortAcknowledgements,
			Datalen:     uint16(len(payload)),
		},
		Payload: payload,
	}
}

// DecodeAckIDs parses the payload of a PortAcknowledgements package.
func DecodeAckIDs(payload []byte) []uint32 {
	n := len(payload) / 4
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		ids[i] = binary.BigEndian.Uint32(payload[i*4:])
	}
	return ids
}

// ApplyAck walks c's pending-ack queue looking for ackID, removing and
// firing the success callback on a match while preserving the queue's
// head/tail invariant. Returns whether a match was found.
func ApplyAck(c *Connection, ackID uint32) bool {
	q := c.queues[PriAck]
	for cur := q.head; cur != nil; cur = cur.Next() {
		if cur.Pkg.ID == ackID || cur.Pkg.AckID == ackID {
			q.remove(cur)
			cur.Fire(true, 0)
			c.free(cur)
			return true
		}
	}
	return false
}

// ApplyAcks applies every ackID in a received PortAcknowledgements package
// to c's pending-ack queue.
func ApplyAcks(c *Connection, payload []byte) {
	for _, id := range DecodeAckIDs(payload) {
		ApplyAck(c, id)
	}
}
