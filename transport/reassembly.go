package transport

import (
	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/wire"
)

// fragKey identifies one in-flight multi-fragment message: the sender and
// the SeqID the sender chose for it when splitting the message and
// tagging each fragment with a shared SeqID.
type fragKey struct {
	source int32
	seqID  uint16
}

// assemblyBuf is one AssemblyBuffer: a
// contiguous seqLen*maxPayload allocation plus a per-fragment bitmap, so
// fragments can arrive in any order and reassembly is a single copy away
// from complete, adapted from a PDU-chunk reassembly shape generalized
// from HTTP body chunks to link-layer fragments.
type assemblyBuf struct {
	total     uint16
	received  uint16
	seen      []bool
	fragLen   []uint16 // actual payload length of each received fragment
	data      []byte
	createdAt int64
}

// Reassembler holds one assemblyBuf per (source, SeqID) pair currently in
// flight and ages them out after cfg.AssemblyTimeout.
type Reassembler struct {
	cfg  *config.Config
	bufs map[fragKey]*assemblyBuf
}

func NewReassembler(cfg *config.Config) *Reassembler {
	return &Reassembler{cfg: cfg, bufs: make(map[fragKey]*assemblyBuf)}
}

// Accept ingests one incoming Package. Non-fragmented packages pass through
// unchanged. For a fragment, it returns (payload, true) only once the last
// missing fragment arrives; until then it returns (nil, false). Duplicate
// fragments (already-seen SeqNum) are silently dropped, matching at-least-
// once delivery under the ack/retry layer.
func (r *Reassembler) Accept(p *wire.Package, now int64) ([]byte, bool) {
	if !p.IsFragment() {
		return p.Payload, true
	}
	key := fragKey{source: p.Source, seqID: p.SeqID}
	buf, ok := r.bufs[key]
	if !ok {
		buf = &assemblyBuf{
			total:     p.SeqLen,
			seen:      make([]bool, p.SeqLen),
			fragLen:   make([]uint16, p.SeqLen),
			data:      make([]byte, int(p.SeqLen)*r.cfg.MaxPayload),
			createdAt: now,
		}
		r.bufs[key] = buf
	}
	if int(p.SeqNum) >= int(buf.total) || buf.seen[p.SeqNum] {
		return nil, false
	}
	off := int(p.SeqNum) * r.cfg.MaxPayload
	copy(buf.data[off:], p.Payload)
	buf.fragLen[p.SeqNum] = uint16(len(p.Payload))
	buf.seen[p.SeqNum] = true
	buf.received++
	if buf.received < buf.total {
		return nil, false
	}
	delete(r.bufs, key)
	fullLen := int(buf.total-1)*r.cfg.MaxPayload + int(buf.fragLen[buf.total-1])
	return buf.data[:fullLen], true
}

// Sweep discards any AssemblyBuffer older than cfg.AssemblyTimeout and
// returns how many were dropped incomplete.
func (r *Reassembler) Sweep(now int64) int {
	dropped := 0
	for k, b := range r.bufs {
		if now-b.createdAt > int64(r.cfg.AssemblyTimeout) {
			delete(r.bufs, k)
			dropped++
		}
	}
	return dropped
}

// Pending reports how many AssemblyBuffers are currently in flight, for
// stats export.
func (r *Reassembler) Pending() int { return len(r.bufs) }
