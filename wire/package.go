// Package wire implements the on-the-wire representation of the message
// plane: the 40-byte Package header, stream-transport framing
// (§6.1), the handshake (§6.3), HostInfo serialization and the multicast
// beacon payload (§6.4). All multi-byte fields are big-endian on the wire;
// Go's native struct fields are host-order; serialization converts to
// network byte order on the wire.
package wire

import (
	"encoding/binary"
	"errors"
)

// Flags is the 16-bit flag word carried in every Package header.
type Flags uint16

const (
	RequestAck Flags = 1 << iota
	IsAck
	Bulk
	HiPri
)

// Type distinguishes how a Package's destination field must be interpreted.
type Type uint8

const (
	TypeLinkLocal Type = iota // consumed by the immediate neighbour, never forwarded
	TypeBroadcast             // Destination == BroadcastDest; stochastically flooded
	TypeDirected              // routed toward Destination via the routing table
)

// BroadcastDest is the destination PeerID value meaning "all peers"
//").
const BroadcastDest int32 = -1

const HeaderSize = 40

// ErrShortBuffer is returned by Decode when fewer than HeaderSize bytes are
// available.
var ErrShortBuffer = errors.New("wire: buffer shorter than package header")

// ErrBadSync is returned when the header's sync constant doesn't match.
var ErrBadSync = errors.New("wire: bad sync constant")

// SyncConst is the fixed 4-byte header sync value").
const SyncConst uint32 = 0x50454953 // "PEIS"

// Header is the fixed 40-byte Package header.
type Header struct {
	Sync        uint32
	ID          uint32 // pseudo-unique packageID; senders draw all 32 bits, low bit forced to 1
	LinkCnt     uint32 // link-layer sequence counter, for loss estimation
	AckID       uint32 // matched by acks alongside ID; every sender in this module leaves it 0
	Flags       Flags
	Type        Type
	Hops        uint8
	Source      int32
	Destination int32
	Port        uint16
	Datalen     uint16
	SeqLen      uint16
	SeqID       uint16
	SeqNum      uint16
	// 2 bytes padding, not represented as a field
}

// Package is a Header plus its payload (at most the transport's maxPayload).
type Package struct {
	Header
	Payload []byte
}

// Encode writes h and payload into a HeaderSize+len(payload)-byte slice.
func Encode(p *Package) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	EncodeHeader(&p.Header, buf)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// EncodeHeader writes h's 40 bytes (big-endian) into buf[:40].
func EncodeHeader(h *Header, buf []byte) {
	bo := binary.BigEndian
	bo.PutUint32(buf[0:4], h.Sync)
	bo.PutUint32(buf[4:8], h.ID)
	bo.PutUint32(buf[8:12], h.LinkCnt)
	bo.PutUint32(buf[12:16], h.AckID)
	bo.PutUint16(buf[16:18], uint16(h.Flags))
	buf[18] = uint8(h.Type)
	buf[19] = h.Hops
	bo.PutUint32(buf[20:24], uint32(h.Source))
	bo.PutUint32(buf[24:28], uint32(h.Destination))
	bo.PutUint16(buf[28:30], h.Port)
	bo.PutUint16(buf[30:32], h.Datalen)
	bo.PutUint16(buf[32:34], h.SeqLen)
	bo.PutUint16(buf[34:36], h.SeqID)
	bo.PutUint16(buf[36:38], h.SeqNum)
	bo.PutUint16(buf[38:40], 0) // padding
}

// Decode parses a Package from buf, which must contain at least the header
// plus Datalen payload bytes. The returned Package's Payload aliases buf.
func Decode(buf []byte) (*Package, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < HeaderSize+int(h.Datalen) {
		return nil, ErrShortBuffer
	}
	return &Package{Header: *h, Payload: buf[HeaderSize : HeaderSize+int(h.Datalen)]}, nil
}

// DecodeHeader parses just the 40-byte header from buf.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortBuffer
	}
	bo := binary.BigEndian
	h := &Header{
		Sync:        bo.Uint32(buf[0:4]),
		ID:          bo.Uint32(buf[4:8]),
		LinkCnt:     bo.Uint32(buf[8:12]),
		AckID:       bo.Uint32(buf[12:16]),
		Flags:       Flags(bo.Uint16(buf[16:18])),
		Type:        Type(buf[18]),
		Hops:        buf[19],
		Source:      int32(bo.Uint32(buf[20:24])),
		Destination: int32(bo.Uint32(buf[24:28])),
		Port:        bo.Uint16(buf[28:30]),
		Datalen:     bo.Uint16(buf[30:32]),
		SeqLen:      bo.Uint16(buf[32:34]),
		SeqID:       bo.Uint16(buf[34:36]),
		SeqNum:      bo.Uint16(buf[36:38]),
	}
	if h.Sync != SyncConst {
		return nil, ErrBadSync
	}
	return h, nil
}

// IsFragment reports whether this package is one fragment of a long message
//.
func (h *Header) IsFragment() bool { return h.SeqLen > 1 }
