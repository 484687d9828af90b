package wire

import (
	"encoding/binary"
	"errors"
)

// HandshakeFlags carries the force/bandwidth/cluster hints of a handshake.
type HandshakeFlags uint32

const (
	ForceBcast HandshakeFlags = 1 << iota
	ForcedBW
	ForcedCluster
)

const (
	handshakeNetworkStringLen = 64
	handshakeVersion          = 1
	HandshakeSize             = 4 + 4 + 4 + handshakeNetworkStringLen
)

var ErrHandshakeTruncated = errors.New("wire: truncated handshake message")

// Handshake is exchanged immediately after a transport link is established
//, by both sides independently.
type Handshake struct {
	Version       uint32
	Flags         HandshakeFlags
	ID            int32
	NetworkString string
}

func EncodeHandshake(h *Handshake) []byte {
	buf := make([]byte, HandshakeSize)
	binary.BigEndian.PutUint32(buf[0:4], handshakeVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Flags))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.ID))
	copy(buf[12:12+handshakeNetworkStringLen], h.NetworkString)
	return buf
}

func DecodeHandshake(buf []byte) (*Handshake, error) {
	if len(buf) < HandshakeSize {
		return nil, ErrHandshakeTruncated
	}
	h := &Handshake{
		Version: binary.BigEndian.Uint32(buf[0:4]),
		Flags:   HandshakeFlags(binary.BigEndian.Uint32(buf[4:8])),
		ID:      int32(binary.BigEndian.Uint32(buf[8:12])),
	}
	ns := buf[12 : 12+handshakeNetworkStringLen]
	n := 0
	for n < len(ns) && ns[n] != 0 {
		n++
	}
	h.NetworkString = string(ns[:n])
	return h, nil
}

// Accept validates a peer's handshake against our own identity, returning a
// descriptive error if the link must be rejected: version mismatch,
// networkString mismatch, or the peer's id equal to our own.
func (h *Handshake) Accept(ourVersion uint32, ourNetwork string, ourID int32) error {
	if h.Version != ourVersion {
		return errVersionMismatch
	}
	if h.NetworkString != ourNetwork {
		return errNetworkMismatch
	}
	if h.ID == ourID {
		return &ErrIDCollisionWire{ID: h.ID}
	}
	return nil
}

var (
	errVersionMismatch = errors.New("wire: handshake version mismatch")
	errNetworkMismatch = errors.New("wire: handshake network string mismatch")
)

// ErrIDCollisionWire is the wire layer's error for a peer id equal to our
// own. It is a separate type from cos.ErrIDCollision; wire does not import
// cos.
type ErrIDCollisionWire struct{ ID int32 }

func (e *ErrIDCollisionWire) Error() string { return "wire: peer id collides with our own" }
