package wire

import (
	"encoding/binary"
	"errors"
)

// Family identifies a LowLevelAddress's transport family.
type Family uint8

const (
	FamilyStream Family = iota
	FamilyDatagram
	FamilyL2CAP
)

const MaxAddresses = 16

// LowLevelAddress is one reachable address for a peer.
type LowLevelAddress struct {
	Family     Family
	Raw        []byte // raw address bytes (4 for IPv4, 6 for a BT MAC, ...)
	Port       uint16
	IsLoopback bool
	Device     string // interface/device name, e.g. "lo", "eth0", "hci0"
}

// HostInfo is the per-peer record exchanged in beacons and HostInfoPackages.
type HostInfo struct {
	PeerID         int32
	Magic          uint32
	Hostname       string
	Fullname       string
	NetworkCluster int32 // lowest routable PeerID known to that peer
	Addresses      []LowLevelAddress
	LastSeen       int64 // local clock.Mono() nanoseconds, set by hostreg.Observe; not serialized
	IsCached       bool  // false for a direct beacon, true for a gossiped copy
}

const (
	maxStr  = 64
	rawCap  = 18 // enough for an L2CAP (BT) MAC address plus headroom
)

var errTruncated = errors.New("wire: truncated HostInfo buffer")

func putStr(buf []byte, s string) []byte {
	b := make([]byte, maxStr)
	n := copy(b, s)
	_ = n
	return append(buf, b...)
}

func getStr(buf []byte) (string, []byte, error) {
	if len(buf) < maxStr {
		return "", nil, errTruncated
	}
	raw := buf[:maxStr]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n]), buf[maxStr:], nil
}

// EncodeHostInfo serializes h in network byte order.
func EncodeHostInfo(h *HostInfo) []byte {
	buf := make([]byte, 0, 4+4+maxStr*2+4+1+4+1+MaxAddresses*(1+rawCap+2+1+maxStr))
	var tmp [4]byte

	binary.BigEndian.PutUint32(tmp[:], uint32(h.PeerID))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.Magic)
	buf = append(buf, tmp[:]...)
	buf = putStr(buf, h.Hostname)
	buf = putStr(buf, h.Fullname)
	binary.BigEndian.PutUint32(tmp[:], uint32(h.NetworkCluster))
	buf = append(buf, tmp[:]...)

	n := len(h.Addresses)
	if n > MaxAddresses {
		n = MaxAddresses
	}
	buf = append(buf, byte(n))
	for i := 0; i < n; i++ {
		a := h.Addresses[i]
		buf = append(buf, byte(a.Family))
		raw := make([]byte, rawCap)
		copy(raw, a.Raw)
		buf = append(buf, raw...)
		binary.BigEndian.PutUint16(tmp[:2], a.Port)
		buf = append(buf, tmp[:2]...)
		if a.IsLoopback {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = putStr(buf, a.Device)
	}
	var cached byte
	if h.IsCached {
		cached = 1
	}
	buf = append(buf, cached)
	return buf
}

// DecodeHostInfo is EncodeHostInfo's inverse. A round trip keeps every field
// except two: LastSeen is not on the wire and decodes as 0, and each
// address's Raw comes back zero-padded to 18 bytes.
func DecodeHostInfo(buf []byte) (*HostInfo, error) {
	if len(buf) < 4+4+maxStr*2+4+1 {
		return nil, errTruncated
	}
	h := &HostInfo{}
	h.PeerID = int32(binary.BigEndian.Uint32(buf[0:4]))
	h.Magic = binary.BigEndian.Uint32(buf[4:8])
	buf = buf[8:]
	var err error
	if h.Hostname, buf, err = getStr(buf); err != nil {
		return nil, err
	}
	if h.Fullname, buf, err = getStr(buf); err != nil {
		return nil, err
	}
	if len(buf) < 5 {
		return nil, errTruncated
	}
	h.NetworkCluster = int32(binary.BigEndian.Uint32(buf[0:4]))
	n := int(buf[4])
	buf = buf[5:]

	h.Addresses = make([]LowLevelAddress, 0, n)
	for i := 0; i < n; i++ {
		if len(buf) < 1+rawCap+2+1 {
			return nil, errTruncated
		}
		a := LowLevelAddress{Family: Family(buf[0])}
		raw := make([]byte, rawCap)
		copy(raw, buf[1:1+rawCap])
		a.Raw = raw
		buf = buf[1+rawCap:]
		a.Port = binary.BigEndian.Uint16(buf[0:2])
		a.IsLoopback = buf[2] != 0
		buf = buf[3:]
		if a.Device, buf, err = getStr(buf); err != nil {
			return nil, err
		}
		h.Addresses = append(h.Addresses, a)
	}
	if len(buf) < 1 {
		return nil, errTruncated
	}
	h.IsCached = buf[0] != 0
	return h, nil
}
