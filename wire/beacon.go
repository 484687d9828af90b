package wire

import (
	"encoding/binary"
)

const beaconNetworkStringLen = 64

// Beacon is the multicast UDP payload broadcast periodically by discovery
//: version(4) | networkString(64 NUL-padded) | HostInfoPackage.
type Beacon struct {
	Version       uint32
	NetworkString string
	Host          *HostInfo
}

func EncodeBeacon(b *Beacon) []byte {
	buf := make([]byte, 0, 4+beaconNetworkStringLen)
	var vb [4]byte
	binary.BigEndian.PutUint32(vb[:], b.Version)
	buf = append(buf, vb[:]...)
	ns := make([]byte, beaconNetworkStringLen)
	copy(ns, b.NetworkString)
	buf = append(buf, ns...)
	buf = append(buf, EncodeHostInfo(b.Host)...)
	return buf
}

func DecodeBeacon(buf []byte) (*Beacon, error) {
	if len(buf) < 4+beaconNetworkStringLen {
		return nil, errTruncated
	}
	b := &Beacon{Version: binary.BigEndian.Uint32(buf[0:4])}
	ns := buf[4 : 4+beaconNetworkStringLen]
	n := 0
	for n < len(ns) && ns[n] != 0 {
		n++
	}
	b.NetworkString = string(ns[:n])
	host, err := DecodeHostInfo(buf[4+beaconNetworkStringLen:])
	if err != nil {
		return nil, err
	}
	b.Host = host
	return b, nil
}
