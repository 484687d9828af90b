package cos

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// RandInt32 draws a cryptographically random 32-bit value, used for PeerID
// generation and the per-incarnation magic nonce.
func RandInt32() int32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}

// RandUint32 is RandInt32's unsigned twin, used for packageID/ackID draws.
func RandUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// HashID hashes an arbitrary byte key into a bucket index in [0, nbuckets):
// used by loopstore to place packageIDs.
func HashID(key []byte, nbuckets int) int {
	if nbuckets <= 0 {
		return 0
	}
	return int(xxhash.Checksum64(key) % uint64(nbuckets))
}

// NewFullname returns a human-readable per-process suffix used to build a
// HostInfo's fullname when the application didn't configure one explicitly.
func NewFullname(hostname string) string {
	id, err := shortid.Generate()
	if err != nil {
		return hostname
	}
	return hostname + "-" + id
}
