package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// Stream-transport framing: a 4-byte sync delimiter, a
// 2-byte big-endian length L (L > 255 is refused), L bytes of data, and a
// 1-byte checksum such that sum(data)+checksum ≡ 0xFF (mod 256). Datagram
// and record-oriented transports (L2CAP) rely on their own frame
// boundaries and never call these helpers.

const frameSyncConst uint32 = 0x50454652 // "PEFR" -- distinct from the Package sync

const MaxFrameLen = 255

var (
	ErrFrameTooLong = errors.New("wire: frame payload exceeds 255 bytes")
	ErrBadChecksum  = errors.New("wire: frame checksum mismatch")
)

// checksum computes the single byte c such that sum(data)+c ≡ 0xFF (mod 256).
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// WriteFrame writes one length-prefixed, checksummed frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameLen {
		return ErrFrameTooLong
	}
	buf := make([]byte, 0, 4+2+len(data)+1)
	var sb [4]byte
	binary.BigEndian.PutUint32(sb[:], frameSyncConst)
	buf = append(buf, sb[:]...)
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(data)))
	buf = append(buf, lb[:]...)
	buf = append(buf, data...)
	buf = append(buf, checksum(data))
	_, err := w.Write(buf)
	return err
}

// FrameReader reads length-prefixed frames off a stream, resynchronizing
// (dropping bytes until the sync marker is next observed) whenever a
// checksum mismatch or a bad length is detected.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader { return &FrameReader{r: bufio.NewReader(r)} }

// ReadFrame returns the next frame's data, or an error if the underlying
// reader failed. Resync is automatic and transparent to the caller.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		if err := fr.resync(); err != nil {
			return nil, err
		}
		var lb [2]byte
		if _, err := io.ReadFull(fr.r, lb[:]); err != nil {
			return nil, err
		}
		l := binary.BigEndian.Uint16(lb[:])
		if l > MaxFrameLen {
			continue // bad length: treat as desync, resync again
		}
		data := make([]byte, l)
		if _, err := io.ReadFull(fr.r, data); err != nil {
			return nil, err
		}
		var cb [1]byte
		if _, err := io.ReadFull(fr.r, cb[:]); err != nil {
			return nil, err
		}
		if cb[0] != checksum(data) {
			continue // bad checksum: treat as desync, resync again
		}
		return data, nil
	}
}

// resync drops bytes until the 4-byte sync marker is next observed.
func (fr *FrameReader) resync() error {
	var window [4]byte
	if _, err := io.ReadFull(fr.r, window[:]); err != nil {
		return err
	}
	want := make([]byte, 4)
	binary.BigEndian.PutUint32(want, frameSyncConst)
	for {
		if window[0] == want[0] && window[1] == want[1] && window[2] == want[2] && window[3] == want[3] {
			return nil
		}
		copy(window[0:3], window[1:4])
		b, err := fr.r.ReadByte()
		if err != nil {
			return err
		}
		window[3] = b
	}
}
