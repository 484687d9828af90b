package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Sync: SyncConst, ID: 12345, LinkCnt: 7, AckID: 99,
		Flags: RequestAck | HiPri, Type: TypeDirected, Hops: 3,
		Source: 10, Destination: 20, Port: 5,
		Datalen: 4, SeqLen: 1, SeqID: 0, SeqNum: 0,
	}
	p := &Package{Header: *h, Payload: []byte("abcd")}
	buf := Encode(p)
	if len(buf) != HeaderSize+4 {
		t.Fatalf("unexpected encoded length %d", len(buf))
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header != *h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got.Header, *h)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeBadSync(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := Decode(buf); err != ErrBadSync {
		t.Fatalf("expected ErrBadSync, got %v", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}
