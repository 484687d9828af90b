package transport

import (
	"bytes"
	"testing"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/wire"
)

func fragment(source int32, seqID, seqNum, seqLen uint16, payload []byte) *wire.Package {
	return &wire.Package{
		Header: wire.Header{
			Sync: wire.SyncConst, Source: source,
			SeqID: seqID, SeqNum: seqNum, SeqLen: seqLen,
			Datalen: uint16(len(payload)),
		},
		Payload: payload,
	}
}

func TestReassemblyOutOfOrderIsByteIdentical(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPayload = 4
	r := NewReassembler(cfg)

	want := []byte("abcdefghij") // 3 fragments of 4,4,2 bytes
	frags := []*wire.Package{
		fragment(1, 7, 0, 3, want[0:4]),
		fragment(1, 7, 1, 3, want[4:8]),
		fragment(1, 7, 2, 3, want[8:10]),
	}
	// feed out of order: 2, 0, 1
	order := []int{2, 0, 1}
	var got []byte
	var done bool
	for _, i := range order {
		got, done = r.Accept(frags[i], 0)
	}
	if !done {
		t.Fatalf("expected completion after all fragments")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected buffer to be cleared after completion")
	}
}

func TestReassemblyDuplicateFragmentIgnored(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPayload = 4
	r := NewReassembler(cfg)
	f := fragment(1, 7, 0, 2, []byte("abcd"))
	if _, done := r.Accept(f, 0); done {
		t.Fatalf("should not complete after one of two fragments")
	}
	if _, done := r.Accept(f, 0); done {
		t.Fatalf("duplicate fragment must not complete the buffer")
	}
	if r.Pending() != 1 {
		t.Fatalf("expected one buffer still pending")
	}
}

func TestReassemblySweepDropsTimedOut(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPayload = 4
	cfg.AssemblyTimeout = 100
	r := NewReassembler(cfg)
	r.Accept(fragment(1, 7, 0, 2, []byte("abcd")), 0)
	if n := r.Sweep(50); n != 0 {
		t.Fatalf("should not have timed out yet, got %d dropped", n)
	}
	if n := r.Sweep(1000); n != 1 {
		t.Fatalf("expected 1 dropped buffer, got %d", n)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending buffers after sweep")
	}
}

func TestNonFragmentPassesThrough(t *testing.T) {
	cfg := config.Default()
	r := NewReassembler(cfg)
	p := &wire.Package{Header: wire.Header{Sync: wire.SyncConst, SeqLen: 1}, Payload: []byte("x")}
	got, done := r.Accept(p, 0)
	if !done || !bytes.Equal(got, []byte("x")) {
		t.Fatalf("expected immediate pass-through, got %q done=%v", got, done)
	}
}
