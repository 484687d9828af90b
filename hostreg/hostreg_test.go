package hostreg

import (
	"testing"

	"github.com/peismesh/kernel/wire"
)

func TestObserveNewThenUpdate(t *testing.T) {
	r := New()
	hi := &wire.HostInfo{PeerID: 1, Magic: 100, Hostname: "a"}
	if !r.Observe(hi, 0) {
		t.Fatalf("first sighting must report isNew")
	}
	hi2 := &wire.HostInfo{PeerID: 1, Magic: 100, Hostname: "a"}
	if r.Observe(hi2, 10) {
		t.Fatalf("second sighting with same magic must not report isNew")
	}
	got, ok := r.Lookup(1)
	if !ok || got.LastSeen != 10 {
		t.Fatalf("expected LastSeen updated to 10, got %+v", got)
	}
}

func TestRebornMagicFiresDeadCallback(t *testing.T) {
	r := New()
	var reason DeadReason
	fired := false
	r.OnDeadHost(func(id int32, rs DeadReason) { fired = true; reason = rs })

	r.Observe(&wire.HostInfo{PeerID: 1, Magic: 100}, 0)
	r.Observe(&wire.HostInfo{PeerID: 1, Magic: 200}, 1)

	if !fired || reason != DeadReborn {
		t.Fatalf("expected DeadReborn callback, fired=%v reason=%v", fired, reason)
	}
	got, _ := r.Lookup(1)
	if got.Magic != 200 {
		t.Fatalf("expected record replaced with new magic")
	}
}

func TestSweepStaleRemovesAndFiresDeadRoute(t *testing.T) {
	r := New()
	var reason DeadReason
	r.OnDeadHost(func(id int32, rs DeadReason) { reason = rs })
	r.Observe(&wire.HostInfo{PeerID: 1, Magic: 1}, 0)

	if n := r.SweepStale(50, 1000); n != 0 {
		t.Fatalf("should not be stale yet, got %d", n)
	}
	if n := r.SweepStale(2000, 1000); n != 1 {
		t.Fatalf("expected 1 stale host removed, got %d", n)
	}
	if reason != DeadRoute {
		t.Fatalf("expected DeadRoute, got %v", reason)
	}
	if r.Len() != 0 {
		t.Fatalf("expected registry empty after sweep")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	var calls int
	r.OnDeadHost(func(int32, DeadReason) { calls++ })
	r.Observe(&wire.HostInfo{PeerID: 1, Magic: 1}, 0)
	r.Remove(1, DeadMessage)
	r.Remove(1, DeadMessage)
	if calls != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", calls)
	}
}
