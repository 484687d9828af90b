package pool

import "testing"

func TestCeilingEnforced(t *testing.T) {
	p := New(2)
	a := p.Get()
	b := p.Get()
	if a == nil || b == nil {
		t.Fatalf("expected two allocations under the ceiling")
	}
	if c := p.Get(); c != nil {
		t.Fatalf("expected nil once ceiling reached")
	}
	p.Put(a)
	if c := p.Get(); c == nil {
		t.Fatalf("expected allocation to succeed after a Put frees capacity")
	}
}

func TestFireInvokesEachCallbackOnce(t *testing.T) {
	q := &QueuedPackage{}
	calls := 0
	q.AddCallback(func(ok bool, code int, data any) { calls++ }, nil)
	q.AddCallback(func(ok bool, code int, data any) { calls++ }, nil)
	q.Fire(true, 0)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	q.Fire(true, 0) // must not re-fire
	if calls != 2 {
		t.Fatalf("callbacks must fire exactly once, got %d total calls", calls)
	}
}

func TestAddCallbackCapsAtThree(t *testing.T) {
	q := &QueuedPackage{}
	for i := 0; i < 5; i++ {
		q.AddCallback(func(bool, int, any) {}, nil)
	}
	if q.numCallbacks != maxAckCallbacks {
		t.Fatalf("expected cap at %d callbacks, got %d", maxAckCallbacks, q.numCallbacks)
	}
}
