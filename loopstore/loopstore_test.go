package loopstore

import "testing"

func TestSeenAfterRemember(t *testing.T) {
	s := New(16, 4)
	if s.Seen(123) {
		t.Fatalf("unremembered id must not be seen")
	}
	s.Remember(123)
	if !s.Seen(123) {
		t.Fatalf("remembered id must be seen")
	}
}

func TestZeroIDRejected(t *testing.T) {
	s := New(16, 4)
	s.Remember(0)
	if s.Seen(0) {
		t.Fatalf("id 0 must never be considered seen")
	}
}

func TestRingWrapEvictsOldest(t *testing.T) {
	s := New(4, 2)
	for i := uint32(1); i <= 4; i++ {
		s.Remember(i)
	}
	for i := uint32(1); i <= 4; i++ {
		if !s.Seen(i) {
			t.Fatalf("id %d should still be remembered before wrap", i)
		}
	}
	s.Remember(5) // wraps, evicting id 1
	if s.Seen(1) {
		t.Fatalf("id 1 should have been evicted by ring wrap")
	}
	if !s.Seen(5) {
		t.Fatalf("id 5 should be remembered")
	}
	if s.Len() != 4 {
		t.Fatalf("ring should hold exactly capacity entries after wraps, got %d", s.Len())
	}
}

func TestSharedBucketChainHoldsAllIDs(t *testing.T) {
	// force all three ids into the same bucket by using a single-bucket table
	s := New(8, 1)
	s.Remember(1)
	s.Remember(2)
	s.Remember(3)
	if !s.Seen(1) || !s.Seen(2) || !s.Seen(3) {
		t.Fatalf("all three ids should be present in the shared bucket chain")
	}
}
