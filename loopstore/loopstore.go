// Package loopstore implements a loop-detection ring: a fixed-size ring of recently-seen
// packageIDs, indexed by a bucketed hash table whose collision chains use
// next/prev slot indices rather than pointers, so evicting a slot on ring
// reuse is O(1) and allocation-free.
package loopstore

import (
	"encoding/binary"

	"github.com/peismesh/kernel/cos"
)

const none = -1

type slot struct {
	id    uint32
	valid bool
	next  int32 // next slot in this bucket's chain
	prev  int32 // previous slot in this bucket's chain, or none if head
}

// Store is a closed hash table over a bounded ring, chaining slots through
// int32 next/prev ring indices instead of a language-level map. Not safe for concurrent use without
// external synchronization — it is owned by the single-threaded kernel step.
type Store struct {
	ring    []slot
	buckets []int32 // head slot index per bucket, or none
	next    int     // next ring slot to (re)write
}

// New builds a Store with the given ring capacity and bucket count
//.
func New(ringSize, bucketCount int) *Store {
	if ringSize <= 0 {
		ringSize = 4096
	}
	if bucketCount <= 0 {
		bucketCount = 256
	}
	s := &Store{
		ring:    make([]slot, ringSize),
		buckets: make([]int32, bucketCount),
	}
	for i := range s.buckets {
		s.buckets[i] = none
	}
	return s
}

func (s *Store) bucketOf(id uint32) int {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return cos.HashID(b[:], len(s.buckets))
}

// Seen reports whether id was remembered within roughly the last ring
// capacity distinct remembers. IDs <= 0 (i.e. the uint32 interpreted value
// 0, which corresponds to the rejected invalid packageID) are never
// considered seen.
func (s *Store) Seen(id uint32) bool {
	if id == 0 {
		return false
	}
	b := s.bucketOf(id)
	i := s.buckets[b]
	for i != none {
		if s.ring[i].id == id {
			return true
		}
		i = s.ring[i].next
	}
	return false
}

// Remember records id as seen, evicting whatever the ring's current write
// position previously held. Invalid (zero) ids are silently rejected.
func (s *Store) Remember(id uint32) {
	if id == 0 {
		return
	}
	idx := s.next
	s.next = (s.next + 1) % len(s.ring)

	if s.ring[idx].valid {
		s.unlink(idx)
	}

	b := s.bucketOf(id)
	s.ring[idx] = slot{id: id, valid: true, prev: none, next: s.buckets[b]}
	if s.buckets[b] != none {
		s.ring[s.buckets[b]].prev = int32(idx)
	}
	s.buckets[b] = int32(idx)
}

// unlink removes ring slot idx from whatever bucket chain currently holds
// it, using its stable prev/next back-references rather than a raw pointer.
func (s *Store) unlink(idx int) {
	old := s.ring[idx]
	if old.prev == none {
		b := s.bucketOf(old.id)
		s.buckets[b] = old.next
	} else {
		s.ring[old.prev].next = old.next
	}
	if old.next != none {
		s.ring[old.next].prev = old.prev
	}
}

// Len reports the number of distinct ids currently remembered (<= ring capacity).
func (s *Store) Len() int {
	n := 0
	for i := range s.ring {
		if s.ring[i].valid {
			n++
		}
	}
	return n
}
