package session

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
)

// IDSource hands out request ids.
type IDSource interface {
	Next() int32
}

// SequenceIDs is a monotonic id counter. It starts at a random point in
// [1, 2^30), never yields -1 or 0, and wraps from MaxInt32 back to 1, so
// two ids drawn from the same source only repeat after 2^31-1 draws.
type SequenceIDs struct {
	mu   sync.Mutex
	next int32
}

// NewSequenceIDs returns a SequenceIDs seeded from crypto/rand.
func NewSequenceIDs() *SequenceIDs {
	var seed [4]byte
	start := int32(1)
	if _, err := rand.Read(seed[:]); err == nil {
		start = int32(binary.LittleEndian.Uint32(seed[:])%(1<<30-1)) + 1
	}
	return &SequenceIDs{next: start}
}

// NewSequenceIDsFrom returns a SequenceIDs whose first id is start.
// Values below 1 are clamped to 1.
func NewSequenceIDsFrom(start int32) *SequenceIDs {
	if start < 1 {
		start = 1
	}
	return &SequenceIDs{next: start}
}

// Next returns the next id.
func (s *SequenceIDs) Next() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	if s.next == math.MaxInt32 {
		s.next = 1
	} else {
		s.next++
	}
	return id
}
