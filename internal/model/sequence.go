package model

import "sync"

// Sequence hands out monotonically increasing lock box ids.
type Sequence struct {
	mu   sync.Mutex
	next int64
}

// NewSequence returns a Sequence whose first id is next.
// Values below 1 start the sequence at 1.
func NewSequence(next int64) *Sequence {
	if next < 1 {
		next = 1
	}
	return &Sequence{next: next}
}

// Next returns a fresh id.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}

// Peek returns the id the next call to Next will hand out.
func (s *Sequence) Peek() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Reseed moves the sequence to next, never backwards.
func (s *Sequence) Reseed(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.next {
		s.next = next
	}
}
