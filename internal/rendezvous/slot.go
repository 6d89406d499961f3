// Package rendezvous implements the one-shot synchronization handle that
// lets a worker's submit_result call wake the user's waiting
// chat_completions call — the rendezvous between submitter and worker.
package rendezvous

import "sync"

// state enumerates the three states a Slot may be in. Exactly one
// transition out of empty is permitted.
type state int

const (
	empty state = iota
	fulfilled
	cancelled
)

// Slot is a one-shot result handle. The writer (submit_result) calls
// Fulfill; the reader (chat_completions) calls Wait with a deadline.
// Double-fulfillment and fulfillment-after-cancel are both no-ops, mirroring
// the "fulfill-if-empty, then remove" rule that makes late submit_result
// calls race safely against timeout cleanup.
type Slot struct {
	mu      sync.Mutex
	st      state
	payload []byte
	done    chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// Fulfill delivers payload to the slot if it is still empty. Returns true
// if this call performed the transition, false if the slot was already
// fulfilled or cancelled.
func (s *Slot) Fulfill(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != empty {
		return false
	}
	s.payload = payload
	s.st = fulfilled
	close(s.done)
	return true
}

// Cancel marks the slot cancelled if it is still empty, unblocking any
// waiter with ok=false. Used on requester disconnect and deadline expiry.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != empty {
		return
	}
	s.st = cancelled
	close(s.done)
}

// Fulfilled is a non-blocking check: it reports the payload and true if the
// slot has already been fulfilled, without waiting.
func (s *Slot) Fulfilled() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == fulfilled {
		return s.payload, true
	}
	return nil, false
}

// Wait blocks until the slot is fulfilled, cancelled, or done is cancelled
// (deadline/disconnect). ok is true only when a payload was delivered.
func (s *Slot) Wait(done <-chan struct{}) (payload []byte, ok bool) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.st == fulfilled {
			return s.payload, true
		}
		return nil, false
	case <-done:
		return nil, false
	}
}
