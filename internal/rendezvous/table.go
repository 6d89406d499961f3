package rendezvous

import "sync"

// Table maps task_id to its one-shot result Slot. Concurrent reads and
// single-producer writes; guarded by a single mutex, matching the teacher's
// map+mutex idempotency store shape rather than a heavier sync.Map — lookups
// here are always followed by a mutation (insert at submit-completion,
// delete at cleanup), so a plain mutex avoids sync.Map's read/write-path
// split doing no useful work for this access pattern.
type Table struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// NewTable creates an empty rendezvous table.
func NewTable() *Table {
	return &Table{slots: make(map[string]*Slot)}
}

// Publish creates and registers a new Slot for taskID.
func (t *Table) Publish(taskID string) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := NewSlot()
	t.slots[taskID] = s
	return s
}

// Lookup returns the Slot for taskID, if any.
func (t *Table) Lookup(taskID string) (*Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[taskID]
	return s, ok
}

// Remove deletes the rendezvous entry for taskID. No-op if absent.
func (t *Table) Remove(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, taskID)
}
