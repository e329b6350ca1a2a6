// Package window implements two fixed-capacity, sequence-indexed ring
// buffer variants: a valid-flag ring (Window[T]) for the send/receive
// queues and sent-packet ledger, and a cursor ring (AckWindow) for the
// connection-level received-packet bookkeeping that drives ack bits.
// See DESIGN.md for why two variants exist and which callers use
// which.
package window

import "github.com/nprotocol/reliable/seq"

type slot[T any] struct {
	valid    bool
	sequence uint16
	value    T
}

// Window is a fixed-capacity, sequence-indexed ring where each slot
// carries its own valid flag, so slots can be individually cleared out
// of order as acks arrive.
type Window[T any] struct {
	size       int
	firstEntry bool
	sequence   uint16
	entries    []slot[T]
}

// New returns a Window of the given capacity. size must be > 0 and,
// capacities used for message ids must be <= 32768 to preserve
// GreaterThan/LessThan ordering.
func New[T any](size int) *Window[T] {
	if size <= 0 {
		panic("window: size must be > 0")
	}
	return &Window[T]{
		size:       size,
		firstEntry: true,
		entries:    make([]slot[T], size),
	}
}

// Reset clears every slot and the insertion cursor.
func (w *Window[T]) Reset() {
	w.firstEntry = true
	w.sequence = 0
	for i := range w.entries {
		w.entries[i] = slot[T]{}
	}
}

// InsertAt reserves the slot for sequence and returns a pointer to its
// stored value for the caller to populate, advancing the window's
// insertion cursor to max(cursor, sequence+1). It returns false if
// sequence is too old to fit in the window, or if the slot sequence
// would land in is still occupied by a different valid entry that is
// inside the window. A valid entry that has fallen behind the window
// is overwritten.
func (w *Window[T]) InsertAt(sequence uint16) (*T, bool) {
	if w.firstEntry {
		w.sequence = sequence + 1
		w.firstEntry = false
	} else if seq.GreaterThan(sequence+1, w.sequence) {
		w.sequence = sequence + 1
	} else if seq.LessThan(sequence, w.sequence-uint16(w.size)) {
		return nil, false
	}

	index := int(sequence) % w.size
	e := &w.entries[index]
	if e.valid && e.sequence != sequence && !seq.LessThan(e.sequence, w.sequence-uint16(w.size)) {
		return nil, false
	}
	e.valid = true
	e.sequence = sequence
	e.value = *new(T)
	return &e.value, true
}

// Find returns the stored value for sequence only if the slot is
// valid and holds exactly that sequence.
func (w *Window[T]) Find(sequence uint16) (*T, bool) {
	index := int(sequence) % w.size
	e := &w.entries[index]
	if e.valid && e.sequence == sequence {
		return &e.value, true
	}
	return nil, false
}

// HasSlot reports whether sequence's slot is currently free.
func (w *Window[T]) HasSlot(sequence uint16) bool {
	index := int(sequence) % w.size
	return !w.entries[index].valid
}

// Clear frees sequence's slot if it currently holds that sequence.
func (w *Window[T]) Clear(sequence uint16) {
	index := int(sequence) % w.size
	e := &w.entries[index]
	if e.valid && e.sequence == sequence {
		*e = slot[T]{}
	}
}

// Sequence returns the next sequence number that would be assigned on
// insertion (one past the highest sequence seen so far).
func (w *Window[T]) Sequence() uint16 { return w.sequence }

// Size returns the window's fixed capacity.
func (w *Window[T]) Size() int { return w.size }

// ForEachValid calls fn for every currently-valid entry, in slot
// order. Used by channel Reset to release held messages.
func (w *Window[T]) ForEachValid(fn func(sequence uint16, value *T)) {
	for i := range w.entries {
		e := &w.entries[i]
		if e.valid {
			fn(e.sequence, &e.value)
		}
	}
}
