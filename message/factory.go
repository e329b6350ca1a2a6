package message

import "fmt"

// Constructor returns a fresh, empty Message instance for a given
// type id.
type Constructor func() Message

// Factory maps type_id -> constructor and owns reference counting for
// every message it creates. Sending a message transfers one reference
// to the channel; the channel may hold additional references until
// every sent packet carrying it is acked.
//
// Refcounts are not thread-safe by design: the whole core is
// single-threaded cooperative, so Factory uses plain int32 counters
// rather than atomics.
type Factory struct {
	constructors map[uint16]Constructor
	refs         map[Message]int32
}

// NewFactory returns an empty Factory. Register BlockTypeID before use
// unless the caller only sends/receives application messages never
// wrapped in BlockMessage (rare — ChannelStructure registers it by
// default, see structure.go).
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[uint16]Constructor),
		refs:         make(map[Message]int32),
	}
}

// Register installs the constructor for typeID. Registering the same
// typeID twice replaces the prior constructor.
func (f *Factory) Register(typeID uint16, ctor Constructor) {
	f.constructors[typeID] = ctor
}

// Create allocates a new message of the given type with a refcount of
// 1, or an error if typeID was never registered.
func (f *Factory) Create(typeID uint16) (Message, error) {
	ctor, ok := f.constructors[typeID]
	if !ok {
		return nil, fmt.Errorf("message: unknown type id %d", typeID)
	}
	m := ctor()
	f.refs[m] = 1
	return m, nil
}

// AddRef bumps m's reference count, used when a send queue entry and a
// sent-packet entry both need to keep m alive.
func (f *Factory) AddRef(m Message) {
	f.refs[m]++
}

// Release decrements m's reference count and destroys the entry once
// it reaches zero, returning true if this call destroyed it.
func (f *Factory) Release(m Message) bool {
	n, ok := f.refs[m]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(f.refs, m)
		return true
	}
	f.refs[m] = n
	return false
}

// RefCount reports m's current reference count, 0 if untracked.
func (f *Factory) RefCount(m Message) int32 {
	return f.refs[m]
}
