package channel

import (
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nprotocol/reliable/message"
)

// Descriptor names one channel slot within a ChannelStructure: its
// index on the wire and the configuration its ReliableChannel is
// built with. Both ends of a Connection must build identical
// descriptor lists.
type Descriptor struct {
	Name   string
	Config Config
}

// Structure is an ordered, locked-once list of channel descriptors.
// Once Lock is called the descriptor list is frozen;
// Build then instantiates one ReliableChannel per descriptor, sharing
// a single MessageFactory with BlockTypeID pre-registered.
type Structure struct {
	descriptors []Descriptor
	locked      bool
}

// NewStructure returns an empty, unlocked Structure.
func NewStructure() *Structure {
	return &Structure{}
}

// Add appends a channel descriptor. Panics if the structure is already
// locked — this is a programmer error, not a runtime condition either
// peer's untrusted input can trigger.
func (s *Structure) Add(d Descriptor) {
	if s.locked {
		panic("channel: Structure is locked")
	}
	s.descriptors = append(s.descriptors, d)
}

// Lock freezes the descriptor list. Both peers must call Add with the
// same descriptors, in the same order, before Lock — this is a
// wire-format contract, not something negotiated at runtime.
func (s *Structure) Lock() {
	s.locked = true
}

// Len reports the number of channels in the (locked) structure.
func (s *Structure) Len() int {
	return len(s.descriptors)
}

// Descriptors returns the locked descriptor list.
func (s *Structure) Descriptors() []Descriptor {
	return s.descriptors
}

// NewMessageFactory builds a Factory with BlockTypeID registered
// against the largest MaxSmallBlockSize across all channels, so a
// BlockMessage created while reading any channel's payload can hold
// the biggest inline block this structure allows.
func (s *Structure) NewMessageFactory() *message.Factory {
	maxSize := 0
	for _, d := range s.descriptors {
		if d.Config.MaxSmallBlockSize > maxSize {
			maxSize = d.Config.MaxSmallBlockSize
		}
	}
	f := message.NewFactory()
	f.Register(message.BlockTypeID, message.NewBlockMessageConstructor(maxSize))
	return f
}

// Build instantiates one ReliableChannel per descriptor, in order,
// sharing factory and a common logger/registerer.
func (s *Structure) Build(factory *message.Factory, logger *log.Logger, reg prometheus.Registerer) []*ReliableChannel {
	if !s.locked {
		panic("channel: Structure must be locked before Build")
	}
	channels := make([]*ReliableChannel, len(s.descriptors))
	for i, d := range s.descriptors {
		channels[i] = New(i, d.Config, factory, logger, reg)
	}
	return channels
}
