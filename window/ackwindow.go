package window

import "github.com/nprotocol/reliable/seq"

// AckWindow is the cursor-based sliding window used for the
// connection-level received-packet bookkeeping: it remembers which of
// the last `size` packet sequences have been received, without storing
// per-entry payload data, and is what Connection.WritePacket reads to
// compute ack/ack_bits.
type AckWindow struct {
	size       int
	firstEntry bool
	sequence   uint16 // one past the highest sequence ever inserted
	received   []bool
	sequences  []uint16 // sequence last recorded in each slot
}

// NewAckWindow returns an AckWindow covering size trailing sequence
// numbers.
func NewAckWindow(size int) *AckWindow {
	if size <= 0 {
		panic("window: size must be > 0")
	}
	return &AckWindow{
		size:       size,
		firstEntry: true,
		received:   make([]bool, size),
		sequences:  make([]uint16, size),
	}
}

// Reset clears the window back to its initial empty state.
func (a *AckWindow) Reset() {
	a.firstEntry = true
	a.sequence = 0
	for i := range a.received {
		a.received[i] = false
	}
}

// Insert records sequence as received and advances the cursor.
func (a *AckWindow) Insert(sequence uint16) {
	a.received[int(sequence)%a.size] = true
	a.sequences[int(sequence)%a.size] = sequence
	if a.firstEntry {
		a.sequence = sequence + 1
		a.firstEntry = false
	} else if seq.GreaterThan(sequence+1, a.sequence) {
		a.sequence = sequence + 1
	}
}

// IsReceived reports whether sequence is recorded as received and
// still within the window.
func (a *AckWindow) IsReceived(sequence uint16) bool {
	i := int(sequence) % a.size
	return a.received[i] && a.sequences[i] == sequence
}

// IsDuplicate reports whether sequence has already been delivered to
// this window, the check Connection.ReadPacket uses to reject
// duplicate inbound packets.
func (a *AckWindow) IsDuplicate(sequence uint16) bool {
	return a.IsReceived(sequence)
}

// TooOld reports whether sequence falls further back than this
// window's capacity, the other half of read_packet's admission check.
func (a *AckWindow) TooOld(sequence uint16) bool {
	if a.firstEntry {
		return false
	}
	return seq.LessThan(sequence, a.sequence-uint16(a.size))
}

// Latest returns the highest sequence number received so far.
func (a *AckWindow) Latest() uint16 {
	if a.firstEntry {
		return 0
	}
	return a.sequence - 1
}

// AckBits computes the 32-bit ack history relative to ack: bit i is
// set iff ack-1-i was received.
func (a *AckWindow) AckBits(ack uint16) uint32 {
	var bits uint32
	for i := uint16(0); i < 32; i++ {
		sequence := ack - 1 - i
		if a.IsReceived(sequence) {
			bits |= 1 << i
		}
	}
	return bits
}
