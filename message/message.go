// Package message implements the typed, factory-constructed messages
// that ride inside a Channel's payload.
package message

import "github.com/nprotocol/reliable/bitio"

// BlockTypeID is reserved for BlockMessage, the carrier for small
// blocks inlined into the normal message stream. type_id 0 is
// reserved for it.
const BlockTypeID uint16 = 0

// Message is the capability set every application message type and
// BlockMessage implement: it knows its own type id, carries a message
// id assigned by the channel, and serializes itself identically for
// write, read and measure depending on which bitio.Stream it is handed
// capability set: serialize (write or read, depending on the stream),
// measure its own size, and report its type id.
type Message interface {
	// TypeID identifies which factory constructor produced this message.
	TypeID() uint16

	// ID returns the message id assigned at send_message/send_block time.
	ID() uint16

	// SetID is called once by the channel when the message is enqueued.
	SetID(id uint16)

	// Serialize reads from or writes to stream depending on
	// stream.IsWriting()/IsReading(), or only accounts for bits when
	// stream is a *bitio.Measurer.
	Serialize(stream bitio.Stream) error
}

// MeasureBits returns the serialized size of m in bits, using a
// bitio.Measurer, so a channel can cache the result as measured_bits.
func MeasureBits(m Message) int {
	meas := bitio.NewMeasurer(0)
	_ = m.Serialize(meas)
	return meas.BitsWritten()
}
