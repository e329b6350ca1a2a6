package channel

import (
	"time"

	"github.com/nprotocol/reliable/message"
)

// SendQueueEntry is window.Window[SendQueueEntry]'s element type for
// the send side: a message plus its retransmit bookkeeping.
type SendQueueEntry struct {
	MessageID    uint16
	Message      message.Message
	TimeLastSent time.Time // zero value means "never sent"
	MeasuredBits int
	IsLargeBlock bool
}

// SentPacketEntry is window.Window[SentPacketEntry]'s element type,
// recording which messages (or which large-block fragment) rode a
// given packet sequence so ProcessAck can clear them.
type SentPacketEntry struct {
	PacketSequence uint16
	TimeSent       time.Time
	Acked          bool
	MessageIDs     []uint16
	IsLargeBlock   bool
	BlockID        uint16
	FragmentID     int
}

// ReceiveQueueEntry is window.Window[ReceiveQueueEntry]'s element type.
type ReceiveQueueEntry struct {
	MessageID uint16
	Message   message.Message
}

type sendFragmentState struct {
	timeLastSent time.Time
	acked        bool
}

// SendLargeBlockState tracks the one large block (if any) currently
// being sent on this channel.
type SendLargeBlockState struct {
	active       bool
	blockID      uint16
	blockSize    uint32
	numFragments int
	numAcked     int
	data         []byte
	fragments    []sendFragmentState
}

type receiveFragmentState struct {
	received bool
}

// ReceiveLargeBlockState tracks the one large block (if any) currently
// being reassembled on this channel.
type ReceiveLargeBlockState struct {
	active       bool
	blockID      uint16
	blockSize    uint32
	numFragments int
	numReceived  int
	buffer       []byte
	fragments    []receiveFragmentState
}

// SendBlockStatus is a read-only snapshot for a caller building a
// progress bar.
type SendBlockStatus struct {
	Sending         bool
	BlockID         uint16
	BlockSize       uint32
	NumFragments    int
	NumAckedFragments int
}

// ReceiveBlockStatus is the receive-side counterpart.
type ReceiveBlockStatus struct {
	Receiving           bool
	BlockID             uint16
	BlockSize           uint32
	NumFragments        int
	NumReceivedFragments int
}
