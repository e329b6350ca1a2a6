// Package block implements a standalone Sender/Receiver pair: the same
// fragmentation/ack algorithm as the channel package's large-block
// path, but for a caller that wants bulk transfer outside the reliable
// message channel (e.g. an initial session handshake payload).
//
// Control packets are cbor-encoded (cbor.Marshal/Unmarshal over a
// small Go struct) rather than bit-packed, since this path isn't bound
// to the fixed ConnectionPacket wire format the in-channel path uses.
package block

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nprotocol/reliable/errs"
)

// FragmentPacketType distinguishes a data fragment from an ack on the
// wire.
type FragmentPacketType uint8

const (
	// FragmentData carries one fragment of the block.
	FragmentData FragmentPacketType = iota
	// FragmentAck acknowledges receipt of one fragment.
	FragmentAck
)

// FragmentPacket is the cbor-encoded control/data unit exchanged by
// DataBlockSender and DataBlockReceiver.
type FragmentPacket struct {
	Type         FragmentPacketType
	BlockID      uint16
	FragmentID   uint16
	NumFragments uint16
	BlockSize    uint32
	Data         []byte `cbor:",omitempty"`
}

// Marshal cbor-encodes p.
func (p *FragmentPacket) Marshal() ([]byte, error) {
	return cbor.Marshal(p)
}

// Unmarshal cbor-decodes data into p.
func (p *FragmentPacket) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, p)
}

// Sender splits one block into fixed-size fragments and paces their
// transmission at a configurable fragments-per-second rate via a
// fixed-rate token gate (see DESIGN.md for why this is hand-rolled
// rather than a rate-limiter library).
type Sender struct {
	blockID        uint16
	fragmentSize   int
	data           []byte
	numFragments   int
	acked          []bool
	numAcked       int
	minSendGap     time.Duration
	lastSend       time.Time
}

// NewSender starts sending blockID/data, fragmentSize bytes per
// fragment, at most fragmentsPerSecond fragments per second.
func NewSender(blockID uint16, data []byte, fragmentSize int, fragmentsPerSecond float64) (*Sender, error) {
	if fragmentSize <= 0 {
		return nil, fmt.Errorf("block: fragmentSize must be > 0")
	}
	numFragments := (len(data) + fragmentSize - 1) / fragmentSize
	if numFragments == 0 {
		numFragments = 1
	}
	gap := time.Duration(0)
	if fragmentsPerSecond > 0 {
		gap = time.Duration(float64(time.Second) / fragmentsPerSecond)
	}
	return &Sender{
		blockID:      blockID,
		fragmentSize: fragmentSize,
		data:         data,
		numFragments: numFragments,
		acked:        make([]bool, numFragments),
		minSendGap:   gap,
	}, nil
}

// Done reports whether every fragment has been acked.
func (s *Sender) Done() bool {
	return s.numAcked == s.numFragments
}

// NextFragment returns the next unacked fragment to (re)send, rate
// limited to minSendGap since the last call that returned a fragment.
// Returns (nil, false) if the rate limit hasn't elapsed or every
// fragment is already acked.
func (s *Sender) NextFragment(now time.Time) (*FragmentPacket, bool) {
	if s.Done() {
		return nil, false
	}
	if !s.lastSend.IsZero() && now.Sub(s.lastSend) < s.minSendGap {
		return nil, false
	}
	for i := 0; i < s.numFragments; i++ {
		if s.acked[i] {
			continue
		}
		start := i * s.fragmentSize
		end := start + s.fragmentSize
		if end > len(s.data) {
			end = len(s.data)
		}
		s.lastSend = now
		return &FragmentPacket{
			Type:         FragmentData,
			BlockID:      s.blockID,
			FragmentID:   uint16(i),
			NumFragments: uint16(s.numFragments),
			BlockSize:    uint32(len(s.data)),
			Data:         append([]byte(nil), s.data[start:end]...),
		}, true
	}
	return nil, false
}

// HandleAck applies an incoming ack packet. Returns an error if it
// references a different block id than this Sender is sending.
func (s *Sender) HandleAck(p *FragmentPacket) error {
	if p.BlockID != s.blockID {
		return fmt.Errorf("block: ack for block %d does not match sender block %d", p.BlockID, s.blockID)
	}
	if int(p.FragmentID) >= s.numFragments {
		return errs.NewChannelProtocolViolationError("fragment ack id %d out of range [0,%d)", p.FragmentID, s.numFragments)
	}
	if !s.acked[p.FragmentID] {
		s.acked[p.FragmentID] = true
		s.numAcked++
	}
	return nil
}

// Receiver reassembles a block from fragments, emitting an ack for
// each one. Callers poll ReceiveCompleted/GetBlock for the result.
type Receiver struct {
	maxBlockSize int
	blockID      uint16
	blockSize    uint32
	numFragments int
	fragmentSize int
	received     []bool
	numReceived  int
	buffer       []byte
	started      bool
}

// NewReceiver returns a Receiver that refuses any block larger than
// maxBlockSize.
func NewReceiver(maxBlockSize int) *Receiver {
	return &Receiver{maxBlockSize: maxBlockSize}
}

// HandleFragment applies an incoming data fragment, returning the ack
// packet the caller should send back to the sender.
func (r *Receiver) HandleFragment(p *FragmentPacket, fragmentSize int) (*FragmentPacket, error) {
	if !r.started {
		if int(p.BlockSize) > r.maxBlockSize {
			return nil, errs.NewBlockTooLargeError(int(p.BlockSize), r.maxBlockSize)
		}
		r.started = true
		r.blockID = p.BlockID
		r.blockSize = p.BlockSize
		r.numFragments = int(p.NumFragments)
		r.fragmentSize = fragmentSize
		r.received = make([]bool, r.numFragments)
		r.buffer = make([]byte, r.blockSize)
	}

	if p.BlockID != r.blockID {
		return nil, fmt.Errorf("block: fragment for block %d does not match in-progress block %d", p.BlockID, r.blockID)
	}
	if p.BlockSize != r.blockSize {
		return nil, errs.NewBlockSizeMismatchError(r.blockSize, p.BlockSize)
	}
	if int(p.FragmentID) >= r.numFragments {
		return nil, errs.NewChannelProtocolViolationError("fragment id %d out of range [0,%d)", p.FragmentID, r.numFragments)
	}

	if !r.received[p.FragmentID] {
		start := int(p.FragmentID) * r.fragmentSize
		copy(r.buffer[start:], p.Data)
		r.received[p.FragmentID] = true
		r.numReceived++
	}

	return &FragmentPacket{
		Type:       FragmentAck,
		BlockID:    r.blockID,
		FragmentID: p.FragmentID,
	}, nil
}

// ReceiveCompleted reports whether every fragment has arrived.
func (r *Receiver) ReceiveCompleted() bool {
	return r.started && r.numReceived == r.numFragments
}

// GetBlock returns the reassembled block once ReceiveCompleted is true.
func (r *Receiver) GetBlock() ([]byte, bool) {
	if !r.ReceiveCompleted() {
		return nil, false
	}
	return r.buffer, true
}
