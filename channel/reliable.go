// Package channel implements ChannelStructure/MessageFactory pairing
// and ReliableChannel, the core reliable-ordered messaging algorithm:
// sliding-window send/receive queues, ack-driven retransmit, and
// large-block fragmentation, with a per-channel logger derived via
// With in the idiom of charmbracelet/log.
package channel

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nprotocol/reliable/bitio"
	"github.com/nprotocol/reliable/errs"
	"github.com/nprotocol/reliable/message"
	"github.com/nprotocol/reliable/metrics"
	"github.com/nprotocol/reliable/seq"
	"github.com/nprotocol/reliable/window"
)

// ReliableChannel is the heart of the system: a single ordered,
// reliable message stream multiplexed with zero or more sibling
// channels over one Connection.
type ReliableChannel struct {
	index   int
	cfg     Config
	factory *message.Factory
	log     *log.Logger
	counters *metrics.ChannelCounters

	sendQueue    *window.Window[SendQueueEntry]
	receiveQueue *window.Window[ReceiveQueueEntry]
	sentPackets  *window.Window[SentPacketEntry]

	sendMessageID          uint16
	receiveMessageID       uint16
	oldestUnackedMessageID uint16

	sendLargeBlock    SendLargeBlockState
	receiveLargeBlock ReceiveLargeBlockState
	fragmentCursor    int
}

// New constructs a ReliableChannel at the given channel index (used
// only for logging/metric labels — ChannelStructure assigns it).
// Passing a nil registerer skips prometheus registration, useful for
// running many short-lived channels in tests.
func New(index int, cfg Config, factory *message.Factory, logger *log.Logger, reg prometheus.Registerer) *ReliableChannel {
	if logger == nil {
		logger = log.Default()
	}
	c := &ReliableChannel{
		index:        index,
		cfg:          cfg,
		factory:      factory,
		log:          logger.With("channel", index),
		counters:     metrics.NewChannelCounters(reg, index),
		sendQueue:    window.New[SendQueueEntry](cfg.SendQueueSize),
		receiveQueue: window.New[ReceiveQueueEntry](cfg.ReceiveQueueSize),
		sentPackets:  window.New[SentPacketEntry](cfg.SentPacketsSize),
	}
	return c
}

// ConfigSnapshot returns a copy of this channel's configuration, used
// by conn.Connection to serialize/deserialize this channel's payload
// without exposing the live Config to mutation.
func (c *ReliableChannel) ConfigSnapshot() Config {
	return c.cfg
}

// SendMessageID returns the next send message id that SendMessage will
// assign, wrapping at 65536 like every other sequence number in this
// module.
func (c *ReliableChannel) SendMessageID() uint16 {
	return c.sendMessageID
}

// Reset clears all queues, releases every message still held, and
// zeroes large-block state, releasing every held message reference so
// none is leaked.
func (c *ReliableChannel) Reset() {
	c.sendQueue.ForEachValid(func(_ uint16, e *SendQueueEntry) {
		if e.Message != nil {
			c.factory.Release(e.Message)
		}
	})
	c.receiveQueue.ForEachValid(func(_ uint16, e *ReceiveQueueEntry) {
		if e.Message != nil {
			c.factory.Release(e.Message)
		}
	})
	c.sendQueue.Reset()
	c.receiveQueue.Reset()
	c.sentPackets.Reset()
	c.sendMessageID = 0
	c.receiveMessageID = 0
	c.oldestUnackedMessageID = 0
	c.counters.OldestUnacked.Set(0)
	c.sendLargeBlock = SendLargeBlockState{}
	c.receiveLargeBlock = ReceiveLargeBlockState{}
	c.fragmentCursor = 0
	c.log.Debug("channel reset")
}

// CanSendMessage reports whether SendMessage would currently succeed.
func (c *ReliableChannel) CanSendMessage() bool {
	if c.sendLargeBlock.active {
		return false
	}
	return c.sendQueue.HasSlot(c.sendMessageID)
}

// SendMessage enqueues msg for reliable delivery, assigning it the
// next send message id.
func (c *ReliableChannel) SendMessage(m message.Message) error {
	if !c.CanSendMessage() {
		return errs.NewChannelProtocolViolationError("send_message called while can_send_message() is false")
	}
	if size := (message.MeasureBits(m) + 7) / 8; c.cfg.MaxMessageSize > 0 && size > c.cfg.MaxMessageSize {
		return errs.NewMessageTooLargeError(size, c.cfg.MaxMessageSize)
	}
	id := c.sendMessageID
	m.SetID(id)
	slot, ok := c.sendQueue.InsertAt(id)
	if !ok {
		return errs.NewChannelProtocolViolationError("send queue rejected message id %d", id)
	}
	*slot = SendQueueEntry{MessageID: id, Message: m}
	c.sendMessageID++
	c.counters.MessagesSent.Inc()
	c.log.Debug("queued message", "id", id)
	return nil
}

// SendBlock enqueues block for delivery, wrapping it inline as a
// BlockMessage if it fits under MaxSmallBlockSize, otherwise starting
// the large-block fragmentation state machine.
func (c *ReliableChannel) SendBlock(data []byte) error {
	if len(data) > c.cfg.MaxLargeBlockSize {
		return errs.NewBlockTooLargeError(len(data), c.cfg.MaxLargeBlockSize)
	}
	if len(data) <= c.cfg.MaxSmallBlockSize {
		return c.SendMessage(message.NewBlockMessage(data, c.cfg.MaxSmallBlockSize))
	}
	if c.sendLargeBlock.active {
		return errs.NewLargeBlockInFlightError(c.sendLargeBlock.blockID)
	}
	if !c.sendQueue.HasSlot(c.sendMessageID) {
		return errs.NewChannelProtocolViolationError("send_block called while send queue slot %d is occupied", c.sendMessageID)
	}
	numFragments := (len(data) + c.cfg.BlockFragmentSize - 1) / c.cfg.BlockFragmentSize
	c.sendLargeBlock = SendLargeBlockState{
		active:       true,
		blockID:      c.sendMessageID,
		blockSize:    uint32(len(data)),
		numFragments: numFragments,
		data:         data,
		fragments:    make([]sendFragmentState, numFragments),
	}
	c.fragmentCursor = 0
	c.counters.MessagesSent.Inc()
	c.log.Debug("started large block send", "block_id", c.sendLargeBlock.blockID, "fragments", numFragments)
	return nil
}

// GetChannelData produces this channel's payload for the packet being
// assembled at packetSequence, or (nil, false) if it has nothing to
// send this tick.
func (c *ReliableChannel) GetChannelData(packetSequence uint16, now time.Time) (*Payload, bool) {
	if c.sendLargeBlock.active {
		return c.getFragmentData(packetSequence, now)
	}
	return c.getMessagesData(packetSequence, now)
}

func (c *ReliableChannel) getFragmentData(packetSequence uint16, now time.Time) (*Payload, bool) {
	n := c.sendLargeBlock.numFragments
	for i := 0; i < n; i++ {
		idx := (c.fragmentCursor + i) % n
		frag := &c.sendLargeBlock.fragments[idx]
		if frag.acked {
			continue
		}
		if !frag.timeLastSent.IsZero() && now.Sub(frag.timeLastSent) < c.cfg.ResendRate {
			continue
		}
		frag.timeLastSent = now
		c.fragmentCursor = (idx + 1) % n
		start := idx * c.cfg.BlockFragmentSize
		end := start + c.cfg.BlockFragmentSize
		if end > len(c.sendLargeBlock.data) {
			end = len(c.sendLargeBlock.data)
		}
		slot, ok := c.sentPackets.InsertAt(packetSequence)
		if !ok {
			return nil, false
		}
		*slot = SentPacketEntry{
			PacketSequence: packetSequence,
			TimeSent:       now,
			IsLargeBlock:   true,
			BlockID:        c.sendLargeBlock.blockID,
			FragmentID:     idx,
		}
		c.counters.FragmentsSent.Inc()
		c.counters.PacketsGenerated.Inc()
		return &Payload{
			IsFragment: true,
			Fragment: FragmentPayload{
				BlockID:      c.sendLargeBlock.blockID,
				NumFragments: n,
				FragmentID:   idx,
				BlockSize:    c.sendLargeBlock.blockSize,
				Data:         append([]byte(nil), c.sendLargeBlock.data[start:end]...),
			},
		}, true
	}
	return nil, false
}

func (c *ReliableChannel) getMessagesData(packetSequence uint16, now time.Time) (*Payload, bool) {
	budgetBits := c.cfg.PacketBudget*8 - c.cfg.GiveUpBits
	usedBits := 0
	var chosen []message.Message
	var chosenIDs []uint16

	id := c.oldestUnackedMessageID
	for i := 0; i < c.cfg.SendQueueSize; i++ {
		if len(chosen) >= c.cfg.MaxMessagesPerPacket {
			break
		}
		entry, ok := c.sendQueue.Find(id)
		if ok {
			if entry.TimeLastSent.IsZero() || now.Sub(entry.TimeLastSent) >= c.cfg.ResendRate {
				if entry.MeasuredBits == 0 {
					entry.MeasuredBits = message.MeasureBits(entry.Message)
				}
				cost := entry.MeasuredBits + c.messageOverheadBits()
				if usedBits+cost <= budgetBits {
					entry.TimeLastSent = now
					chosen = append(chosen, entry.Message)
					chosenIDs = append(chosenIDs, entry.MessageID)
					usedBits += cost
				}
			}
		}
		id++
		if id == c.sendMessageID {
			break
		}
	}

	if len(chosen) == 0 {
		return nil, false
	}

	slot, ok := c.sentPackets.InsertAt(packetSequence)
	if !ok {
		return nil, false
	}
	*slot = SentPacketEntry{
		PacketSequence: packetSequence,
		TimeSent:       now,
		MessageIDs:     chosenIDs,
	}
	c.counters.PacketsGenerated.Inc()
	return &Payload{Messages: chosen}, true
}

// messageOverheadBits estimates the per-message framing cost (type_id
// range plus the 16-bit id) so the retransmit scan's greedy packing
// can respect packet_budget without a second measurement pass. The
// check() marker, when enabled, adds a further 32 bits.
func (c *ReliableChannel) messageOverheadBits() int {
	overhead := bitio.BitsRequired(uint32(c.cfg.NumMessageTypes)) + 16
	if c.cfg.CheckMarker {
		overhead += 32
	}
	return overhead
}

// ProcessAck applies an acknowledgement of ackSequence, clearing any
// send-queue entries or fragment state it covers.
func (c *ReliableChannel) ProcessAck(ackSequence uint16) {
	entry, ok := c.sentPackets.Find(ackSequence)
	if !ok || entry.Acked {
		return
	}
	entry.Acked = true

	if entry.IsLargeBlock {
		if c.sendLargeBlock.active && entry.BlockID == c.sendLargeBlock.blockID {
			frag := &c.sendLargeBlock.fragments[entry.FragmentID]
			if !frag.acked {
				frag.acked = true
				c.sendLargeBlock.numAcked++
				c.counters.FragmentsAcked.Inc()
			}
			if c.sendLargeBlock.numAcked == c.sendLargeBlock.numFragments {
				c.log.Debug("large block fully acked", "block_id", c.sendLargeBlock.blockID)
				c.sendLargeBlock = SendLargeBlockState{}
				c.sendMessageID++
			}
		}
	} else {
		for _, id := range entry.MessageIDs {
			if sq, ok := c.sendQueue.Find(id); ok && sq.MessageID == id {
				if sq.Message != nil {
					c.factory.Release(sq.Message)
				}
				c.sendQueue.Clear(id)
			}
		}
	}

	c.updateOldestUnackedMessageID()
}

func (c *ReliableChannel) updateOldestUnackedMessageID() {
	id := c.oldestUnackedMessageID
	for seq.LessThan(id, c.sendMessageID) {
		if c.sendQueue.HasSlot(id) {
			id++
			continue
		}
		break
	}
	c.oldestUnackedMessageID = id
	c.counters.OldestUnacked.Set(float64(id))
}

// ProcessChannelData applies an inbound payload received on
// packetSequence.
func (c *ReliableChannel) ProcessChannelData(packetSequence uint16, p *Payload) error {
	if p.IsFragment {
		return c.processFragment(&p.Fragment)
	}
	return c.processMessages(p.Messages)
}

func (c *ReliableChannel) processFragment(f *FragmentPayload) error {
	if !c.receiveLargeBlock.active || f.BlockID != c.receiveLargeBlock.blockID {
		if c.receiveLargeBlock.active && seq.LessThan(f.BlockID, c.receiveLargeBlock.blockID) {
			return nil // stale fragment for a block we already finished
		}
		c.receiveLargeBlock = ReceiveLargeBlockState{
			active:       true,
			blockID:      f.BlockID,
			blockSize:    f.BlockSize,
			numFragments: f.NumFragments,
			buffer:       make([]byte, f.BlockSize),
			fragments:    make([]receiveFragmentState, f.NumFragments),
		}
	} else if f.BlockSize != c.receiveLargeBlock.blockSize {
		return errs.NewBlockSizeMismatchError(c.receiveLargeBlock.blockSize, f.BlockSize)
	}

	if f.FragmentID < 0 || f.FragmentID >= c.receiveLargeBlock.numFragments {
		return errs.NewChannelProtocolViolationError("fragment id %d out of range [0,%d)", f.FragmentID, c.receiveLargeBlock.numFragments)
	}

	c.counters.FragmentsReceived.Inc()
	frag := &c.receiveLargeBlock.fragments[f.FragmentID]
	if !frag.received {
		start := f.FragmentID * c.cfg.BlockFragmentSize
		copy(c.receiveLargeBlock.buffer[start:], f.Data)
		frag.received = true
		c.receiveLargeBlock.numReceived++
	}

	if c.receiveLargeBlock.numReceived == c.receiveLargeBlock.numFragments {
		blockMsg := message.NewBlockMessage(c.receiveLargeBlock.buffer, c.cfg.MaxLargeBlockSize)
		blockMsg.SetID(c.receiveLargeBlock.blockID)
		slot, ok := c.receiveQueue.InsertAt(blockMsg.ID())
		if ok {
			*slot = ReceiveQueueEntry{MessageID: blockMsg.ID(), Message: blockMsg}
		}
		c.log.Debug("large block reassembled", "block_id", c.receiveLargeBlock.blockID)
		c.receiveLargeBlock = ReceiveLargeBlockState{}
	}
	return nil
}

func (c *ReliableChannel) processMessages(messages []message.Message) error {
	minID := c.receiveMessageID
	maxID := c.receiveMessageID + uint16(c.cfg.ReceiveQueueSize) - 1

	for _, m := range messages {
		id := m.ID()
		switch {
		case seq.LessThan(id, minID):
			c.counters.MessagesDiscarded.Inc()
		case seq.GreaterThan(id, maxID):
			c.counters.ReadPacketFailures.Inc()
			return errs.NewEarlyMessageError(id, maxID)
		default:
			if c.receiveQueue.HasSlot(id) {
				slot, _ := c.receiveQueue.InsertAt(id)
				*slot = ReceiveQueueEntry{MessageID: id, Message: m}
				c.counters.MessagesReceived.Inc()
			} else {
				c.counters.MessagesDiscarded.Inc()
			}
		}
	}
	return nil
}

// ReceiveMessage dequeues the next in-order message, if any is ready.
func (c *ReliableChannel) ReceiveMessage() (message.Message, bool) {
	entry, ok := c.receiveQueue.Find(c.receiveMessageID)
	if !ok {
		return nil, false
	}
	m := entry.Message
	c.receiveQueue.Clear(c.receiveMessageID)
	c.receiveMessageID++
	return m, true
}

// SendBlockStatus snapshots large-block send progress
// (SPEC_FULL.md §6).
func (c *ReliableChannel) SendBlockStatus() SendBlockStatus {
	return SendBlockStatus{
		Sending:           c.sendLargeBlock.active,
		BlockID:           c.sendLargeBlock.blockID,
		BlockSize:         c.sendLargeBlock.blockSize,
		NumFragments:      c.sendLargeBlock.numFragments,
		NumAckedFragments: c.sendLargeBlock.numAcked,
	}
}

// ReceiveBlockStatus snapshots large-block receive progress
// (SPEC_FULL.md §6).
func (c *ReliableChannel) ReceiveBlockStatus() ReceiveBlockStatus {
	return ReceiveBlockStatus{
		Receiving:            c.receiveLargeBlock.active,
		BlockID:              c.receiveLargeBlock.blockID,
		BlockSize:            c.receiveLargeBlock.blockSize,
		NumFragments:         c.receiveLargeBlock.numFragments,
		NumReceivedFragments: c.receiveLargeBlock.numReceived,
	}
}
