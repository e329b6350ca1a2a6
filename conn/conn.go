// Package conn implements Connection: the owner of a fixed set of
// ReliableChannels sharing one 16-bit packet sequence space, one ack
// vector, and one wire-level packet header. It is built against a
// narrow Transport-shaped send/recv collaborator so callers can wire
// it to a real UDP socket or a simulated one.
package conn

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nprotocol/reliable/bitio"
	"github.com/nprotocol/reliable/channel"
	"github.com/nprotocol/reliable/errs"
	"github.com/nprotocol/reliable/message"
	"github.com/nprotocol/reliable/metrics"
	"github.com/nprotocol/reliable/window"
)

// PacketType is the value multiplexed at the front of every
// Connection packet so it can share a socket with session-layer
// packets.
type PacketType int64

// NumPacketTypes bounds PacketType's wire encoding. DefaultPacketType
// is the only value this package itself produces; callers embedding
// this connection in a larger session protocol pass a wider
// NumPacketTypes via Options.
const DefaultPacketType PacketType = 0

// ReceivedPacketWindowSize is the default size of the connection-level
// ack bookkeeping window.
const ReceivedPacketWindowSize = 256

// Options configures a Connection beyond its ChannelStructure.
type Options struct {
	NumPacketTypes   int64
	MaxPacketSize    int
	ReceivedWindow   int
	Logger           *log.Logger
	Registerer       prometheus.Registerer
}

// DefaultOptions returns sane defaults: two packet types, a 1200-byte
// MaxPacketSize (safely under typical path MTU minus IP/UDP headers),
// and the default received-packet window size.
func DefaultOptions() Options {
	return Options{
		NumPacketTypes: 2,
		MaxPacketSize:  1200,
		ReceivedWindow: ReceivedPacketWindowSize,
	}
}

// Connection owns the channels matching one ChannelStructure and
// drives the packet-level send/receive loop.
type Connection struct {
	opts     Options
	log      *log.Logger
	counters *metrics.ConnectionCounters

	structure *channel.Structure
	factory   *message.Factory
	channels  []*channel.ReliableChannel

	nextSendSequence uint16
	sentPackets      *window.Window[sentConnPacket]
	receivedPackets  *window.AckWindow
}

type sentConnPacket struct {
	timeSent time.Time
	acked    bool
}

// New builds a Connection over a locked Structure.
func New(structure *channel.Structure, opts Options) *Connection {
	if opts.NumPacketTypes == 0 {
		opts.NumPacketTypes = 2
	}
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = 1200
	}
	if opts.ReceivedWindow == 0 {
		opts.ReceivedWindow = ReceivedPacketWindowSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := structure.NewMessageFactory()
	return &Connection{
		opts:            opts,
		log:             logger,
		counters:        metrics.NewConnectionCounters(opts.Registerer),
		structure:       structure,
		factory:         factory,
		channels:        structure.Build(factory, logger, opts.Registerer),
		sentPackets:     window.New[sentConnPacket](opts.ReceivedWindow),
		receivedPackets: window.NewAckWindow(opts.ReceivedWindow),
	}
}

// Channel returns the channel at index i, matching the order channels
// were added to the Structure.
func (c *Connection) Channel(i int) *channel.ReliableChannel {
	return c.channels[i]
}

// NumChannels reports how many channels this connection owns.
func (c *Connection) NumChannels() int {
	return len(c.channels)
}

// Counters exposes the connection-level observability surface
// (SPEC_FULL.md §4.7) for callers wiring up a metrics endpoint or
// asserting on test expectations.
func (c *Connection) Counters() *metrics.ConnectionCounters {
	return c.counters
}

// WritePacket assembles one outbound packet: sequence, ack/ack_bits
// derived from the received-packet window, then each channel's
// payload in order. The header is always emitted, even when no channel
// has a payload, so acks propagate on an otherwise idle tick. If the
// packet overflows MaxPacketSize it returns (nil, nil) and the packet
// is dropped.
func (c *Connection) WritePacket(now time.Time, packetType PacketType) ([]byte, error) {
	sequence := c.nextSendSequence
	c.nextSendSequence++

	ack := c.receivedPackets.Latest()
	ackBits := c.receivedPackets.AckBits(ack)

	payloads := make([]*channel.Payload, len(c.channels))
	for i, ch := range c.channels {
		p, ok := ch.GetChannelData(sequence, now)
		if ok {
			payloads[i] = p
		}
	}

	buf := make([]byte, c.opts.MaxPacketSize)
	w := bitio.NewWriter(buf)

	pt := int64(packetType)
	w.SerializeIntRange(&pt, 0, c.opts.NumPacketTypes-1)
	seqField := uint32(sequence)
	w.SerializeBits(&seqField, 16)
	ackField := uint32(ack)
	w.SerializeBits(&ackField, 16)
	w.SerializeBits(&ackBits, 32)

	for i, ch := range c.channels {
		hasPayload := uint32(0)
		if payloads[i] != nil {
			hasPayload = 1
		}
		w.SerializeBits(&hasPayload, 1)
		if hasPayload == 1 {
			if err := payloads[i].Serialize(w, c.factory, chanConfig(ch)); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if w.IsOverflow() {
		c.log.Warn("outbound packet overflowed budget, dropping this tick", "sequence", sequence)
		return nil, nil
	}

	slot, ok := c.sentPackets.InsertAt(sequence)
	if ok {
		*slot = sentConnPacket{timeSent: now}
	}
	c.counters.PacketsSent.Inc()
	return w.Data()[:w.BytesWritten()], nil
}

// ReadPacket parses an inbound packet and applies it: acks to every
// channel, then per-channel payload processing. A stale or duplicate
// packet is dropped with no state change beyond the discard counter.
// A packet whose payload fails to parse or is rejected is dropped
// after its acks, and the payloads of any channels before the failing
// one, have been applied; it is not recorded as received.
func (c *Connection) ReadPacket(data []byte) error {
	r := bitio.NewReader(data)

	var pt int64
	r.SerializeIntRange(&pt, 0, c.opts.NumPacketTypes-1)
	var seqBits, ackField, ackBits uint32
	r.SerializeBits(&seqBits, 16)
	r.SerializeBits(&ackField, 16)
	r.SerializeBits(&ackBits, 32)
	sequence := uint16(seqBits)
	ack := uint16(ackField)

	if c.receivedPackets.TooOld(sequence) || c.receivedPackets.IsDuplicate(sequence) {
		c.counters.PacketsDiscarded.Inc()
		return nil
	}

	for _, ch := range c.channels {
		ch.ProcessAck(ack)
		for i := uint16(0); i < 32; i++ {
			if ackBits&(1<<i) != 0 {
				ch.ProcessAck(ack - 1 - i)
			}
		}
	}

	// Parse and apply every channel's payload before recording sequence
	// as received: if any channel rejects the packet, it must not be
	// acked on the next WritePacket, so the sender retransmits it.
	for _, ch := range c.channels {
		hasPayload := uint32(0)
		r.SerializeBits(&hasPayload, 1)
		if hasPayload != 1 {
			continue
		}
		p := &channel.Payload{}
		if err := p.Serialize(r, c.factory, chanConfig(ch)); err != nil {
			c.counters.PacketsDiscarded.Inc()
			return errs.NewReadPacketFailureError(err)
		}
		if err := ch.ProcessChannelData(sequence, p); err != nil {
			c.counters.PacketsDiscarded.Inc()
			return err
		}
	}
	if r.IsOverflow() {
		c.counters.PacketsDiscarded.Inc()
		return errs.NewReadPacketFailureError(fmt.Errorf("truncated packet"))
	}

	c.receivedPackets.Insert(sequence)
	c.counters.PacketsReceived.Inc()
	return nil
}

// Reset cascades a cancellation to every channel plus the
// connection-level received-packet window.
func (c *Connection) Reset() {
	for _, ch := range c.channels {
		ch.Reset()
	}
	c.sentPackets.Reset()
	c.receivedPackets.Reset()
	c.nextSendSequence = 0
	c.log.Debug("connection reset")
}

func chanConfig(ch *channel.ReliableChannel) *channel.Config {
	cfg := ch.ConfigSnapshot()
	return &cfg
}
