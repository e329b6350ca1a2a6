// Package metrics wires per-channel and per-connection observability
// counters to github.com/prometheus/client_golang: messages and
// fragments sent/received/discarded, packets generated, and a gauge
// for the oldest unacked message id.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChannelCounters holds the per-channel observability surface.
type ChannelCounters struct {
	MessagesSent       prometheus.Counter
	MessagesReceived   prometheus.Counter
	MessagesDiscarded  prometheus.Counter // late or duplicate messages on the receive side
	PacketsGenerated   prometheus.Counter
	FragmentsSent      prometheus.Counter
	FragmentsReceived  prometheus.Counter
	FragmentsAcked     prometheus.Counter
	ReadPacketFailures prometheus.Counter
	OldestUnacked      prometheus.Gauge
}

// NewChannelCounters registers a fresh set of counters for channel
// index idx against reg. Pass a prometheus.NewRegistry() in tests to
// avoid colliding with the default global registry across parallel
// test channels.
func NewChannelCounters(reg prometheus.Registerer, idx int) *ChannelCounters {
	labels := prometheus.Labels{"channel": itoa(idx)}
	c := &ChannelCounters{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_messages_sent_total",
			Help:        "Messages accepted by send_message/send_block.",
			ConstLabels: labels,
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_messages_received_total",
			Help:        "Inbound messages accepted into the receive queue.",
			ConstLabels: labels,
		}),
		MessagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_messages_discarded_total",
			Help:        "Late-duplicate or otherwise discarded inbound messages.",
			ConstLabels: labels,
		}),
		PacketsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_packets_generated_total",
			Help:        "Non-nil payloads returned by get_channel_data.",
			ConstLabels: labels,
		}),
		FragmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_fragments_sent_total",
			Help:        "Large-block fragments transmitted.",
			ConstLabels: labels,
		}),
		FragmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_fragments_received_total",
			Help:        "Large-block fragments received (including duplicates).",
			ConstLabels: labels,
		}),
		FragmentsAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_fragments_acked_total",
			Help:        "Large-block fragments acknowledged.",
			ConstLabels: labels,
		}),
		ReadPacketFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reliable_channel_read_packet_failures_total",
			Help:        "Inbound payloads rejected because a message id lies beyond the receive window. Malformed packets are counted by the connection's packets_discarded counter instead.",
			ConstLabels: labels,
		}),
		OldestUnacked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "reliable_channel_oldest_unacked_message_id",
			Help:        "Current oldest_unacked_message_id for this channel.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.MessagesSent, c.MessagesReceived, c.MessagesDiscarded,
			c.PacketsGenerated, c.FragmentsSent, c.FragmentsReceived, c.FragmentsAcked,
			c.ReadPacketFailures, c.OldestUnacked)
	}
	return c
}

// ConnectionCounters holds connection-level observability.
type ConnectionCounters struct {
	PacketsSent      prometheus.Counter
	PacketsReceived  prometheus.Counter
	PacketsDiscarded prometheus.Counter // duplicate, too-old, malformed or rejected inbound packets
}

// NewConnectionCounters registers connection-level counters against reg.
func NewConnectionCounters(reg prometheus.Registerer) *ConnectionCounters {
	c := &ConnectionCounters{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_connection_packets_sent_total",
			Help: "Packets produced by WritePacket.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_connection_packets_received_total",
			Help: "Packets accepted by ReadPacket.",
		}),
		PacketsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_connection_packets_discarded_total",
			Help: "Packets rejected as duplicate, too old, or malformed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.PacketsSent, c.PacketsReceived, c.PacketsDiscarded)
	}
	return c
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
