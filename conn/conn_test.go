package conn

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nprotocol/reliable/channel"
	"github.com/nprotocol/reliable/message"
)

func newTestConnection() *Connection {
	cfg := channel.DefaultConfig()
	cfg.SendQueueSize = 32
	cfg.ReceiveQueueSize = 32
	cfg.SentPacketsSize = 32
	cfg.MaxMessagesPerPacket = 8
	s := channel.NewStructure()
	s.Add(channel.Descriptor{Name: "control", Config: cfg})
	s.Lock()
	return New(s, DefaultOptions())
}

func TestWriteReadPacketDeliversMessage(t *testing.T) {
	a := newTestConnection()
	b := newTestConnection()

	m, err := a.factory.Create(message.BlockTypeID)
	require.NoError(t, err)
	bm := m.(*message.BlockMessage)
	bm.Data = []byte("payload")
	require.NoError(t, a.Channel(0).SendMessage(bm))

	now := time.Now()
	packet, err := a.WritePacket(now, DefaultPacketType)
	require.NoError(t, err)
	require.NotNil(t, packet)

	require.NoError(t, b.ReadPacket(packet))
	out, ok := b.Channel(0).ReceiveMessage()
	require.True(t, ok)
	require.Equal(t, []byte("payload"), out.(*message.BlockMessage).Data)
}

func TestDuplicatePacketDropped(t *testing.T) {
	a := newTestConnection()
	b := newTestConnection()

	now := time.Now()
	packet, err := a.WritePacket(now, DefaultPacketType)
	require.NoError(t, err)

	require.NoError(t, b.ReadPacket(packet))
	require.NoError(t, b.ReadPacket(packet))
	require.Equal(t, float64(1), testutil.ToFloat64(b.counters.PacketsDiscarded))
}

func TestAckPropagatesToChannel(t *testing.T) {
	a := newTestConnection()
	b := newTestConnection()

	m, _ := a.factory.Create(message.BlockTypeID)
	require.NoError(t, a.Channel(0).SendMessage(m))

	now := time.Now()
	packet, err := a.WritePacket(now, DefaultPacketType)
	require.NoError(t, err)
	require.NoError(t, b.ReadPacket(packet))

	ackPacket, err := b.WritePacket(now, DefaultPacketType)
	require.NoError(t, err)
	require.NoError(t, a.ReadPacket(ackPacket))

	require.True(t, a.Channel(0).CanSendMessage())
}

func TestConnectionReset(t *testing.T) {
	a := newTestConnection()
	m, _ := a.factory.Create(message.BlockTypeID)
	require.NoError(t, a.Channel(0).SendMessage(m))
	a.Reset()
	require.True(t, a.Channel(0).CanSendMessage())
	require.EqualValues(t, 0, a.nextSendSequence)
}
