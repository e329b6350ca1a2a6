package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nprotocol/reliable/message"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendQueueSize = 32
	cfg.ReceiveQueueSize = 32
	cfg.SentPacketsSize = 32
	cfg.MaxMessagesPerPacket = 8
	cfg.BlockFragmentSize = 8
	cfg.MaxSmallBlockSize = 16
	cfg.MaxLargeBlockSize = 1024
	return cfg
}

func newTestChannel(cfg Config) (*ReliableChannel, *message.Factory) {
	f := message.NewFactory()
	f.Register(message.BlockTypeID, message.NewBlockMessageConstructor(cfg.MaxLargeBlockSize))
	return New(0, cfg, f, nil, nil), f
}

func TestSendReceiveSmallMessage(t *testing.T) {
	cfg := testConfig()
	sender, sf := newTestChannel(cfg)
	receiver, _ := newTestChannel(cfg)

	m, err := sf.Create(message.BlockTypeID)
	require.NoError(t, err)
	bm := m.(*message.BlockMessage)
	bm.Data = []byte("hello")

	require.True(t, sender.CanSendMessage())
	require.NoError(t, sender.SendMessage(bm))

	now := time.Now()
	payload, ok := sender.GetChannelData(0, now)
	require.True(t, ok)
	require.Len(t, payload.Messages, 1)

	require.NoError(t, receiver.ProcessChannelData(0, payload))
	out, ok := receiver.ReceiveMessage()
	require.True(t, ok)
	require.Equal(t, []byte("hello"), out.(*message.BlockMessage).Data)

	sender.ProcessAck(0)
	require.True(t, sender.sendQueue.HasSlot(0))
}

func TestResendRateGatesRetransmission(t *testing.T) {
	cfg := testConfig()
	cfg.ResendRate = time.Hour
	sender, sf := newTestChannel(cfg)

	m, _ := sf.Create(message.BlockTypeID)
	require.NoError(t, sender.SendMessage(m))

	now := time.Now()
	_, ok := sender.GetChannelData(0, now)
	require.True(t, ok)

	_, ok = sender.GetChannelData(1, now.Add(time.Second))
	require.False(t, ok, "resend_rate should suppress immediate retransmission")

	_, ok = sender.GetChannelData(1, now.Add(2*time.Hour))
	require.True(t, ok)
}

func TestLargeBlockFragmentationRoundTrip(t *testing.T) {
	cfg := testConfig()
	sender, _ := newTestChannel(cfg)
	receiver, _ := newTestChannel(cfg)

	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, sender.SendBlock(data))
	require.False(t, sender.CanSendMessage())

	now := time.Now()
	var seqNum uint16
	for {
		status := sender.SendBlockStatus()
		if !status.Sending {
			break
		}
		payload, ok := sender.GetChannelData(seqNum, now)
		require.True(t, ok)
		require.True(t, payload.IsFragment)

		require.NoError(t, receiver.ProcessChannelData(seqNum, payload))
		sender.ProcessAck(seqNum)

		seqNum++
		now = now.Add(cfg.ResendRate + time.Millisecond)
		if seqNum > 100 {
			t.Fatal("large block transfer did not converge")
		}
	}

	out, ok := receiver.ReceiveMessage()
	require.True(t, ok)
	require.Equal(t, data, out.(*message.BlockMessage).Data)
	require.True(t, sender.CanSendMessage())
}

func TestSendBlockTooLarge(t *testing.T) {
	cfg := testConfig()
	sender, _ := newTestChannel(cfg)
	err := sender.SendBlock(make([]byte, cfg.MaxLargeBlockSize+1))
	require.Error(t, err)
}

func TestSecondLargeBlockRejected(t *testing.T) {
	cfg := testConfig()
	sender, _ := newTestChannel(cfg)
	require.NoError(t, sender.SendBlock(make([]byte, cfg.MaxSmallBlockSize+10)))
	err := sender.SendBlock(make([]byte, cfg.MaxSmallBlockSize+10))
	require.Error(t, err)
}

func TestLateDuplicateDiscarded(t *testing.T) {
	cfg := testConfig()
	receiver, _ := newTestChannel(cfg)
	receiver.receiveMessageID = 5

	m := message.NewBlockMessage([]byte("x"), cfg.MaxSmallBlockSize)
	m.SetID(2)
	err := receiver.processMessages([]message.Message{m})
	require.NoError(t, err)
	_, ok := receiver.receiveQueue.Find(2)
	require.False(t, ok)
}

func TestEarlyMessageRejectsPacket(t *testing.T) {
	cfg := testConfig()
	receiver, _ := newTestChannel(cfg)

	m := message.NewBlockMessage([]byte("x"), cfg.MaxSmallBlockSize)
	m.SetID(uint16(cfg.ReceiveQueueSize) + 5)
	err := receiver.processMessages([]message.Message{m})
	require.Error(t, err)
}

func TestResetReleasesMessages(t *testing.T) {
	cfg := testConfig()
	sender, sf := newTestChannel(cfg)
	m, _ := sf.Create(message.BlockTypeID)
	require.NoError(t, sender.SendMessage(m))
	require.EqualValues(t, 1, sf.RefCount(m))
	sender.Reset()
	require.EqualValues(t, 0, sf.RefCount(m))
	require.True(t, sender.CanSendMessage())
}
