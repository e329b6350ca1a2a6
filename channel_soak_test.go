package reliable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nprotocol/reliable/channel"
	"github.com/nprotocol/reliable/message"
	"github.com/nprotocol/reliable/nettest"
)

// TestSoakMixedTrafficSurvivesLossDuplicateAndDelay drives many ticks
// of small messages and a large block queued together over a link that
// loses, duplicates and reorders packets at once, across several
// seeds. It asserts only on final correctness (order preserved, block
// bytes identical) and that nothing panics along the way — the crash
// this guards against is a fragment-reassembly panic on a fragment
// observed out of order before fragment 0 ever arrives.
func TestSoakMixedTrafficSurvivesLossDuplicateAndDelay(t *testing.T) {
	for _, seed := range []int64{100, 101, 102, 103} {
		seed := seed
		t.Run("", func(t *testing.T) {
			cfg := smallCfg()
			cfg.MaxSmallBlockSize = 48
			cfg.BlockFragmentSize = 32
			cfg.MaxLargeBlockSize = 1 << 16
			cfg.MaxMessagesPerPacket = 16

			link := nettest.LinkConfig{
				LossRate:      0.3,
				DuplicateRate: 0.1,
				MinDelay:      0,
				MaxDelay:      3 * cfg.ResendRate,
				MaxPacketSize: 1200,
			}
			p := newPair(t, cfg, link, seed)

			const numSmall = 64
			blockData := make([]byte, 3000)
			for i := range blockData {
				blockData[i] = byte(i*7 + int(seed))
			}

			for i := 0; i < numSmall; i++ {
				m := message.NewBlockMessage([]byte{byte(i)}, cfg.MaxSmallBlockSize)
				require.NoError(t, p.a.Channel(0).SendMessage(m))
			}

			now := time.Now()
			var received []byte
			var blockOut []byte
			blockSent := false
			for tick := 0; tick < 20000 && (len(received) < numSmall || blockOut == nil); tick++ {
				now = now.Add(cfg.ResendRate)
				p.tick(t, now)
				// The block's message id follows the small messages', so
				// stop after numSmall and leave the block for the check
				// below.
				for len(received) < numSmall {
					m, ok := p.b.Channel(0).ReceiveMessage()
					if !ok {
						break
					}
					received = append(received, m.(*message.BlockMessage).Data[0])
				}
				// Start the large block after the first tick has sent a
				// first batch of small messages. While the block is in
				// flight only its fragments are sent; the remaining
				// small messages go out after it is fully acked.
				if !blockSent && p.a.Channel(0).CanSendMessage() {
					require.NoError(t, p.a.Channel(0).SendBlock(blockData))
					blockSent = true
				}
				if blockOut == nil {
					if bm, ok := p.b.Channel(0).ReceiveMessage(); ok {
						blockOut = bm.(*message.BlockMessage).Data
					}
				}
			}

			require.Len(t, received, numSmall, "seed %d: every small message must eventually arrive", seed)
			for i, v := range received {
				require.Equal(t, byte(i), v, "seed %d: strict ordering must hold under reordering/duplication", seed)
			}
			require.Equal(t, blockData, blockOut, "seed %d: large block must reassemble bytewise identical", seed)
		})
	}
}

// TestSoakChannelNeverPanicsOnFragmentFirstObserved exercises the
// specific failure mode a BlockSize of zero on a non-leading fragment
// would cause: only odd-indexed fragments are allowed through, so the
// receiver's first observed fragment for the block is never fragment
// zero.
func TestSoakChannelNeverPanicsOnFragmentFirstObserved(t *testing.T) {
	cfg := channel.DefaultConfig()
	cfg.MaxSmallBlockSize = 16
	cfg.BlockFragmentSize = 32
	cfg.MaxLargeBlockSize = 1 << 16

	sa := channel.NewStructure()
	sa.Add(channel.Descriptor{Name: "data", Config: cfg})
	sa.Lock()
	send := sa.Build(sa.NewMessageFactory(), nil, nil)[0]

	sb := channel.NewStructure()
	sb.Add(channel.Descriptor{Name: "data", Config: cfg})
	sb.Lock()
	recv := sb.Build(sb.NewMessageFactory(), nil, nil)[0]

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, send.SendBlock(data))

	now := time.Now()
	seq := uint16(0)
	for i := 0; i < 64; i++ {
		p, ok := send.GetChannelData(seq, now)
		seq++
		now = now.Add(time.Millisecond)
		if !ok || !p.IsFragment {
			continue
		}
		if p.Fragment.FragmentID%2 == 0 {
			continue // drop every even fragment, including fragment 0
		}
		require.NotPanics(t, func() {
			_ = recv.ProcessChannelData(seq, p)
		})
	}
}
