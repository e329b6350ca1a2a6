package channel

import (
	"github.com/nprotocol/reliable/bitio"
	"github.com/nprotocol/reliable/errs"
	"github.com/nprotocol/reliable/message"
)

const checkMagic = 0xDEADBEEF

// Payload is a channel's per-packet contents: either a batch of small
// messages or a single large-block fragment, never both. The leading
// discriminator bit makes the two shapes self-describing on the wire;
// see DESIGN.md.
type Payload struct {
	IsFragment bool
	Messages   []message.Message
	Fragment   FragmentPayload
}

// FragmentPayload is one large-block fragment on the wire.
type FragmentPayload struct {
	BlockID      uint16
	NumFragments int
	FragmentID   int
	BlockSize    uint32
	Data         []byte
}

func maxFragmentsFor(cfg *Config) int64 {
	n := (cfg.MaxLargeBlockSize + cfg.BlockFragmentSize - 1) / cfg.BlockFragmentSize
	if n < 1 {
		n = 1
	}
	return int64(n)
}

// Serialize writes or reads the payload against stream, creating
// messages from factory when reading. cfg bounds the int_range widths
// so both ends of the connection must share identical configuration.
func (p *Payload) Serialize(stream bitio.Stream, factory *message.Factory, cfg *Config) error {
	isFragment := uint32(0)
	if p.IsFragment {
		isFragment = 1
	}
	stream.SerializeBits(&isFragment, 1)
	p.IsFragment = isFragment == 1

	if p.IsFragment {
		return p.Fragment.serialize(stream, cfg)
	}
	return p.serializeMessages(stream, factory, cfg)
}

func (p *Payload) serializeMessages(stream bitio.Stream, factory *message.Factory, cfg *Config) error {
	count := int64(len(p.Messages))
	stream.SerializeIntRange(&count, 0, int64(cfg.MaxMessagesPerPacket))
	if stream.IsReading() {
		p.Messages = make([]message.Message, count)
	}
	for i := range p.Messages {
		var typeID, id int64
		var m message.Message
		if stream.IsWriting() {
			m = p.Messages[i]
			typeID = int64(m.TypeID())
			id = int64(m.ID())
		}
		stream.SerializeIntRange(&typeID, 0, int64(cfg.NumMessageTypes-1))
		stream.SerializeIntRange(&id, 0, 65535)
		if stream.IsReading() {
			created, err := factory.Create(uint16(typeID))
			if err != nil {
				return errs.NewReadPacketFailureError(err)
			}
			created.SetID(uint16(id))
			m = created
			p.Messages[i] = m
		}
		if cfg.Align {
			stream.SerializeAlign()
		}
		if err := m.Serialize(stream); err != nil {
			return errs.NewReadPacketFailureError(err)
		}
		if cfg.CheckMarker {
			if err := stream.SerializeCheck(checkMagic); err != nil {
				return errs.NewReadPacketFailureError(err)
			}
		}
	}
	return nil
}

func (f *FragmentPayload) serialize(stream bitio.Stream, cfg *Config) error {
	blockID := uint32(f.BlockID)
	stream.SerializeBits(&blockID, 16)
	f.BlockID = uint16(blockID)

	numFragments := int64(f.NumFragments)
	stream.SerializeIntRange(&numFragments, 0, maxFragmentsFor(cfg))
	f.NumFragments = int(numFragments)

	fragmentID := int64(f.FragmentID)
	maxFragID := int64(f.NumFragments - 1)
	if maxFragID < 0 {
		maxFragID = 0
	}
	stream.SerializeIntRange(&fragmentID, 0, maxFragID)
	f.FragmentID = int(fragmentID)

	// Sent on every fragment, not just fragment 0: pure packet loss can
	// make any fragment the first one a receiver ever observes for a
	// block, and the receive buffer can't be sized without it.
	blockSize := f.BlockSize
	stream.SerializeBits(&blockSize, 32)
	f.BlockSize = blockSize

	length := int64(len(f.Data))
	stream.SerializeIntRange(&length, 0, int64(cfg.BlockFragmentSize))
	if stream.IsReading() {
		f.Data = make([]byte, length)
	}
	stream.SerializeAlign()
	stream.SerializeBytes(f.Data)
	return nil
}
