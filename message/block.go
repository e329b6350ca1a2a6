package message

import "github.com/nprotocol/reliable/bitio"

// BlockMessage carries a small block (one at or under
// MaxSmallBlockSize) inline in the message stream. Large blocks never
// use this type; they go through the fragment path instead.
type BlockMessage struct {
	id      uint16
	Data    []byte
	maxSize int
}

// NewBlockMessage wraps data as a BlockMessage, bounded by maxSize
// (the channel's configured max_small_block_size; ChannelStructure
// registers the factory constructor with the same bound).
func NewBlockMessage(data []byte, maxSize int) *BlockMessage {
	return &BlockMessage{Data: data, maxSize: maxSize}
}

// NewBlockMessageConstructor returns a Constructor bound to maxSize,
// suitable for Factory.Register(BlockTypeID, ...).
func NewBlockMessageConstructor(maxSize int) Constructor {
	return func() Message {
		return &BlockMessage{maxSize: maxSize}
	}
}

func (m *BlockMessage) TypeID() uint16  { return BlockTypeID }
func (m *BlockMessage) ID() uint16      { return m.id }
func (m *BlockMessage) SetID(id uint16) { m.id = id }

// Serialize writes/reads the block size (ranged to [0, maxSize]) then
// the raw, byte-aligned bytes.
func (m *BlockMessage) Serialize(stream bitio.Stream) error {
	size := int64(len(m.Data))
	stream.SerializeIntRange(&size, 0, int64(m.maxSize))
	if stream.IsReading() {
		m.Data = make([]byte, size)
	}
	stream.SerializeAlign()
	stream.SerializeBytes(m.Data)
	return nil
}
