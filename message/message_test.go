package message

import (
	"testing"

	"github.com/nprotocol/reliable/bitio"
	"github.com/stretchr/testify/require"
)

func TestFactoryRefcounting(t *testing.T) {
	f := NewFactory()
	f.Register(BlockTypeID, NewBlockMessageConstructor(256))

	m, err := f.Create(BlockTypeID)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.RefCount(m))

	f.AddRef(m)
	require.EqualValues(t, 2, f.RefCount(m))

	require.False(t, f.Release(m))
	require.True(t, f.Release(m))
	require.EqualValues(t, 0, f.RefCount(m))
}

func TestFactoryUnknownType(t *testing.T) {
	f := NewFactory()
	_, err := f.Create(7)
	require.Error(t, err)
}

func TestBlockMessageRoundTrip(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	w := NewBlockMessage(data, 256)
	w.SetID(11)

	buf := make([]byte, 32)
	bw := bitio.NewWriter(buf)
	require.NoError(t, w.Serialize(bw))
	bw.Flush()
	require.False(t, bw.IsOverflow())

	r := NewBlockMessage(nil, 256)
	br := bitio.NewReader(buf)
	require.NoError(t, r.Serialize(br))
	require.Equal(t, data, r.Data)
}

func TestMeasureBitsMatchesWrite(t *testing.T) {
	m := NewBlockMessage([]byte{9, 9, 9}, 256)
	bits := MeasureBits(m)

	buf := make([]byte, 16)
	w := bitio.NewWriter(buf)
	require.NoError(t, m.Serialize(w))
	w.Flush()
	require.Equal(t, bits, w.BitsWritten())
}
