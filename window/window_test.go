package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testEntry struct {
	payload int
}

func TestInsertFindClear(t *testing.T) {
	w := New[testEntry](4)

	v, ok := w.InsertAt(0)
	require.True(t, ok)
	v.payload = 42

	got, ok := w.Find(0)
	require.True(t, ok)
	require.Equal(t, 42, got.payload)

	require.False(t, w.HasSlot(0))
	w.Clear(0)
	require.True(t, w.HasSlot(0))

	_, ok = w.Find(0)
	require.False(t, ok)
}

func TestInsertTooOldRejected(t *testing.T) {
	w := New[testEntry](4)
	for i := uint16(0); i < 10; i++ {
		_, ok := w.InsertAt(i)
		require.True(t, ok)
	}
	// sequence 0 is now more than `size` behind the cursor.
	_, ok := w.InsertAt(0)
	require.False(t, ok)
}

func TestInsertWraparound(t *testing.T) {
	w := New[testEntry](4)
	_, ok := w.InsertAt(65534)
	require.True(t, ok)
	_, ok = w.InsertAt(0)
	require.True(t, ok)
	_, found := w.Find(0)
	require.True(t, found)
}

func TestAckWindowBitsAndDuplicates(t *testing.T) {
	a := NewAckWindow(256)
	for _, s := range []uint16{0, 1, 2, 4} {
		a.Insert(s)
	}
	require.True(t, a.IsDuplicate(2))
	require.False(t, a.IsDuplicate(3))

	ack := a.Latest()
	require.EqualValues(t, 4, ack)

	bits := a.AckBits(ack)
	// bit i set iff ack-1-i received: ack-1=3 (missing), ack-2=2(have), ack-3=1(have), ack-4=0(have)
	require.Equal(t, uint32(0), bits&1)
	require.NotEqual(t, uint32(0), bits&(1<<1))
	require.NotEqual(t, uint32(0), bits&(1<<2))
	require.NotEqual(t, uint32(0), bits&(1<<3))
}
