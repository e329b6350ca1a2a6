package seq

import "testing"

import "github.com/stretchr/testify/require"

func TestGreaterThan(t *testing.T) {
	require.True(t, GreaterThan(1, 0))
	require.False(t, GreaterThan(0, 1))
	require.False(t, GreaterThan(0, 0))
}

func TestWraparound(t *testing.T) {
	// 65535 -> 0 is a forward step, not backward.
	require.True(t, GreaterThan(0, 65535))
	require.False(t, GreaterThan(65535, 0))
}

func TestDiff(t *testing.T) {
	require.Equal(t, 1, Diff(1, 0))
	require.Equal(t, 1, Diff(0, 65535))
	require.Equal(t, -1, Diff(65535, 0))
}
