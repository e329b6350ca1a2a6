package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestChannelCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewChannelCounters(reg, 0)
	c.MessagesSent.Inc()
	c.MessagesSent.Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(c.MessagesSent))
}

func TestConnectionCountersRegisterIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewConnectionCounters(reg)
	c.PacketsSent.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(c.PacketsSent))
	require.Equal(t, float64(0), testutil.ToFloat64(c.PacketsReceived))
}

func TestItoaHandlesNegativeAndZero(t *testing.T) {
	require.Equal(t, "0", itoa(0))
	require.Equal(t, "-7", itoa(-7))
	require.Equal(t, "42", itoa(42))
}
