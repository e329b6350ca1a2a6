package channel

import "time"

// Config bundles every tunable a ReliableChannel needs: queue
// capacities, per-packet budget, resend timing, and the small/large
// block threshold. Messages are ordinary garbage-collected values
// here, so there is no allocator field to carry.
type Config struct {
	ResendRate           time.Duration // default 100ms
	SendQueueSize        int           // default 1024
	ReceiveQueueSize     int           // default 256
	SentPacketsSize      int           // default 256
	MaxMessagesPerPacket int           // default 32
	MaxMessageSize       int           // default 64, bytes post-serialize
	MaxSmallBlockSize    int           // default 64 (see DESIGN.md)
	MaxLargeBlockSize    int           // default 256 * 1024
	BlockFragmentSize    int           // default 64
	PacketBudget         int           // default 128 bytes
	GiveUpBits           int           // default 128
	Align                bool          // default true
	NumMessageTypes      int           // range bound for type_id, default 8
	CheckMarker          bool          // append a 0xDEADBEEF check() after each message body
}

// DefaultConfig returns a conservative baseline configuration suitable
// for a small number of short messages per tick.
func DefaultConfig() Config {
	return Config{
		ResendRate:           100 * time.Millisecond,
		SendQueueSize:        1024,
		ReceiveQueueSize:     256,
		SentPacketsSize:      256,
		MaxMessagesPerPacket: 32,
		MaxMessageSize:       64,
		MaxSmallBlockSize:    64,
		MaxLargeBlockSize:    256 * 1024,
		BlockFragmentSize:    64,
		PacketBudget:         128,
		GiveUpBits:           128,
		Align:                true,
		NumMessageTypes:      8,
		CheckMarker:          true,
	}
}
