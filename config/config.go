// Package config loads the ReliableChannel/Connection configuration
// envelope from a TOML file using github.com/BurntSushi/toml.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nprotocol/reliable/channel"
)

// ChannelFile is the on-disk shape of one channel's configuration
// entry. Durations are expressed in milliseconds in TOML since
// BurntSushi/toml has no native time.Duration decoding.
type ChannelFile struct {
	Name                 string `toml:"name"`
	ResendRateMS         int64  `toml:"resend_rate_ms"`
	SendQueueSize        int    `toml:"send_queue_size"`
	ReceiveQueueSize     int    `toml:"receive_queue_size"`
	SentPacketsSize      int    `toml:"sent_packets_size"`
	MaxMessagesPerPacket int    `toml:"max_messages_per_packet"`
	MaxMessageSize       int    `toml:"max_message_size"`
	MaxSmallBlockSize    int    `toml:"max_small_block_size"`
	MaxLargeBlockSize    int    `toml:"max_large_block_size"`
	BlockFragmentSize    int    `toml:"block_fragment_size"`
	PacketBudget         int    `toml:"packet_budget"`
	GiveUpBits           int    `toml:"give_up_bits"`
	Align                *bool  `toml:"align"`
	NumMessageTypes      int    `toml:"num_message_types"`
	CheckMarker          *bool  `toml:"check_marker"`
}

// File is the on-disk shape of a full ChannelStructure. Both ends of a
// connection must load the same channel list.
type File struct {
	Channels []ChannelFile `toml:"channel"`
}

// Load parses path as TOML into a File.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Structure builds a locked channel.Structure from f, applying
// DefaultConfig for any field left at its TOML zero value (0 for
// ints, absent for the two *bool fields) the way
// ReliableMessageChannelConfig's C++ constructor applies its own
// defaults before the caller overrides specific fields.
func (f *File) Structure() *channel.Structure {
	s := channel.NewStructure()
	for _, cf := range f.Channels {
		s.Add(channel.Descriptor{Name: cf.Name, Config: cf.toConfig()})
	}
	s.Lock()
	return s
}

func (cf *ChannelFile) toConfig() channel.Config {
	cfg := channel.DefaultConfig()
	if cf.ResendRateMS != 0 {
		cfg.ResendRate = time.Duration(cf.ResendRateMS) * time.Millisecond
	}
	if cf.SendQueueSize != 0 {
		cfg.SendQueueSize = cf.SendQueueSize
	}
	if cf.ReceiveQueueSize != 0 {
		cfg.ReceiveQueueSize = cf.ReceiveQueueSize
	}
	if cf.SentPacketsSize != 0 {
		cfg.SentPacketsSize = cf.SentPacketsSize
	}
	if cf.MaxMessagesPerPacket != 0 {
		cfg.MaxMessagesPerPacket = cf.MaxMessagesPerPacket
	}
	if cf.MaxMessageSize != 0 {
		cfg.MaxMessageSize = cf.MaxMessageSize
	}
	if cf.MaxSmallBlockSize != 0 {
		cfg.MaxSmallBlockSize = cf.MaxSmallBlockSize
	}
	if cf.MaxLargeBlockSize != 0 {
		cfg.MaxLargeBlockSize = cf.MaxLargeBlockSize
	}
	if cf.BlockFragmentSize != 0 {
		cfg.BlockFragmentSize = cf.BlockFragmentSize
	}
	if cf.PacketBudget != 0 {
		cfg.PacketBudget = cf.PacketBudget
	}
	if cf.GiveUpBits != 0 {
		cfg.GiveUpBits = cf.GiveUpBits
	}
	if cf.Align != nil {
		cfg.Align = *cf.Align
	}
	if cf.NumMessageTypes != 0 {
		cfg.NumMessageTypes = cf.NumMessageTypes
	}
	if cf.CheckMarker != nil {
		cfg.CheckMarker = *cf.CheckMarker
	}
	return cfg
}

// Preset is a named, fully-formed Config for a common deployment
// shape, supplementing the raw TOML-file path for callers who just
// want a sane default without writing a file.
type Preset string

const (
	// PresetDefault matches channel.DefaultConfig() (max_small_block_size 64).
	PresetDefault Preset = "default"
	// PresetWideSmallBlock raises max_small_block_size to 256, for
	// deployments that want fewer blocks routed through the
	// fragmentation path. See DESIGN.md for the tradeoff.
	PresetWideSmallBlock Preset = "wide-small-block"
	// PresetBulk raises block_fragment_size and packet_budget for
	// large-block-heavy workloads (bulk file transfer channels).
	PresetBulk Preset = "bulk"
)

// Config returns the fully-populated Config for a preset name.
func (p Preset) Config() channel.Config {
	cfg := channel.DefaultConfig()
	switch p {
	case PresetWideSmallBlock:
		cfg.MaxSmallBlockSize = 256
	case PresetBulk:
		cfg.BlockFragmentSize = 1024
		cfg.PacketBudget = 1200
		cfg.MaxLargeBlockSize = 32 * 1024 * 1024
	}
	return cfg
}
