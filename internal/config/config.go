// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

// Package config holds the enumerated node configuration. There are no
// hidden options: every knob the runtime honors is a field here.
// Configuration is in-memory only; nothing persists.
package config

// Config is the complete node configuration.
type Config struct {
	// NodeID is the UAVCAN node-ID, 0 for dynamic allocation.
	NodeID uint8 `yaml:"node_id"`

	// UDPPort is the Cyphal/UDP port; must be nonzero.
	UDPPort uint16 `yaml:"udp_port"`

	// Multicast endpoint bases for subjects and services.
	MulticastSubjectBase uint32 `yaml:"multicast_subject_base"`
	MulticastServiceBase uint32 `yaml:"multicast_service_base"`

	// HeartbeatIntervalMs is the heartbeat cadence, 100..60000.
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`

	DebugEnabled bool `yaml:"debug_enabled"`
	AutoStart    bool `yaml:"auto_start"`

	// NetInterface names the IP interface to bind; empty uses the default
	// route.
	NetInterface string `yaml:"net_interface"`

	// CLI transports.
	TelnetPort uint16 `yaml:"telnet_port"`
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`

	// RunFullTests gates the long self-test bodies behind the uavcan-*
	// commands; when false the quick stubbed summaries run instead.
	RunFullTests bool `yaml:"run_full_tests"`
}

// Configuration domain constants.
const (
	DefaultUDPPort             = 9382
	DefaultSubjectBase         = 0xEF000000
	DefaultServiceBase         = 0xEF010000
	DefaultHeartbeatIntervalMs = 1000
	DefaultTelnetPort          = 23
	DefaultSerialBaud          = 115200

	MinHeartbeatIntervalMs = 100
	MaxHeartbeatIntervalMs = 60000
	MaxNodeID              = 127
)

// Default returns the configuration with every field at its documented
// default.
func Default() Config {
	return Config{
		NodeID:               0,
		UDPPort:              DefaultUDPPort,
		MulticastSubjectBase: DefaultSubjectBase,
		MulticastServiceBase: DefaultServiceBase,
		HeartbeatIntervalMs:  DefaultHeartbeatIntervalMs,
		TelnetPort:           DefaultTelnetPort,
		SerialBaud:           DefaultSerialBaud,
	}
}
