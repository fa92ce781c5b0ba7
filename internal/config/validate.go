// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package config

import "fmt"

// Validate checks configuration correctness. It is a total function over
// the config domain, performs declarative validation only, and MUST NOT
// mutate the configuration. Invalid values are rejected without side
// effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}

	if cfg.NodeID > MaxNodeID {
		return fmt.Errorf("config: node_id %d out of range (0..%d)", cfg.NodeID, MaxNodeID)
	}

	if cfg.UDPPort == 0 {
		return fmt.Errorf("config: udp_port must be nonzero")
	}

	if cfg.MulticastSubjectBase&0xFFFF != 0 {
		return fmt.Errorf("config: multicast_subject_base 0x%08X must have a zero low half", cfg.MulticastSubjectBase)
	}
	if cfg.MulticastServiceBase&0xFFFF != 0 {
		return fmt.Errorf("config: multicast_service_base 0x%08X must have a zero low half", cfg.MulticastServiceBase)
	}
	if cfg.MulticastSubjectBase == cfg.MulticastServiceBase {
		return fmt.Errorf("config: subject and service multicast bases collide (0x%08X)", cfg.MulticastSubjectBase)
	}

	if cfg.HeartbeatIntervalMs < MinHeartbeatIntervalMs || cfg.HeartbeatIntervalMs > MaxHeartbeatIntervalMs {
		return fmt.Errorf("config: heartbeat_interval_ms %d out of range (%d..%d)",
			cfg.HeartbeatIntervalMs, MinHeartbeatIntervalMs, MaxHeartbeatIntervalMs)
	}

	if cfg.SerialPort != "" && cfg.SerialBaud <= 0 {
		return fmt.Errorf("config: serial_baud must be positive when serial_port is set")
	}

	return nil
}
