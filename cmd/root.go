// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Volanti Avionics

package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/volanti-av/cygnet/internal/config"
)

var (
	cfgPath string
	debug   bool

	// Node identity and transport flags, overriding the config file when set.
	flagNodeID    uint8
	flagInterface string
	flagUDPPort   uint16

	// CLI transport flags
	flagTelnetPort uint16
	flagSerialPort string
	flagBaud       int
)

var rootCmd = &cobra.Command{
	Use:   "cygnet",
	Short: "Cyphal/UDP node runtime",
	Long: `Cygnet - a Cyphal/UDP node runtime with a dual-transport maintenance CLI.

Runs a publishing/subscribing node on a multicast UDP segment and exposes a
command console over a local serial port and a telnet listener, both serviced
by one interpreter under a mutual-exclusion arbiter.

Typical use:
  cygnet run --interface eth0 --node-id 42
  cygnet selftest --full
  cygnet decode EF01...`,
	Version: "1.0.0",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "Path to YAML configuration file")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.Uint8Var(&flagNodeID, "node-id", 0, "Node identifier 1-127 (0 requests dynamic allocation)")
	pf.StringVarP(&flagInterface, "interface", "i", "", "Network interface for multicast traffic")
	pf.Uint16Var(&flagUDPPort, "port", 0, "UDP port (default 9382)")
	pf.Uint16Var(&flagTelnetPort, "telnet-port", 0, "Telnet console port (default 23)")
	pf.StringVarP(&flagSerialPort, "serial-port", "p", "", "Serial console device")
	pf.IntVarP(&flagBaud, "baud", "b", 0, "Serial console baud rate (default 115200)")
}

// loadConfig reads the config file (or defaults) and layers the command-line
// overrides on top, revalidating the merged result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flagNodeID != 0 {
		cfg.NodeID = flagNodeID
	}
	if flagInterface != "" {
		cfg.NetInterface = flagInterface
	}
	if flagUDPPort != 0 {
		cfg.UDPPort = flagUDPPort
	}
	if flagTelnetPort != 0 {
		cfg.TelnetPort = flagTelnetPort
	}
	if flagSerialPort != "" {
		cfg.SerialPort = flagSerialPort
	}
	if flagBaud != 0 {
		cfg.SerialBaud = flagBaud
	}
	if debug {
		cfg.DebugEnabled = true
	}
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLogger builds the process logger writing human-readable console output
// to stderr so command replies on stdout stay machine-clean.
func newLogger(debugEnabled bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if debugEnabled {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
