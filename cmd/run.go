// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Volanti Avionics

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/volanti-av/cygnet/internal/cli"
	"github.com/volanti-av/cygnet/internal/config"
	"github.com/volanti-av/cygnet/internal/selftest"
	"github.com/volanti-av/cygnet/pkg/cyphal"
)

// Stream sizing for the CLI transports. RX is small (keystrokes), TX is
// large enough to absorb a full status report between drains.
const (
	rxStreamSize = 256
	txStreamSize = 4096
)

var startNow bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node with the maintenance console",
	Long: `Starts the Cyphal/UDP node and serves the command console.

The telnet listener always runs; the serial console runs when a serial port
is configured. Both feed the same interpreter, one command at a time. The
node participates on the bus once started (auto_start, --start, or the
CLI's uavcan-heartbeat command).`,
	RunE: runNode,
}

func init() {
	runCmd.Flags().BoolVar(&startNow, "start", false, "Start the node immediately, overriding auto_start")
	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.DebugEnabled)
	logLevel := zerolog.GlobalLevel()

	nodeCtx := cyphal.NewContext(log, cyphal.ContextOptions{
		UDPPort:             cfg.UDPPort,
		SubjectBase:         cfg.MulticastSubjectBase,
		ServiceBase:         cfg.MulticastServiceBase,
		HeartbeatIntervalMs: cfg.HeartbeatIntervalMs,
	})
	if err := nodeCtx.Init(cfg.NetInterface, cyphal.NodeID(cfg.NodeID)); err != nil {
		return err
	}
	defer nodeCtx.Deinit()
	log.Info().
		Uint8("node_id", cfg.NodeID).
		Str("interface", cfg.NetInterface).
		Uint16("udp_port", cfg.UDPPort).
		Msg("node initialized")

	if cfg.AutoStart || startNow {
		if err := nodeCtx.Start(); err != nil {
			return err
		}
		log.Info().Msg("node started")
	}

	interp := cli.NewInterpreter()
	selftest.NewRegistry(log, nodeCtx, cfg, &logLevel).Register(interp)
	console := cli.NewConsole(log, interp)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	startTelnet(ctx, log, console, cfg)
	startSerial(ctx, log, console, cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	if err := nodeCtx.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop did not complete cleanly")
	}
	return nil
}

func startTelnet(ctx context.Context, log zerolog.Logger, console *cli.Console, cfg *config.Config) {
	rx := cli.NewStream(rxStreamSize, 1)
	tx := cli.NewStream(txStreamSize, 1)
	t := cli.NewTelnetTransport(log, cfg.TelnetPort, rx, tx)
	go func() {
		if err := t.Run(ctx); err != nil {
			log.Error().Err(err).Msg("telnet listener failed")
		}
	}()
	go console.RunReader(ctx, cli.Transport{Name: "telnet", RX: rx, TX: tx, Prompt: cli.PromptTelnet})
	log.Info().Uint16("port", cfg.TelnetPort).Msg("telnet console listening")
}

func startSerial(ctx context.Context, log zerolog.Logger, console *cli.Console, cfg *config.Config) {
	if cfg.SerialPort == "" {
		log.Debug().Msg("serial console disabled: no port configured")
		return
	}
	rx := cli.NewStream(rxStreamSize, 1)
	tx := cli.NewStream(txStreamSize, 1)
	s := cli.NewSerialTransport(log, cfg.SerialPort, cfg.SerialBaud, rx, tx)
	if err := s.Open(); err != nil {
		// The transport retries on its own; a missing device at boot is
		// not fatal to the node.
		log.Warn().Err(err).Str("port", cfg.SerialPort).Msg("serial port not available yet")
	}
	go s.Run(ctx)
	go console.RunReader(ctx, cli.Transport{Name: "serial", RX: rx, TX: tx, Prompt: cli.PromptSerial})
	log.Info().Str("port", cfg.SerialPort).Int("baud", cfg.SerialBaud).Msg("serial console attached")
}
