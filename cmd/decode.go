// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Volanti Avionics

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/volanti-av/cygnet/pkg/cyphal"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex-datagram>",
	Short: "Decode a captured datagram header",
	Long: `Decodes the 24-byte wire header of a hex-encoded datagram and prints its
fields, validating the header CRC. Useful against pcap extracts when
diagnosing bus traffic.

Whitespace and ':' separators in the hex string are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(args[0])
	data, err := hex.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("bad hex input: %w", err)
	}

	h, err := cyphal.ParseHeader(data)
	if err != nil {
		return err
	}

	fmt.Printf("version:     %d\n", h.Version)
	fmt.Printf("priority:    %d (%s)\n", h.Priority, h.Priority)
	fmt.Printf("source:      %d\n", h.Source)
	fmt.Printf("destination: %d\n", h.Destination)
	fmt.Printf("port:        %d\n", h.PortID)
	fmt.Printf("transfer-id: %d\n", h.TransferID)
	fmt.Printf("frame:       %d (end=%v)\n", h.FrameIndex, h.EndOfTx)
	if payload := len(data) - cyphal.HeaderSize; payload > 0 {
		fmt.Printf("payload:     %d bytes\n", payload)
	}
	return nil
}
