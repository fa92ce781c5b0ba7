// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Volanti Avionics

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/volanti-av/cygnet/internal/selftest"
)

var fullTests bool

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the validation harness without joining the bus",
	Long: `Runs the offline validation checks and prints a report.

Without --full the gated checks report their stubbed PASS placeholders, the
same behavior the uavcan-test console commands show when run_full_tests is
off. --full runs the complete bodies including the init/teardown cycle,
which binds the configured UDP port.`,
	RunE: runSelftest,
}

func init() {
	selftestCmd.Flags().BoolVar(&fullTests, "full", false, "Run the full test bodies instead of stubs")
	rootCmd.AddCommand(selftestCmd)
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if fullTests {
		cfg.RunFullTests = true
	}

	var results []selftest.Result
	if cfg.RunFullTests {
		results = []selftest.Result{
			selftest.PriorityOrdering(),
			selftest.OverflowIsolation(),
			selftest.MulticastValidation(),
			selftest.CodecRoundTrip(),
			selftest.BufferTest(),
			selftest.StressTest(),
			selftest.LatencyTest(),
			selftest.InitTeardown(cfg.NetInterface, cfg.UDPPort),
		}
	} else {
		results = []selftest.Result{
			selftest.PriorityOrdering(),
			selftest.OverflowIsolation(),
			selftest.MulticastValidation(),
			selftest.BufferTest(),
		}
	}

	report := strings.ReplaceAll(selftest.Report(results), "\r\n", "\n")
	fmt.Print(report)
	for _, r := range results {
		if !r.Passed {
			return fmt.Errorf("selftest: %s failed", r.Name)
		}
	}
	return nil
}
