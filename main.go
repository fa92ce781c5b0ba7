// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Volanti Avionics

package main

import (
	"os"

	"github.com/volanti-av/cygnet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
