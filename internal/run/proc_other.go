// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !unix

package run

import (
	"os"
	"os/exec"
)

// configureProcess keeps the exec default of killing the process itself.
func configureProcess(*exec.Cmd) {}

func signalOf(*os.ProcessState) string { return "" }
