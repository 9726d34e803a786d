// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func init() {
	keyring.MockInit()
}

// execute runs the root command with args and returns what it wrote.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

const testConfig = `
data_dir: %s
backends:
  - id: echo
    kind: process
    command: sh
    args: ['-c', 'echo "hello $0"']
  - id: limited
    kind: process
    command: sh
    args: ['-c', 'echo "Error: 429 rate limit exceeded"; exit 1']
    fallback: echo
  - id: off
    kind: process
    command: sh
    args: ['-c', 'echo never']
    enabled: false
`

// withConfig isolates HOME and the working directory and writes a config
// with shell backends. It returns the config path.
func withConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := fmt.Sprintf(testConfig, filepath.Join(t.TempDir(), "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
