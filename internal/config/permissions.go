// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the config file is group- or
// world-readable. Backend api_key values may be stored inline. It never fails
// startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}

	const groupRead fs.FileMode = 0o040
	const otherRead fs.FileMode = 0o004

	if info.Mode().Perm()&(groupRead|otherRead) != 0 {
		slog.Warn("config file has insecure permissions, api keys may be readable by other users",
			"path", path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
	}
}
