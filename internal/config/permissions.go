// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the config file at path is
// readable by group or others, since it may hold secrets and key hashes.
// It reports whether it warned. Startup continues either way.
func WarnInsecurePermissions(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("config permission check skipped", "path", path, "error", err)
		return false
	}

	const readableByOthers fs.FileMode = 0o044
	if info.Mode().Perm()&readableByOthers == 0 {
		return false
	}
	slog.Warn("config file has insecure permissions",
		"path", path,
		"mode", info.Mode().Perm(),
		"recommended", fs.FileMode(0o600),
	)
	return true
}
