// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

//go:embed dealdesk.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/dealdesk/dealdesk.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", dderr.Wrap(err, dderr.CodeConfigLoadReadFailure, "resolving home directory")
	}
	return filepath.Join(home, ".config", "dealdesk", "dealdesk.yaml"), nil
}

// WriteDefault writes the commented default config to path unless a file
// already exists there. It reports whether it wrote.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, dderr.Wrapf(err, dderr.CodeConfigLoadReadFailure, "creating %s", filepath.Dir(path))
	}
	// The file ends up holding key hashes and possibly literal secrets.
	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		return false, dderr.Wrapf(err, dderr.CodeConfigLoadReadFailure, "writing %s", path)
	}
	slog.Info("created default config", "path", path)
	return true, nil
}
