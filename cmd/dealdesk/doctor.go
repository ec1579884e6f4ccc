// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealdesk-dev/dealdesk/internal/config"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// validateKey is provider.ValidateKey, replaced in tests.
var validateKey = provider.ValidateKey

var doctorHTTPClient = &http.Client{Timeout: 10 * time.Second}

func newDoctorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the config file, storage, the rate limit backend, credentials and provider API keys.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.resolved()
			if err != nil {
				return err
			}
			return runDoctor(cmd, c, cfg)
		},
	}
}

type check struct {
	name string
	fn   func() string
}

func runDoctor(cmd *cobra.Command, c *cli, cfg *config.Config) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	checks := []check{
		{"Binary", func() string { return fmt.Sprintf("dealdesk %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH) }},
		{"Config", func() string { return checkConfig(c.v.ConfigFileUsed()) }},
		{"Storage", func() string { return checkStorage(cfg) }},
		{"Rate limit", func() string { return checkRateLimit(ctx, cfg) }},
		{"Credentials", func() string { return checkCredentials(cfg) }},
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		pc := cfg.Providers[name]
		checks = append(checks, check{"Provider " + name, func() string { return checkProvider(ctx, name, pc) }})
	}

	for _, ch := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", ch.name+":", ch.fn()); err != nil {
			return dderr.Wrap(err, dderr.CodeCLISetupFailure, "writing diagnostics")
		}
	}
	return nil
}

func checkConfig(path string) string {
	if path != "" {
		return fmt.Sprintf("loaded from %s", path)
	}
	return "using defaults (no config file found)"
}

func checkStorage(cfg *config.Config) string {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Sprintf("error closing: %s", err)
	}
	return fmt.Sprintf("%s ok", cfg.Storage.Backend)
}

func checkRateLimit(ctx context.Context, cfg *config.Config) string {
	if cfg.RateLimit.Backend != "redis" {
		return fmt.Sprintf("memory, %d per %s", cfg.RateLimit.Chat.Max, cfg.RateLimit.Chat.Window)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ls, err := newLimitStore(ctx, cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if closer, ok := ls.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return fmt.Sprintf("redis ok, %d per %s", cfg.RateLimit.Chat.Max, cfg.RateLimit.Chat.Window)
}

func checkCredentials(cfg *config.Config) string {
	jwt := "disabled"
	if cfg.Auth.JWT.Secret != "" {
		jwt = "enabled"
	}
	if len(cfg.Auth.Keys) == 0 && cfg.Auth.JWT.Secret == "" {
		return "none configured (run 'dealdesk keys create')"
	}
	return fmt.Sprintf("%d API key(s), JWT %s", len(cfg.Auth.Keys), jwt)
}

func checkProvider(ctx context.Context, name string, pc config.ProviderConfig) string {
	if pc.APIKey == "" {
		return "no API key"
	}
	if err := validateKey(ctx, doctorHTTPClient, provider.ProviderName(name), pc.APIKey, ""); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return "key accepted"
}
