// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long:  "Start the HTTP server. It runs until interrupted, then drains in-flight requests.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd)
		},
	}

	cmd.Flags().String("listen", "", "listen address (overrides server.listen)")

	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	if err := c.v.BindPFlag("server.listen", cmd.Flags().Lookup("listen")); err != nil {
		return dderr.Wrap(err, dderr.CodeCLISetupFailure, "binding listen flag")
	}

	cfg, err := c.resolved()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("closing app", "error", err)
		}
	}()

	slog.Info("dealdesk listening",
		"listen", cfg.Server.Listen,
		"storage", cfg.Storage.Backend,
		"ratelimit", cfg.RateLimit.Backend,
		"providers", app.Providers.Names(),
	)
	return app.Server.Start(ctx)
}
