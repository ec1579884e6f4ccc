// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dealdesk-dev/dealdesk/internal/config"
	"github.com/dealdesk-dev/dealdesk/internal/secrets"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// cli carries the settings loaded by the root command to its subcommands.
type cli struct {
	v *viper.Viper
}

// NewRootCmd creates the root dealdesk command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "dealdesk",
		Short:         "Dealdesk, a security-gated sales assistant",
		Long:          "Dealdesk serves a sales assistant chat API that screens input, rate limits callers and holds side-effecting tool calls for approval.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(c),
		newPolicyCmd(c),
		newApprovalsCmd(c),
		newAccountsCmd(c),
		newKeysCmd(c),
		newDoctorCmd(c),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper layers defaults, the config file, environment and flags
// (flag > env > file > defaults) and installs the slog handler.
func (c *cli) initViper(cmd *cobra.Command) error {
	v := c.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return dderr.Wrapf(err, dderr.CodeConfigLoadReadFailure, "reading config file %s", cfgFile)
		}
	} else {
		// No SetConfigType: with a type set viper also tries the bare name,
		// which matches the ./dealdesk binary.
		v.SetConfigName("dealdesk")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dealdesk")
		v.AddConfigPath("/etc/dealdesk")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return dderr.Wrap(err, dderr.CodeConfigLoadReadFailure, "reading config")
			}
			if err := c.bootstrap(); err != nil {
				return err
			}
		}
	}

	if err := v.BindPFlag("logging.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return dderr.Wrap(err, dderr.CodeCLISetupFailure, "binding log-level flag")
	}

	setupLogging(cmd.ErrOrStderr(), v.GetString("logging.level"), v.GetString("logging.format"))
	config.WarnInsecurePermissions(v.ConfigFileUsed())
	return nil
}

// bootstrap writes the default config to ~/.config/dealdesk and reads it.
// A failure to write only loses the file; defaults still apply.
func (c *cli) bootstrap() error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		slog.Warn("skipping default config", "error", err)
		return nil
	}
	if _, err := config.WriteDefault(path); err != nil {
		slog.Warn("skipping default config", "path", path, "error", err)
		return nil
	}
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return dderr.Wrapf(err, dderr.CodeConfigLoadReadFailure, "reading bootstrapped config %s", path)
	}
	return nil
}

// settings decodes and validates the loaded configuration. keyring://
// references are left as they are.
func (c *cli) settings() (*config.Config, error) {
	return config.Decode(c.v)
}

// resolved is settings with keyring:// references replaced by the stored
// secrets. Commands that reach providers or integrations need it.
func (c *cli) resolved() (*config.Config, error) {
	if err := secrets.ResolveViperSecrets(c.v, secretStoreFactory()); err != nil {
		return nil, err
	}
	return config.Decode(c.v)
}

func setupLogging(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
