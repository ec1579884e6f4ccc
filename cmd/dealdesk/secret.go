// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dealdesk-dev/dealdesk/internal/secrets"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store, list and delete secrets under the dealdesk keyring service. " +
			"Config values of the form keyring://dealdesk/<name> resolve to them at startup.",
	}

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret",
		Long:  "Store a secret. Without --value the first line of stdin is used.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	set.Flags().String("value", "", "secret value (prefer stdin, flags end up in shell history)")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "list",
			Short: "List all stored secret names",
			Args:  cobra.NoArgs,
			RunE:  runSecretList,
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a secret by name",
			Args:  cobra.ExactArgs(1),
			RunE:  runSecretDelete,
		},
	)

	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	value, _ := cmd.Flags().GetString("value")
	if value == "" {
		sc := bufio.NewScanner(cmd.InOrStdin())
		if sc.Scan() {
			value = strings.TrimRight(sc.Text(), "\r")
		}
		if err := sc.Err(); err != nil {
			return dderr.Wrap(err, dderr.CodeSecretInvalidInput, "reading secret from stdin")
		}
	}
	if value == "" {
		return dderr.Errorf(dderr.CodeSecretInvalidInput, "secret %q has no value", name)
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return dderr.Wrapf(err, dderr.CodeSecretStoreFailure, "storing secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\nReference it in config as %s\n",
		name, secrets.URI(secrets.DefaultService, name))
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return dderr.Wrap(err, dderr.CodeSecretListFailure, "listing secrets")
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if dderr.HasCode(err, dderr.CodeSecretNotFound) {
			return dderr.Errorf(dderr.CodeSecretNotFound, "secret %q not found", name)
		}
		return dderr.Wrapf(err, dderr.CodeSecretDeleteFailure, "deleting secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
