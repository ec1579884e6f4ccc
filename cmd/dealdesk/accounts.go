// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func newAccountsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the accounts chat requests may reference",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runAccountsAdd(cmd)
		},
	}
	add.Flags().String("id", "", "account id (generated when empty)")
	add.Flags().String("name", "", "account name")
	add.Flags().String("domain", "", "company domain")
	add.Flags().String("industry", "", "industry")
	add.Flags().String("owner", "", "owning actor")
	add.Flags().String("notes", "", "free-form notes included in the system prompt")
	_ = add.MarkFlagRequired("name")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAccountsShow(cmd, args[0])
		},
	}

	cmd.AddCommand(add, show)
	return cmd
}

func (c *cli) runAccountsAdd(cmd *cobra.Command) error {
	flags := cmd.Flags()
	id, _ := flags.GetString("id")
	name, _ := flags.GetString("name")
	if strings.TrimSpace(name) == "" {
		return dderr.New(dderr.CodeCLIInputInvalid, "--name must not be empty")
	}
	if id == "" {
		id = uuid.NewString()
	}

	acct := &store.Account{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	acct.Domain, _ = flags.GetString("domain")
	acct.Industry, _ = flags.GetString("industry")
	acct.OwnerRef, _ = flags.GetString("owner")
	acct.Notes, _ = flags.GetString("notes")

	cfg, err := c.settings()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.Accounts().PutAccount(cmd.Context(), acct); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added account %s (%s)\n", acct.ID, acct.Name)
	return err
}

func (c *cli) runAccountsShow(cmd *cobra.Command, id string) error {
	cfg, err := c.settings()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	acct, err := st.Accounts().GetAccount(cmd.Context(), id)
	if err != nil {
		if dderr.IsNotFound(err) {
			return dderr.Errorf(dderr.CodeAccountNotFound, "account %q not found", id)
		}
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(accountView{
		ID:        acct.ID,
		Name:      acct.Name,
		Domain:    acct.Domain,
		Industry:  acct.Industry,
		Owner:     acct.OwnerRef,
		Notes:     acct.Notes,
		CreatedAt: acct.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		return dderr.Wrap(err, dderr.CodeCLISetupFailure, "encoding account")
	}
	return enc.Close()
}

type accountView struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Domain    string `yaml:"domain,omitempty"`
	Industry  string `yaml:"industry,omitempty"`
	Owner     string `yaml:"owner,omitempty"`
	Notes     string `yaml:"notes,omitempty"`
	CreatedAt string `yaml:"created_at"`
}
