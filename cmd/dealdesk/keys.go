// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dealdesk-dev/dealdesk/internal/auth"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

var defaultKeyScopes = []string{auth.ScopeChat, auth.ScopeApprovals}

func newKeysCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Issue API credentials",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Generate an API key",
		Long: "Generate an API key for an actor. The key is printed once; paste the " +
			"printed entry under auth.keys. Only its bcrypt hash is kept.",
		Args: cobra.NoArgs,
		RunE: runKeysCreate,
	}
	create.Flags().String("actor", "", "actor the key authenticates as")
	create.Flags().String("name", "", "display name")
	create.Flags().StringSlice("scope", defaultKeyScopes, "granted scopes (chat, approvals or *)")
	_ = create.MarkFlagRequired("actor")

	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		Long:  "Issue an HS256 bearer token signed with auth.jwt.secret.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runKeysToken(cmd)
		},
	}
	token.Flags().String("actor", "", "actor the token authenticates as")
	token.Flags().String("name", "", "display name")
	token.Flags().StringSlice("scope", defaultKeyScopes, "granted scopes (chat, approvals or *)")
	token.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = token.MarkFlagRequired("actor")

	cmd.AddCommand(create, token)
	return cmd
}

// keyEntry is the auth.keys config entry for a generated key.
type keyEntry struct {
	Lookup string   `yaml:"lookup"`
	Hash   string   `yaml:"hash"`
	Actor  string   `yaml:"actor"`
	Name   string   `yaml:"name,omitempty"`
	Scopes []string `yaml:"scopes,flow"`
}

func runKeysCreate(cmd *cobra.Command, _ []string) error {
	actor, _ := cmd.Flags().GetString("actor")
	name, _ := cmd.Flags().GetString("name")
	scopes, _ := cmd.Flags().GetStringSlice("scope")
	if err := checkScopes(scopes); err != nil {
		return err
	}

	secret, key, err := auth.GenerateKey(actor, name, scopes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "API key (shown once): %s\n\nAdd this entry under auth.keys:\n\n", secret)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode([]keyEntry{{
		Lookup: key.Lookup,
		Hash:   key.Hash,
		Actor:  key.Actor,
		Name:   key.Name,
		Scopes: key.Scopes,
	}}); err != nil {
		return dderr.Wrap(err, dderr.CodeCLISetupFailure, "encoding key entry")
	}
	return enc.Close()
}

func (c *cli) runKeysToken(cmd *cobra.Command) error {
	actor, _ := cmd.Flags().GetString("actor")
	name, _ := cmd.Flags().GetString("name")
	scopes, _ := cmd.Flags().GetStringSlice("scope")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if err := checkScopes(scopes); err != nil {
		return err
	}
	if ttl <= 0 {
		return dderr.Errorf(dderr.CodeCLIInputInvalid, "--ttl must be positive, got %s", ttl)
	}

	cfg, err := c.resolved()
	if err != nil {
		return err
	}
	if cfg.Auth.JWT.Secret == "" {
		return dderr.New(dderr.CodeCLIInputInvalid, "auth.jwt.secret is not configured")
	}
	issuer, err := auth.NewJWTAuthenticator(auth.JWTConfig{
		Secret:   cfg.Auth.JWT.Secret,
		Issuer:   cfg.Auth.JWT.Issuer,
		Audience: cfg.Auth.JWT.Audience,
	})
	if err != nil {
		return err
	}

	tok, err := issuer.Issue(actor, name, scopes, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}

func checkScopes(scopes []string) error {
	for _, s := range scopes {
		switch s {
		case auth.ScopeChat, auth.ScopeApprovals, auth.ScopeAll:
		default:
			return dderr.Errorf(dderr.CodeCLIInputInvalid, "unknown scope %q", s)
		}
	}
	return nil
}
