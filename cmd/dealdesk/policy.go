// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func newPolicyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the input classifier policy",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective classifier policy",
		Long:  "Print the injection thresholds and PII actions after defaults, the config file and environment overrides are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runPolicyShow(cmd)
		},
	}
	show.Flags().StringP("output", "o", "yaml", "output format (yaml or text)")

	cmd.AddCommand(show)
	return cmd
}

func (c *cli) runPolicyShow(cmd *cobra.Command) error {
	format, _ := cmd.Flags().GetString("output")
	if format != "yaml" && format != "text" {
		return dderr.Errorf(dderr.CodeCLIInputInvalid, "unknown output format %q", format)
	}

	cfg, err := c.settings()
	if err != nil {
		return err
	}
	policy, err := cfg.Classifier.Policy()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "text" {
		_, err = fmt.Fprint(out, policy.String())
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(policy); err != nil {
		return dderr.Wrap(err, dderr.CodeCLISetupFailure, "encoding policy")
	}
	return enc.Close()
}
