// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func newApprovalsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review tool calls waiting for approval",
		Long:  "List, approve and reject held tool calls directly against the store, without going through the HTTP API.",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runApprovalsList(cmd)
		},
	}
	list.Flags().String("actor", "", "only list this actor's approvals")
	list.Flags().Int("limit", 50, "maximum number of approvals to list")

	cmd.AddCommand(
		list,
		newResolveCmd(c, "approve <tool-call-id>", "Approve a held call and run it", approval.Approve),
		newResolveCmd(c, "reject <tool-call-id>", "Reject a held call", approval.Reject),
	)

	return cmd
}

// newResolveCmd builds approve or reject. Only the owning actor may
// resolve, so --actor is required.
func newResolveCmd(c *cli, use, short string, decision approval.Decision) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runApprovalsResolve(cmd, args[0], decision)
		},
	}
	cmd.Flags().String("actor", "", "actor the approval belongs to")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// withGate opens the store and runs fn with a gate over it. Bookkeeping
// started by an approved call finishes before the store closes. Only
// approving runs tools, so only execute resolves keyring secrets.
func (c *cli) withGate(execute bool, fn func(*approval.Gate) error) error {
	load := c.settings
	if execute {
		load = c.resolved
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	bk := tool.NewBookkeeping(cfg.Tools.BookkeepingTimeout)
	defer bk.Wait()

	catalog, err := buildCatalog(cfg, st, bk)
	if err != nil {
		return err
	}
	gate, err := newGate(cfg, st, catalog, audit.NewLog(st.Audit()))
	if err != nil {
		return err
	}
	return fn(gate)
}

func (c *cli) runApprovalsList(cmd *cobra.Command) error {
	actor, _ := cmd.Flags().GetString("actor")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return dderr.Errorf(dderr.CodeCLIInputInvalid, "--limit must be positive, got %d", limit)
	}

	return c.withGate(false, func(gate *approval.Gate) error {
		pending, err := gate.Pending(cmd.Context(), actor, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			_, _ = fmt.Fprintln(out, "No pending approvals.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TOOL CALL\tTOOL\tACTOR\tCONVERSATION\tCREATED\tINPUT")
		for _, a := range pending {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ToolCallID, a.ToolName, a.ActorRef, a.ConversationID, a.CreatedAt.Format(time.RFC3339), a.Input)
		}
		return tw.Flush()
	})
}

func (c *cli) runApprovalsResolve(cmd *cobra.Command, toolCallID string, decision approval.Decision) error {
	actor, _ := cmd.Flags().GetString("actor")

	return c.withGate(decision == approval.Approve, func(gate *approval.Gate) error {
		o, err := gate.Resolve(cmd.Context(), toolCallID, decision, actor)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !o.Executed {
			_, _ = fmt.Fprintf(out, "Rejected %s (%s)\n", toolCallID, o.Approval.ToolName)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Approved %s (%s): %s\n", toolCallID, o.Approval.ToolName, o.Result.JSON())
		return nil
	})
}
