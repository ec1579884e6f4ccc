// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/store"
)

var apiSecurity = []map[string][]string{{"bearer": {}}, {"apiKey": {}}}

func (s *Server) registerApprovalRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/api/v1/approvals",
		Summary:     "List the caller's pending approvals",
		Tags:        []string{"approvals"},
		Security:    apiSecurity,
	}, s.handleListApprovals)

	huma.Register(s.api, huma.Operation{
		OperationID: "resolve-approval",
		Method:      http.MethodPost,
		Path:        "/api/v1/approvals/{toolCallId}",
		Summary:     "Approve or reject a pending tool call",
		Description: "Approving runs the tool with the input captured when the request was opened.",
		Tags:        []string{"approvals"},
		Security:    apiSecurity,
	}, s.handleResolveApproval)
}

type listApprovalsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum number of approvals"`
}

type listApprovalsOutput struct {
	Body struct {
		Approvals []*store.Approval `json:"approvals"`
	}
}

type resolveApprovalInput struct {
	ToolCallID string `path:"toolCallId"`
	Body       struct {
		Approve bool `json:"approve" required:"true" doc:"true runs the stored call, false declines it"`
	}
}

type resolveApprovalOutput struct {
	Body struct {
		Approval *store.Approval    `json:"approval"`
		Executed bool               `json:"executed"`
		Result   integration.Result `json:"result"`
	}
}

// approver returns the caller if they may act on approvals.
func approver(ctx context.Context) (*auth.Identity, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	if !id.Can(auth.ScopeApprovals) {
		return nil, huma.Error403Forbidden("credential lacks the approvals scope")
	}
	return id, nil
}

func approvalsError(err error, op string) error {
	status, detail := statusFor(err, op)
	requestsTotal.WithLabelValues("approvals", resultLabel(status)).Inc()
	return huma.NewError(status, detail)
}

func (s *Server) handleListApprovals(ctx context.Context, input *listApprovalsInput) (*listApprovalsOutput, error) {
	id, err := approver(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.deps.Approvals.Pending(ctx, id.Actor, input.Limit)
	if err != nil {
		return nil, approvalsError(err, "listing approvals")
	}
	requestsTotal.WithLabelValues("approvals", "ok").Inc()

	out := &listApprovalsOutput{}
	out.Body.Approvals = list
	if out.Body.Approvals == nil {
		out.Body.Approvals = []*store.Approval{}
	}
	return out, nil
}

func (s *Server) handleResolveApproval(ctx context.Context, input *resolveApprovalInput) (*resolveApprovalOutput, error) {
	id, err := approver(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.deps.Approvals.Resolve(ctx, input.ToolCallID, approval.DecisionOf(input.Body.Approve), id.Actor)
	if err != nil {
		return nil, approvalsError(err, "resolving approval")
	}
	requestsTotal.WithLabelValues("approvals", "ok").Inc()

	out := &resolveApprovalOutput{}
	out.Body.Approval = o.Approval
	out.Body.Executed = o.Executed
	out.Body.Result = o.Result
	return out, nil
}
