// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
)

type callStatus string

const (
	callOK      callStatus = "ok"
	callFailed  callStatus = "error"
	callPending callStatus = "pending_approval"
	callSkipped callStatus = "skipped"
)

type callOutcome struct {
	call   provider.ToolCall
	status callStatus
	result integration.Result
}

// dispatch resolves every call of one round. Gated calls only open an
// approval request. Ungated calls run concurrently up to maxParallel, each
// on a context that outlives request cancellation; calls still waiting
// for a slot when the request is cancelled are skipped.
func (r *turnRun) dispatch(ctx context.Context, calls []provider.ToolCall) []callOutcome {
	outcomes := make([]callOutcome, len(calls))
	tc := r.turn.toolContext()

	var runnable []int
	for i, call := range calls {
		outcomes[i].call = call

		d, ok := r.reg.Lookup(call.Name)
		if !ok {
			outcomes[i].status = callFailed
			outcomes[i].result = integration.Failure("tool %q is not available in this conversation", call.Name)
			toolCallsTotal.WithLabelValues("unknown", string(callFailed)).Inc()
			slog.Warn("model requested unavailable tool",
				"turn_id", r.turn.ID,
				"tool", call.Name,
			)
			continue
		}
		if !d.RequiresApproval() {
			runnable = append(runnable, i)
			continue
		}
		outcomes[i] = r.requestApproval(ctx, d, call, tc)
	}

	g := new(errgroup.Group)
	g.SetLimit(r.c.maxParallel)
	for _, i := range runnable {
		if ctx.Err() != nil {
			outcomes[i] = skipped(calls[i])
			continue
		}
		d, _ := r.reg.Lookup(calls[i].Name)
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = skipped(calls[i])
				return nil
			}
			outcomes[i] = r.execute(ctx, d, calls[i], tc)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.status == callPending {
			continue
		}
		r.emit(ctx, Event{
			Type:       EventToolResult,
			ToolCallID: o.call.ID,
			ToolName:   o.call.Name,
			Result:     json.RawMessage(o.result.JSON()),
		})
	}
	return outcomes
}

func skipped(call provider.ToolCall) callOutcome {
	toolCallsTotal.WithLabelValues(call.Name, string(callSkipped)).Inc()
	return callOutcome{
		call:   call,
		status: callSkipped,
		result: integration.Failure("%s was not run because the request was cancelled", call.Name),
	}
}

// requestApproval validates the arguments and records a pending request.
// Nothing is executed here.
func (r *turnRun) requestApproval(ctx context.Context, d *tool.Descriptor, call provider.ToolCall, tc tool.Context) callOutcome {
	out := callOutcome{call: call}
	raw := json.RawMessage(call.Arguments)

	if err := d.Validate(raw); err != nil {
		out.status = callFailed
		out.result = integration.Failure("%v", err)
		toolCallsTotal.WithLabelValues(call.Name, string(callFailed)).Inc()
		return out
	}

	a, err := r.c.approver.Open(ctx, approval.OpenRequest{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      raw,
		Context:    tc,
	})
	if err != nil {
		slog.Error("opening approval failed",
			"turn_id", r.turn.ID,
			"tool_call_id", call.ID,
			"tool", call.Name,
			"error", err,
		)
		out.status = callFailed
		out.result = integration.Failure("%s could not be submitted for approval", call.Name)
		toolCallsTotal.WithLabelValues(call.Name, string(callFailed)).Inc()
		return out
	}

	out.status = callPending
	toolCallsTotal.WithLabelValues(call.Name, string(callPending)).Inc()
	r.emit(ctx, Event{
		Type:       EventApprovalRequired,
		ToolCallID: a.ToolCallID,
		ToolName:   a.ToolName,
		Input:      a.Input,
	})
	return out
}

// execute runs one ungated call. Failures become results the model can
// read; they never abort the round.
func (r *turnRun) execute(ctx context.Context, d *tool.Descriptor, call provider.ToolCall, tc tool.Context) callOutcome {
	out := callOutcome{call: call}

	// Once started, a call finishes even if the request is cancelled.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.c.toolTimeout)
	defer cancel()
	execCtx, span := r.c.tracer.Start(execCtx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	res, err := d.Execute(execCtx, tc, json.RawMessage(call.Arguments))
	toolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	switch {
	case err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		out.result = integration.Failure("%s timed out after %s", call.Name, r.c.toolTimeout)
	case err != nil:
		out.result = integration.Failure("%v", err)
	default:
		out.result = res
	}
	out.status = callOK
	if !out.result.OK {
		out.status = callFailed
		span.SetAttributes(attribute.String("tool.error", out.result.Error))
		slog.Debug("tool call failed",
			"turn_id", r.turn.ID,
			"tool", call.Name,
			"error", out.result.Error,
		)
	}
	toolCallsTotal.WithLabelValues(call.Name, string(out.status)).Inc()

	r.c.sink.Record(ctx, audit.Event{
		Type:     audit.EventToolExecuted,
		Severity: audit.SeverityLow,
		Actor:    tc.Actor,
		Refs: map[string]string{
			"tool_call_id":    call.ID,
			"turn_id":         r.turn.ID,
			"conversation_id": r.turn.ConversationID,
		},
		Details: map[string]any{"tool": call.Name, "ok": out.result.OK},
	})
	return out
}
