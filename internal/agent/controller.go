// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package agent drives the bounded conversation between a model and the
// per-turn tool registry: one model call per round, concurrent dispatch of
// ungated tool calls, and an early stop when a call needs human approval.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/telemetry"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

const (
	DefaultMaxRounds        = 20
	DefaultMaxParallelTools = 4
	DefaultToolTimeout      = 30 * time.Second
)

// Status is how a turn ended.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusRoundLimit       Status = "round_limit"
	StatusCancelled        Status = "cancelled"
)

// EventType names a streamed turn event.
type EventType string

const (
	EventRound            EventType = "round"
	EventText             EventType = "text"
	EventToolResult       EventType = "tool_result"
	EventApprovalRequired EventType = "approval_required"
)

// Event is one streamed update from a running turn.
type Event struct {
	Type       EventType       `json:"type"`
	Round      int             `json:"round,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Approver opens approval requests for gated calls.
type Approver interface {
	Open(ctx context.Context, req approval.OpenRequest) (*store.Approval, error)
}

// Turn is one chat request's worth of work.
type Turn struct {
	ID             string
	Actor          string
	ConversationID string
	AccountID      string
	ContactID      string
	WorkflowStep   string

	// Model is a "provider/model" ref; empty uses the router default.
	Model        string
	SystemPrompt string
	Messages     []provider.Message
	Allowlist    []string

	// Resolutions are approval outcomes decided in this request. They are
	// replayed to the model as the calls it made and their results.
	Resolutions []*approval.Outcome
}

func (t Turn) toolContext() tool.Context {
	return tool.Context{
		Actor:          t.Actor,
		ConversationID: t.ConversationID,
		TurnID:         t.ID,
		AccountID:      t.AccountID,
		ContactID:      t.ContactID,
		WorkflowStep:   t.WorkflowStep,
	}
}

// Result summarizes a finished turn.
type Result struct {
	TurnID           string         `json:"turnId"`
	ConversationID   string         `json:"conversationId"`
	Status           Status         `json:"status"`
	Text             string         `json:"text"`
	Rounds           int            `json:"rounds"`
	Usage            provider.Usage `json:"usage"`
	PendingApprovals []string       `json:"pendingApprovals,omitempty"`
}

// Config holds Controller dependencies.
type Config struct {
	Router   provider.Router
	Catalog  *tool.Catalog
	Approver Approver
	Steps    telemetry.StepRecorder
	Audit    audit.Sink

	MaxRounds        int
	MaxParallelTools int
	ToolTimeout      time.Duration
	Tracer           trace.Tracer
}

// Controller runs turns. It holds no per-turn state and is safe for
// concurrent use.
type Controller struct {
	router      provider.Router
	catalog     *tool.Catalog
	approver    Approver
	steps       telemetry.StepRecorder
	sink        audit.Sink
	maxRounds   int
	maxParallel int
	toolTimeout time.Duration
	tracer      trace.Tracer
}

// NewController validates cfg and fills defaults.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Router == nil || cfg.Catalog == nil || cfg.Approver == nil {
		return nil, dderr.New(dderr.CodeAgentLoopInvalidInput, "agent controller requires a router, a tool catalog and an approver")
	}

	c := &Controller{
		router:      cfg.Router,
		catalog:     cfg.Catalog,
		approver:    cfg.Approver,
		steps:       cfg.Steps,
		sink:        cfg.Audit,
		maxRounds:   cfg.MaxRounds,
		maxParallel: cfg.MaxParallelTools,
		toolTimeout: cfg.ToolTimeout,
		tracer:      cfg.Tracer,
	}
	if c.steps == nil {
		c.steps = telemetry.Discard{}
	}
	if c.sink == nil {
		c.sink = audit.Discard{}
	}
	if c.maxRounds <= 0 {
		c.maxRounds = DefaultMaxRounds
	}
	if c.maxParallel <= 0 {
		c.maxParallel = DefaultMaxParallelTools
	}
	if c.toolTimeout <= 0 {
		c.toolTimeout = DefaultToolTimeout
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/dealdesk-dev/dealdesk/internal/agent")
	}
	return c, nil
}

// Run drives turn to a terminal state, streaming events to out (which may
// be nil). A cancelled ctx ends the turn with StatusCancelled and no error.
func (c *Controller) Run(ctx context.Context, turn Turn, out chan<- Event) (*Result, error) {
	if turn.Actor == "" {
		return nil, dderr.New(dderr.CodeAgentLoopInvalidInput, "turn requires an actor")
	}
	if len(turn.Messages) == 0 && len(turn.Resolutions) == 0 {
		return nil, dderr.New(dderr.CodeAgentLoopInvalidInput, "turn has nothing to respond to")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.ConversationID == "" {
		turn.ConversationID = uuid.NewString()
	}

	ctx, span := c.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("conversation.id", turn.ConversationID),
	))
	defer span.End()

	// The registry is fixed for the whole turn.
	reg := c.catalog.Snapshot(turn.Allowlist)
	run := &turnRun{
		c:       c,
		turn:    turn,
		reg:     reg,
		defs:    reg.Definitions(),
		out:     out,
		history: withResolutions(turn.Messages, turn.Resolutions),
		res:     &Result{TurnID: turn.ID, ConversationID: turn.ConversationID},
	}
	span.SetAttributes(attribute.Int("tools.offered", reg.Len()))

	res, err := run.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dderr.CodeOf(err)))
		turnsTotal.WithLabelValues("failed").Inc()
		c.sink.Record(ctx, audit.Event{
			Type:     audit.EventTurnFailed,
			Severity: audit.SeverityMedium,
			Actor:    turn.Actor,
			Refs:     map[string]string{"turn_id": turn.ID, "conversation_id": turn.ConversationID},
			Details:  map[string]any{"code": string(dderr.CodeOf(err)), "rounds": run.res.Rounds},
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("turn.status", string(res.Status)), attribute.Int("turn.rounds", res.Rounds))
	turnsTotal.WithLabelValues(string(res.Status)).Inc()
	roundsPerTurn.Observe(float64(res.Rounds))
	return res, nil
}

// turnRun is the mutable state of one Run call.
type turnRun struct {
	c       *Controller
	turn    Turn
	reg     *tool.Registry
	defs    []provider.ToolDefinition
	out     chan<- Event
	history []provider.Message
	res     *Result
	texts   []string
}

func (r *turnRun) loop(ctx context.Context) (*Result, error) {
	lastRoundFailed := false

	for round := 1; round <= r.c.maxRounds; round++ {
		if ctx.Err() != nil {
			return r.finish(StatusCancelled), nil
		}
		r.res.Rounds = round
		r.emit(ctx, Event{Type: EventRound, Round: round})

		roundCtx, span := r.c.tracer.Start(ctx, "agent.round", trace.WithAttributes(attribute.Int("round", round)))
		text, calls, usage, err := r.think(roundCtx)
		r.res.Usage.Add(usage)
		if text != "" {
			r.texts = append(r.texts, text)
		}
		if err != nil {
			span.End()
			if ctx.Err() != nil {
				r.record(round, nil, usage, string(StatusCancelled))
				return r.finish(StatusCancelled), nil
			}
			r.record(round, nil, usage, "failed")
			return nil, err
		}

		if len(calls) == 0 {
			span.End()
			r.record(round, nil, usage, string(StatusCompleted))
			return r.finish(StatusCompleted), nil
		}

		r.history = append(r.history, provider.Message{
			Role:      provider.MessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		outcomes := r.dispatch(roundCtx, calls)
		span.SetAttributes(attribute.Int("tool.calls", len(calls)))
		span.End()

		pending := false
		failed := 0
		for _, o := range outcomes {
			switch o.status {
			case callPending:
				pending = true
				r.res.PendingApprovals = append(r.res.PendingApprovals, o.call.ID)
				continue
			case callFailed, callSkipped:
				failed++
			}
			r.history = append(r.history, provider.Message{
				Role:       provider.MessageRoleTool,
				Content:    o.result.JSON(),
				ToolCallID: o.call.ID,
				ToolName:   o.call.Name,
			})
		}
		lastRoundFailed = failed == len(outcomes)

		switch {
		case pending:
			r.record(round, outcomes, usage, string(StatusAwaitingApproval))
			return r.finish(StatusAwaitingApproval), nil
		case ctx.Err() != nil:
			r.record(round, outcomes, usage, string(StatusCancelled))
			return r.finish(StatusCancelled), nil
		default:
			r.record(round, outcomes, usage, "tool_dispatch")
		}
	}

	r.c.sink.Record(ctx, audit.Event{
		Type:     audit.EventRoundLimitReached,
		Severity: audit.SeverityMedium,
		Actor:    r.turn.Actor,
		Refs:     map[string]string{"turn_id": r.turn.ID, "conversation_id": r.turn.ConversationID},
		Details:  map[string]any{"rounds": r.c.maxRounds, "all_failed": lastRoundFailed},
	})
	if lastRoundFailed {
		return nil, dderr.Errorf(dderr.CodeAgentToolsExhausted,
			"every tool call in the final round failed after %d rounds", r.c.maxRounds)
	}
	slog.Warn("agent round limit reached",
		"turn_id", r.turn.ID,
		"rounds", r.c.maxRounds,
	)
	return r.finish(StatusRoundLimit), nil
}

func (r *turnRun) finish(status Status) *Result {
	r.res.Status = status
	r.res.Text = strings.Join(r.texts, "\n\n")
	return r.res
}

// think makes the round's single model call and drains its stream.
func (r *turnRun) think(ctx context.Context) (string, []provider.ToolCall, provider.Usage, error) {
	var usage provider.Usage

	prov, model, err := r.c.router.Route(ctx, r.turn.Model)
	if err != nil {
		return "", nil, usage, err
	}

	events, err := prov.Chat(ctx, provider.ChatRequest{
		Model:        model,
		Messages:     r.history,
		Tools:        r.defs,
		SystemPrompt: r.turn.SystemPrompt,
	})
	if err != nil {
		return "", nil, usage, dderr.Wrapf(err, dderr.CodeAgentModelStreamFailure, "starting %s stream", prov.Name())
	}

	var (
		text      strings.Builder
		calls     []provider.ToolCall
		streamErr string
	)
	// Drain to close so the provider goroutine never blocks on send.
	for ev := range events {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			text.WriteString(ev.Text)
			r.emit(ctx, Event{Type: EventText, Text: ev.Text})
		case provider.EventTypeToolCall:
			if ev.ToolCall != nil {
				tc := *ev.ToolCall
				if tc.ID == "" {
					tc.ID = "call_" + uuid.NewString()
				}
				calls = append(calls, tc)
			}
		case provider.EventTypeUsage:
			if ev.Usage != nil {
				usage.Add(*ev.Usage)
			}
		case provider.EventTypeError:
			if streamErr == "" {
				streamErr = ev.Error
			}
		}
	}

	if streamErr != "" {
		return text.String(), nil, usage, dderr.Errorf(dderr.CodeAgentModelStreamFailure,
			"%s stream failed: %s", prov.Name(), streamErr)
	}
	return text.String(), calls, usage, nil
}

// emit sends ev unless the receiver has gone away.
func (r *turnRun) emit(ctx context.Context, ev Event) {
	if r.out == nil {
		return
	}
	select {
	case r.out <- ev:
	case <-ctx.Done():
	}
}

func (r *turnRun) record(round int, outcomes []callOutcome, usage provider.Usage, outcome string) {
	summaries := make([]store.ToolCallSummary, 0, len(outcomes))
	for _, o := range outcomes {
		summaries = append(summaries, store.ToolCallSummary{
			ID:     o.call.ID,
			Name:   o.call.Name,
			Args:   o.call.Arguments,
			Status: string(o.status),
		})
	}
	r.c.steps.Record(store.StepRecord{
		ConversationID: r.turn.ConversationID,
		TurnID:         r.turn.ID,
		Index:          round,
		ToolCalls:      summaries,
		Usage:          store.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
		Outcome:        outcome,
	})
}

// withResolutions places the replayed calls and results ahead of the
// trailing user messages, so the model reads them as already done when it
// answers the new input. A history of only user messages gets them appended
// since a conversation cannot open with an assistant turn.
func withResolutions(msgs []provider.Message, resolutions []*approval.Outcome) []provider.Message {
	var calls []provider.ToolCall
	var results []provider.Message
	for _, o := range resolutions {
		if o == nil || o.Approval == nil {
			continue
		}
		a := o.Approval
		calls = append(calls, provider.ToolCall{ID: a.ToolCallID, Name: a.ToolName, Arguments: string(a.Input)})
		results = append(results, provider.Message{
			Role:       provider.MessageRoleTool,
			Content:    o.Result.JSON(),
			ToolCallID: a.ToolCallID,
			ToolName:   a.ToolName,
		})
	}

	history := make([]provider.Message, 0, len(msgs)+len(results)+1)
	if len(calls) == 0 {
		return append(history, msgs...)
	}

	split := len(msgs)
	for split > 0 && msgs[split-1].Role == provider.MessageRoleUser {
		split--
	}
	if split == 0 {
		split = len(msgs)
	}
	history = append(history, msgs[:split]...)
	history = append(history, provider.Message{Role: provider.MessageRoleAssistant, ToolCalls: calls})
	history = append(history, results...)
	return append(history, msgs[split:]...)
}
