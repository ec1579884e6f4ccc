// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/agent"
	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// scriptedProvider answers the n-th Chat call with script(n). It records
// every request it receives.
type scriptedProvider struct {
	mu       sync.Mutex
	script   func(n int) []provider.ChatEvent
	requests []provider.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error { return nil }
func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "scripted"}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	req.Messages = append([]provider.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()

	events := p.script(n)
	ch := make(chan provider.ChatEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(n int) provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[n-1]
}

type staticRouter struct{ p provider.Provider }

func (r staticRouter) Route(context.Context, string) (provider.Provider, string, error) {
	return r.p, "test-model", nil
}

type fakeApprover struct {
	mu     sync.Mutex
	opened []approval.OpenRequest
	err    error
}

func (f *fakeApprover) Open(_ context.Context, req approval.OpenRequest) (*store.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, req)
	return &store.Approval{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Input:      req.Input,
		Context:    req.Context.Map(),
		ActorRef:   req.Context.Actor,
		Status:     store.ApprovalPending,
	}, nil
}

type stepSink struct {
	mu    sync.Mutex
	steps []store.StepRecord
}

func (s *stepSink) Record(step store.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *stepSink) all() []store.StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.StepRecord(nil), s.steps...)
}

func text(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

func call(id, name, args string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args}}
}

func done() provider.ChatEvent { return provider.ChatEvent{Type: provider.EventTypeDone} }

type lookupInput struct {
	Query string `json:"query"`
}

type sendInput struct {
	To string `json:"to"`
}

var lookupSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"query": map[string]any{"type": "string"}},
	"required":   []string{"query"},
}

var sendSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"to": map[string]any{"type": "string", "format": "email"}},
	"required":   []string{"to"},
}

// fixture wires a controller over a small catalog: lookup (ungated),
// send (gated) and research (never configured).
type fixture struct {
	prov     *scriptedProvider
	approver *fakeApprover
	steps    *stepSink
	ctrl     *agent.Controller

	lookups atomic.Int32
	sends   atomic.Int32

	// lookupFn overrides the lookup executor body.
	lookupFn func(ctx context.Context, in lookupInput) (integration.Result, error)
}

func newFixture(t *testing.T, script func(n int) []provider.ChatEvent, opts ...func(*agent.Config)) *fixture {
	t.Helper()
	f := &fixture{
		prov:     &scriptedProvider{script: script},
		approver: &fakeApprover{},
		steps:    &stepSink{},
	}

	lookup := tool.MustNew(tool.Spec{Name: "lookup", Description: "Looks things up.", Schema: lookupSchema},
		func(ctx context.Context, _ tool.Context, in lookupInput) (integration.Result, error) {
			f.lookups.Add(1)
			if f.lookupFn != nil {
				return f.lookupFn(ctx, in)
			}
			return integration.Success(map[string]string{"found": in.Query}), nil
		})
	send := tool.MustNew(tool.Spec{Name: "send", Description: "Sends mail.", Schema: sendSchema, RequiresApproval: true},
		func(context.Context, tool.Context, sendInput) (integration.Result, error) {
			f.sends.Add(1)
			return integration.Success(nil), nil
		})
	research := tool.MustNew(tool.Spec{Name: "research", Configured: func() bool { return false }},
		func(context.Context, tool.Context, struct{}) (integration.Result, error) {
			return integration.Success(nil), nil
		})
	catalog, err := tool.NewCatalog(lookup, send, research)
	require.NoError(t, err)

	cfg := agent.Config{
		Router:      staticRouter{p: f.prov},
		Catalog:     catalog,
		Approver:    f.approver,
		Steps:       f.steps,
		ToolTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.ctrl, err = agent.NewController(cfg)
	require.NoError(t, err)
	return f
}

func baseTurn() agent.Turn {
	return agent.Turn{
		ID:             "turn-1",
		Actor:          "user-7",
		ConversationID: "conv-1",
		AccountID:      "acct-1",
		Messages:       []provider.Message{{Role: provider.MessageRoleUser, Content: "help me with Acme"}},
		Allowlist:      []string{tool.AllowAll},
	}
}

func collect(ch chan agent.Event) []agent.Event {
	close(ch)
	var out []agent.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func ofType(events []agent.Event, typ agent.EventType) []agent.Event {
	var out []agent.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent {
		return []provider.ChatEvent{
			text("Hello "), text("there."),
			{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 12, OutputTokens: 3}},
			done(),
		}
	})

	events := make(chan agent.Event, 64)
	res, err := f.ctrl.Run(context.Background(), baseTurn(), events)
	require.NoError(t, err)

	assert.Equal(t, agent.StatusCompleted, res.Status)
	assert.Equal(t, "Hello there.", res.Text)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 12, res.Usage.InputTokens)

	got := collect(events)
	assert.Len(t, ofType(got, agent.EventRound), 1)
	assert.Len(t, ofType(got, agent.EventText), 2)

	steps := f.steps.all()
	require.Len(t, steps, 1)
	assert.Equal(t, "completed", steps[0].Outcome)
	assert.Equal(t, "turn-1", steps[0].TurnID)
}

func TestRunFeedsToolResultsBackToTheModel(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{text("Checking."), call("c1", "lookup", `{"query":"acme"}`), done()}
		}
		return []provider.ChatEvent{text("Acme found."), done()}
	})

	events := make(chan agent.Event, 64)
	res, err := f.ctrl.Run(context.Background(), baseTurn(), events)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "Checking.\n\nAcme found.", res.Text)
	assert.Equal(t, int32(1), f.lookups.Load())

	second := f.prov.request(2)
	require.Len(t, second.Messages, 3)
	asst := second.Messages[1]
	assert.Equal(t, provider.MessageRoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "c1", asst.ToolCalls[0].ID)

	result := second.Messages[2]
	assert.Equal(t, provider.MessageRoleTool, result.Role)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.JSONEq(t, `{"ok":true,"data":{"found":"acme"}}`, result.Content)

	toolEvents := ofType(collect(events), agent.EventToolResult)
	require.Len(t, toolEvents, 1)
	assert.Equal(t, "lookup", toolEvents[0].ToolName)

	steps := f.steps.all()
	require.Len(t, steps, 2)
	assert.Equal(t, "tool_dispatch", steps[0].Outcome)
	require.Len(t, steps[0].ToolCalls, 1)
	assert.Equal(t, "ok", steps[0].ToolCalls[0].Status)
}

func TestRunDispatchesUngatedCallsConcurrentlyWithinLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{
				call("a", "lookup", `{"query":"1"}`),
				call("b", "lookup", `{"query":"2"}`),
				call("c", "lookup", `{"query":"3"}`),
				call("d", "lookup", `{"query":"4"}`),
				done(),
			}
		}
		return []provider.ChatEvent{text("ok"), done()}
	}, func(c *agent.Config) { c.MaxParallelTools = 2 })

	f.lookupFn = func(_ context.Context, in lookupInput) (integration.Result, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		inFlight.Add(-1)
		return integration.Success(in.Query), nil
	}

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)
	assert.Equal(t, int32(4), f.lookups.Load())
	assert.Equal(t, int32(2), peak.Load())

	// Results keep the order the model asked for them.
	second := f.prov.request(2)
	var ids []string
	for _, m := range second.Messages {
		if m.Role == provider.MessageRoleTool {
			ids = append(ids, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestRunGatedCallOpensApprovalAndEndsTurn(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent {
		return []provider.ChatEvent{
			text("Drafted."),
			call("g1", "send", `{"to":"dana@acme.test"}`),
			call("u1", "lookup", `{"query":"dana"}`),
			done(),
		}
	})

	events := make(chan agent.Event, 64)
	turn := baseTurn()
	turn.ContactID = "contact-3"
	res, err := f.ctrl.Run(context.Background(), turn, events)
	require.NoError(t, err)

	assert.Equal(t, agent.StatusAwaitingApproval, res.Status)
	assert.Equal(t, []string{"g1"}, res.PendingApprovals)
	assert.Equal(t, 1, f.prov.calls(), "no further model call after an approval opens")
	assert.Zero(t, f.sends.Load(), "gated tool must not run before approval")
	assert.Equal(t, int32(1), f.lookups.Load(), "ungated calls in the same round still run")

	require.Len(t, f.approver.opened, 1)
	opened := f.approver.opened[0]
	assert.JSONEq(t, `{"to":"dana@acme.test"}`, string(opened.Input))
	assert.Equal(t, "user-7", opened.Context.Actor)
	assert.Equal(t, "contact-3", opened.Context.ContactID)
	assert.Equal(t, "turn-1", opened.Context.TurnID)

	got := collect(events)
	required := ofType(got, agent.EventApprovalRequired)
	require.Len(t, required, 1)
	assert.Equal(t, "g1", required[0].ToolCallID)
	assert.Len(t, ofType(got, agent.EventToolResult), 1)

	steps := f.steps.all()
	require.Len(t, steps, 1)
	assert.Equal(t, "awaiting_approval", steps[0].Outcome)
}

func TestRunGatedCallWithInvalidInputIsNotSubmitted(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{call("g1", "send", `{"to":"not-an-address"}`), done()}
		}
		return []provider.ChatEvent{text("Let me fix that."), done()}
	})

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)
	assert.Empty(t, f.approver.opened)
	assert.Zero(t, f.sends.Load())

	second := f.prov.request(2)
	last := second.Messages[len(second.Messages)-1]
	assert.Contains(t, last.Content, `"ok":false`)
}

func TestRunApprovalStoreFailureBecomesToolError(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{call("g1", "send", `{"to":"dana@acme.test"}`), done()}
		}
		return []provider.ChatEvent{text("Sorry."), done()}
	})
	f.approver.err = dderr.New(dderr.CodeApprovalStoreError, "db down")

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)
	assert.Zero(t, f.sends.Load())
}

func TestRunUnknownToolGetsErrorResult(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{
				call("x1", "delete_account", `{}`),
				call("x2", "research", `{}`),
				done(),
			}
		}
		return []provider.ChatEvent{text("Those are unavailable."), done()}
	})

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)

	second := f.prov.request(2)
	for _, m := range second.Messages[2:] {
		assert.Equal(t, provider.MessageRoleTool, m.Role)
		assert.Contains(t, m.Content, "not available")
	}
}

func TestRunOffersOnlyConfiguredAllowedTools(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent { return []provider.ChatEvent{text("hi"), done()} })

	_, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)

	var names []string
	for _, d := range f.prov.request(1).Tools {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"lookup", "send"}, names)

	turn := baseTurn()
	turn.Allowlist = []string{"lookup"}
	_, err = f.ctrl.Run(context.Background(), turn, nil)
	require.NoError(t, err)
	require.Len(t, f.prov.request(2).Tools, 1)
	assert.Equal(t, "lookup", f.prov.request(2).Tools[0].Name)
}

func TestRunStopsAtRoundLimitWithPartialText(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		return []provider.ChatEvent{text(fmt.Sprintf("step %d", n)), call(fmt.Sprintf("c%d", n), "lookup", `{"query":"more"}`), done()}
	}, func(c *agent.Config) { c.MaxRounds = 3 })

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRoundLimit, res.Status)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, "step 1\n\nstep 2\n\nstep 3", res.Text)
	assert.Equal(t, 3, f.prov.calls())
	assert.Len(t, f.steps.all(), 3)
}

func TestRunDefaultRoundLimitIsTwenty(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		return []provider.ChatEvent{call(fmt.Sprintf("c%d", n), "lookup", `{"query":"loop"}`), done()}
	})

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRoundLimit, res.Status)
	assert.Equal(t, agent.DefaultMaxRounds, f.prov.calls())
}

func TestRunFailsWhenFinalRoundToolsAllFail(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		return []provider.ChatEvent{call(fmt.Sprintf("c%d", n), "lookup", `{"query":"x"}`), done()}
	}, func(c *agent.Config) { c.MaxRounds = 2 })
	f.lookupFn = func(context.Context, lookupInput) (integration.Result, error) {
		return integration.Failure("directory unavailable"), nil
	}

	_, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeAgentToolsExhausted))
	assert.Equal(t, http.StatusInternalServerError, dderr.HTTPStatus(err))
}

func TestRunCancellationSkipsCallsNotYetStarted(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, func(int) []provider.ChatEvent {
		return []provider.ChatEvent{
			call("a", "lookup", `{"query":"1"}`),
			call("b", "lookup", `{"query":"2"}`),
			call("c", "lookup", `{"query":"3"}`),
			done(),
		}
	}, func(c *agent.Config) { c.MaxParallelTools = 1 })

	var finishedOK atomic.Bool
	f.lookupFn = func(ctx context.Context, in lookupInput) (integration.Result, error) {
		once.Do(func() { close(started) })
		<-release
		finishedOK.Store(ctx.Err() == nil)
		return integration.Success(in.Query), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		close(release)
	}()

	res, err := f.ctrl.Run(ctx, baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCancelled, res.Status)
	assert.Equal(t, int32(1), f.lookups.Load())
	assert.True(t, finishedOK.Load(), "a started call keeps a live context after cancellation")
	assert.Equal(t, 1, f.prov.calls())

	steps := f.steps.all()
	require.Len(t, steps, 1)
	assert.Equal(t, "cancelled", steps[0].Outcome)
	var statuses []string
	for _, s := range steps[0].ToolCalls {
		statuses = append(statuses, s.Status)
	}
	assert.Equal(t, []string{"ok", "skipped", "skipped"}, statuses)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent { return []provider.ChatEvent{text("hi"), done()} })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.ctrl.Run(ctx, baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCancelled, res.Status)
	assert.Zero(t, f.prov.calls())
}

func TestRunToolTimeoutBecomesResult(t *testing.T) {
	f := newFixture(t, func(n int) []provider.ChatEvent {
		if n == 1 {
			return []provider.ChatEvent{call("slow", "lookup", `{"query":"x"}`), done()}
		}
		return []provider.ChatEvent{text("It timed out."), done()}
	}, func(c *agent.Config) { c.ToolTimeout = 20 * time.Millisecond })
	f.lookupFn = func(ctx context.Context, _ lookupInput) (integration.Result, error) {
		<-ctx.Done()
		return integration.Result{}, ctx.Err()
	}

	res, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)
	last := f.prov.request(2).Messages[2]
	assert.Contains(t, last.Content, "timed out")
}

func TestRunStreamErrorFailsTurn(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent {
		return []provider.ChatEvent{text("partial"), {Type: provider.EventTypeError, Error: "overloaded"}}
	})

	_, err := f.ctrl.Run(context.Background(), baseTurn(), nil)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeAgentModelStreamFailure))

	steps := f.steps.all()
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Index)
	assert.Equal(t, "failed", steps[0].Outcome)
	assert.Empty(t, steps[0].ToolCalls)
}

func TestRunReplaysResolvedApprovals(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent { return []provider.ChatEvent{text("Sent."), done()} })

	turn := baseTurn()
	turn.Messages = []provider.Message{
		{Role: provider.MessageRoleUser, Content: "email Dana"},
		{Role: provider.MessageRoleAssistant, Content: "Drafted, waiting for your approval."},
		{Role: provider.MessageRoleUser, Content: "approved"},
	}
	turn.Resolutions = []*approval.Outcome{
		{
			Approval: &store.Approval{ToolCallID: "g1", ToolName: "send", Input: json.RawMessage(`{"to":"dana@acme.test"}`)},
			Executed: true,
			Result:   integration.Success(map[string]string{"id": "msg-1"}),
		},
		{
			Approval: &store.Approval{ToolCallID: "g2", ToolName: "send", Input: json.RawMessage(`{"to":"sam@acme.test"}`)},
			Result:   integration.Result{OK: false, Error: approval.DeclinedMessage},
		},
	}

	res, err := f.ctrl.Run(context.Background(), turn, nil)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, res.Status)

	msgs := f.prov.request(1).Messages
	require.Len(t, msgs, 6)
	assert.Equal(t, "Drafted, waiting for your approval.", msgs[1].Content)
	require.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, "g1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, provider.MessageRoleTool, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "msg-1")
	assert.Contains(t, msgs[4].Content, approval.DeclinedMessage)
	assert.Equal(t, "approved", msgs[5].Content)
}

func TestRunRejectsTurnWithoutActor(t *testing.T) {
	f := newFixture(t, func(int) []provider.ChatEvent { return nil })

	turn := baseTurn()
	turn.Actor = ""
	_, err := f.ctrl.Run(context.Background(), turn, nil)
	require.Error(t, err)
	assert.True(t, dderr.IsInvalidInput(err))
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	_, err := agent.NewController(agent.Config{})
	require.Error(t, err)
}
