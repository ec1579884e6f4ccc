// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dealdesk-dev/dealdesk/internal/agent"
	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/prompt"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/ratelimit"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

const (
	chatPath      = "/api/v1/chat"
	chatLimitType = "chat"

	// Stream event names beyond the agent's own event types.
	eventDone  = "done"
	eventError = "error"
)

// ChatMessage is one message of the client-held conversation.
type ChatMessage struct {
	Role    string `json:"role" enum:"user,assistant" doc:"Message author"`
	Content string `json:"content" doc:"Message text"`
}

// ApprovalDecision resolves a pending approval as part of a chat request.
type ApprovalDecision struct {
	ToolCallID string `json:"toolCallId" minLength:"1" doc:"Tool call awaiting approval"`
	Approve    bool   `json:"approve" doc:"true runs the stored call, false declines it"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages       []ChatMessage      `json:"messages" doc:"Conversation so far, oldest first"`
	ConversationID string             `json:"conversationId,omitempty" doc:"Conversation to continue"`
	AccountID      string             `json:"accountId,omitempty" doc:"Account the rep is working"`
	ContactID      string             `json:"contactId,omitempty" doc:"Contact within the account"`
	WorkflowStep   string             `json:"workflowStep,omitempty" doc:"Current step of the sales workflow"`
	Approvals      []ApprovalDecision `json:"approvals,omitempty" doc:"Approval decisions to apply before the turn"`
}

func (req *ChatRequest) validate() error {
	if len(req.Messages) == 0 && len(req.Approvals) == 0 {
		return dderr.New(dderr.CodeChatRequestInvalid, "request has neither messages nor approvals")
	}
	for i, m := range req.Messages {
		switch provider.MessageRole(m.Role) {
		case provider.MessageRoleUser, provider.MessageRoleAssistant:
		default:
			return dderr.Errorf(dderr.CodeChatRequestInvalid, "messages[%d]: role must be user or assistant, got %q", i, m.Role)
		}
	}
	seen := make(map[string]bool, len(req.Approvals))
	for i, a := range req.Approvals {
		if a.ToolCallID == "" {
			return dderr.Errorf(dderr.CodeChatRequestInvalid, "approvals[%d]: toolCallId is required", i)
		}
		if seen[a.ToolCallID] {
			return dderr.Errorf(dderr.CodeChatRequestInvalid, "approvals[%d]: duplicate toolCallId %q", i, a.ToolCallID)
		}
		seen[a.ToolCallID] = true
	}
	return nil
}

func (req *ChatRequest) providerMessages() []provider.Message {
	msgs := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, provider.Message{Role: provider.MessageRole(m.Role), Content: m.Content})
	}
	return msgs
}

// StreamError is the payload of the terminal "error" event.
type StreamError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) registerChatRoute() {
	s.router.Post(chatPath, s.handleChat)

	// The stream needs the raw ResponseWriter, so the route is served by
	// chi and only documented through huma.
	schemas := s.api.OpenAPI().Components.Schemas
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        chatPath,
		Summary:     "Run one assistant turn",
		Description: "Screens the messages, applies any approval decisions and streams the turn as server-sent events: " +
			"round, text, tool_result, approval_required, then done or error.",
		Tags:     []string{"chat"},
		Security: []map[string][]string{{"bearer": {}}, {"apiKey": {}}},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {Schema: schemas.Schema(reflect.TypeOf(ChatRequest{}), true, "ChatRequest")},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Turn event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"}},
				},
			},
			"400": {Description: "Malformed request, or no message survived input screening"},
			"401": {Description: "No valid credential"},
			"403": {Description: "Credential lacks the chat scope, or an approval belongs to another user"},
			"404": {Description: "Unknown account or approval"},
			"409": {Description: "Approval already resolved"},
			"429": {Description: "Rate limit exceeded; see Retry-After"},
			"500": {Description: "Internal error"},
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.FromContext(ctx)
	if !id.Can(auth.ScopeChat) {
		s.countChat(http.StatusForbidden)
		writeProblem(w, http.StatusForbidden, "credential lacks the chat scope")
		return
	}
	if !s.admitChat(w, r, id) {
		return
	}

	var req ChatRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		s.countChat(writeError(w, err, "decoding chat request"))
		return
	}
	if err := req.validate(); err != nil {
		s.countChat(writeError(w, err, "validating chat request"))
		return
	}

	msgs := req.providerMessages()
	if len(msgs) > 0 {
		var err error
		if msgs, _, err = s.deps.Classifier.Apply(ctx, id.Actor, msgs); err != nil {
			s.countChat(writeError(w, err, "screening chat input"))
			return
		}
	}

	pc, err := s.deps.Prompt.Assemble(ctx, prompt.Request{
		Actor:        id.Actor,
		AccountID:    req.AccountID,
		ContactID:    req.ContactID,
		WorkflowStep: req.WorkflowStep,
	})
	if err != nil {
		s.countChat(writeError(w, err, "assembling prompt"))
		return
	}

	resolutions, err := s.resolveApprovals(ctx, id.Actor, req.Approvals)
	if err != nil {
		s.countChat(writeError(w, err, "resolving approvals"))
		return
	}

	s.stream(w, r, agent.Turn{
		Actor:          id.Actor,
		ConversationID: req.ConversationID,
		AccountID:      req.AccountID,
		ContactID:      req.ContactID,
		WorkflowStep:   req.WorkflowStep,
		SystemPrompt:   pc.SystemPrompt,
		Messages:       msgs,
		Allowlist:      s.cfg.Allowlist,
		Resolutions:    resolutions,
	})
}

// admitChat applies the per-actor chat budget and sets the rate limit
// headers. It writes the response and returns false when the request must
// not proceed.
func (s *Server) admitChat(w http.ResponseWriter, r *http.Request, id *auth.Identity) bool {
	res, err := s.deps.Limiter.Check(r.Context(), id.Actor, chatLimitType, s.cfg.ChatMax, s.cfg.ChatWindow)
	if err != nil {
		// A limiter that cannot answer does not admit.
		s.countChat(writeError(w, err, "checking chat rate limit"))
		return false
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Allowed {
		return true
	}

	retry := res.RetryAfter(s.now())
	h.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	s.deps.Audit.Record(r.Context(), audit.Event{
		Type:     audit.EventRateLimitExceeded,
		Severity: audit.SeverityMedium,
		Actor:    id.Actor,
		Refs:     map[string]string{"limit_type": chatLimitType},
		Details: map[string]any{
			"limit":    res.Limit,
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		},
	})
	slog.Warn("chat rate limit exceeded",
		"actor_hash", ratelimit.HashIdentifier(id.Actor),
		"retry_after", retry,
	)
	s.countChat(http.StatusTooManyRequests)
	writeProblem(w, http.StatusTooManyRequests, "chat rate limit exceeded")
	return false
}

// resolveApprovals checks every decision before applying any, so a batch
// with one bad id has no side effects. A decision that fails after the
// checks (a concurrent resolve) is reported to the model as a failed call
// instead of discarding the ones already applied.
func (s *Server) resolveApprovals(ctx context.Context, actor string, decisions []ApprovalDecision) ([]*approval.Outcome, error) {
	if len(decisions) == 0 {
		return nil, nil
	}
	checked := make([]*store.Approval, 0, len(decisions))
	for _, d := range decisions {
		a, err := s.deps.Approvals.Check(ctx, d.ToolCallID, actor)
		if err != nil {
			return nil, err
		}
		checked = append(checked, a)
	}

	out := make([]*approval.Outcome, 0, len(decisions))
	for i, d := range decisions {
		o, err := s.deps.Approvals.Resolve(ctx, d.ToolCallID, approval.DecisionOf(d.Approve), actor)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			slog.Warn("approval changed while applying a batch",
				"tool_call_id", d.ToolCallID,
				"error", err,
			)
			o = &approval.Outcome{
				Approval: checked[i],
				Result:   integration.Failure("approval %s could not be applied: %s", d.ToolCallID, dderr.CodeOf(err)),
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// stream runs turn and relays its events. Headers are committed here, so
// a failure from this point on is reported as an "error" event.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, turn agent.Turn) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := newSSEWriter(w)
	for _, o := range turn.Resolutions {
		sw.send(string(agent.EventToolResult), agent.Event{
			Type:       agent.EventToolResult,
			ToolCallID: o.Approval.ToolCallID,
			ToolName:   o.Approval.ToolName,
			Result:     json.RawMessage(o.Result.JSON()),
		})
	}

	events := make(chan agent.Event, 16)
	var (
		res    *agent.Result
		runErr error
	)
	go func() {
		defer close(events)
		res, runErr = s.deps.Agent.Run(r.Context(), turn, events)
	}()
	for ev := range events {
		sw.send(string(ev.Type), ev)
	}

	if runErr != nil {
		status, detail := statusFor(runErr, "chat turn")
		sw.send(eventError, StreamError{Status: status, Error: detail})
		s.countChat(status)
		return
	}
	sw.send(eventDone, res)
	s.countChat(http.StatusOK)
}

func (s *Server) countChat(status int) {
	requestsTotal.WithLabelValues("chat", resultLabel(status)).Inc()
}

func resultLabel(status int) string {
	switch {
	case status < 300:
		return "ok"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status < 500:
		return "rejected"
	default:
		return "failed"
	}
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return dderr.Errorf(dderr.CodeChatRequestInvalid, "request body exceeds %d bytes", limit)
		}
		return dderr.Wrap(err, dderr.CodeChatRequestInvalid, "malformed request body")
	}
	return nil
}

// sseWriter writes server-sent events, flushing after each one. After the
// first write error it drops everything, since the client is gone.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	// httptest.ResponseRecorder implements Flusher; a wrapped writer may not.
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) send(event string, payload any) {
	if s.err != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encoding stream event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.err = err
		return
	}
	streamEventsTotal.WithLabelValues(event).Inc()
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
