// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Chain runs Sanitize, injection scoring and PII detection over every
// message of a request. The client holds the history, so assistant
// messages are screened like user ones.
type Chain struct {
	policy Policy
	sink   audit.Sink
}

// NewChain validates policy and returns a chain that reports to sink.
func NewChain(policy Policy, sink audit.Sink) (*Chain, error) {
	if errs := policy.Validate(); len(errs) > 0 {
		return nil, dderr.Join(errs...)
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Chain{policy: policy, sink: sink}, nil
}

// Policy returns the enforcement table in use.
func (c *Chain) Policy() Policy {
	return c.policy
}

// Apply inspects msgs on behalf of actor and returns the messages the model
// may see along with one Outcome per message. When no user message
// survives, Apply fails with CodeChatInputEmpty and the kept slice is nil.
func (c *Chain) Apply(ctx context.Context, actor string, msgs []provider.Message) ([]provider.Message, []Outcome, error) {
	kept := make([]provider.Message, 0, len(msgs))
	var outcomes []Outcome
	userKept := 0

	for i, msg := range msgs {
		content, outcome := c.inspect(ctx, actor, i, msg.Content)
		outcomes = append(outcomes, outcome)
		messagesTotal.WithLabelValues(string(outcome.Disposition)).Inc()
		if outcome.Disposition == Dropped {
			continue
		}

		msg.Content = content
		kept = append(kept, msg)
		if msg.Role == provider.MessageRoleUser {
			userKept++
		}
	}

	if userKept == 0 {
		c.sink.Record(ctx, audit.Event{
			Type:     audit.EventInputRejected,
			Severity: audit.SeverityMedium,
			Actor:    actor,
			Details:  map[string]any{"messages": len(msgs), "inspected": len(outcomes)},
		})
		return nil, outcomes, dderr.New(dderr.CodeChatInputEmpty, "no message remained after input filtering",
			dderr.FieldActor(actor))
	}
	return kept, outcomes, nil
}

func (c *Chain) inspect(ctx context.Context, actor string, index int, raw string) (string, Outcome) {
	out := Outcome{Index: index, Disposition: Passed}
	ref := map[string]string{"message_index": strconv.Itoa(index)}

	clean := Sanitize(raw)
	if clean != strings.TrimSpace(raw) {
		out.Verdicts = append(out.Verdicts, Verdict{
			Stage:      StageSanitize,
			Confidence: 1,
			Signal:     "content_modified",
			Action:     ActionAllow,
		})
		c.sink.Record(ctx, audit.Event{
			Type:     audit.EventInputSanitized,
			Severity: audit.SeverityLow,
			Actor:    actor,
			Refs:     ref,
			Details:  map[string]any{"original_bytes": len(raw), "sanitized_bytes": len(clean)},
		})
	}
	if clean == "" {
		out.Disposition = Dropped
		out.Verdicts = append(out.Verdicts, Verdict{Stage: StageSanitize, Signal: "empty", Action: ActionReject})
		return "", out
	}

	score := ScoreInjection(Normalize(raw), clean)
	if score.Confidence > 0 {
		action := c.policy.InjectionAction(score.Confidence)
		out.Verdicts = append(out.Verdicts, Verdict{
			Stage:      StageInjection,
			Confidence: score.Confidence,
			Signal:     score.Signal,
			Action:     action,
		})
		for _, sig := range score.Signals {
			injectionSignalsTotal.WithLabelValues(sig, string(action)).Inc()
		}

		if action != ActionAllow {
			severity := audit.SeverityMedium
			if action == ActionReject {
				severity = audit.SeverityHigh
			}
			c.sink.Record(ctx, audit.Event{
				Type:     audit.EventInjectionDetected,
				Severity: severity,
				Actor:    actor,
				Refs:     ref,
				Details: map[string]any{
					"confidence": score.Confidence,
					"signals":    score.Signals,
					"action":     string(action),
				},
			})
		}
		if action == ActionReject {
			slog.Info("dropping message flagged as injection",
				"actor", actor,
				"message_index", index,
				"signal", score.Signal,
				"confidence", score.Confidence,
			)
			out.Disposition = Dropped
			return "", out
		}
	}

	findings := DetectPII(clean)
	if len(findings) == 0 {
		return clean, out
	}

	redacted := make(map[string]int)
	flagged := make(map[string]int)
	for _, f := range findings {
		if c.policy.Redacts(f.Category) {
			redacted[string(f.Category)]++
			piiFindingsTotal.WithLabelValues(string(f.Category), string(PIIRedact)).Inc()
		} else {
			flagged[string(f.Category)]++
			piiFindingsTotal.WithLabelValues(string(f.Category), string(PIIFlag)).Inc()
		}
	}

	action := ActionLogOnly
	if len(redacted) > 0 {
		action = ActionRedact
		out.Disposition = Redacted
		clean = RedactFindings(clean, findings, c.policy.Redacts)
	}
	out.Verdicts = append(out.Verdicts, Verdict{
		Stage:      StagePII,
		Confidence: 1,
		Signal:     string(findings[0].Category),
		Action:     action,
	})

	severity := audit.SeverityLow
	if len(redacted) > 0 {
		severity = audit.SeverityMedium
	}
	c.sink.Record(ctx, audit.Event{
		Type:     audit.EventPIIDetected,
		Severity: severity,
		Actor:    actor,
		Refs:     ref,
		Details:  map[string]any{"redacted": redacted, "flagged": flagged},
	})
	return clean, out
}
