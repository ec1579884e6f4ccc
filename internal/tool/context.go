// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package tool

// Context is the per-request bundle every executor receives. It is passed
// by value and executors must not read request state from anywhere else.
type Context struct {
	Actor          string
	ConversationID string
	TurnID         string
	AccountID      string
	ContactID      string
	WorkflowStep   string
}

const (
	ctxKeyActor        = "actor"
	ctxKeyConversation = "conversation_id"
	ctxKeyTurn         = "turn_id"
	ctxKeyAccount      = "account_id"
	ctxKeyContact      = "contact_id"
	ctxKeyWorkflowStep = "workflow_step"
)

// Map flattens c for persistence alongside an approval request. Empty
// fields are omitted.
func (c Context) Map() map[string]string {
	m := make(map[string]string, 6)
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(ctxKeyActor, c.Actor)
	set(ctxKeyConversation, c.ConversationID)
	set(ctxKeyTurn, c.TurnID)
	set(ctxKeyAccount, c.AccountID)
	set(ctxKeyContact, c.ContactID)
	set(ctxKeyWorkflowStep, c.WorkflowStep)
	return m
}

// ContextFromMap is the inverse of Map.
func ContextFromMap(m map[string]string) Context {
	return Context{
		Actor:          m[ctxKeyActor],
		ConversationID: m[ctxKeyConversation],
		TurnID:         m[ctxKeyTurn],
		AccountID:      m[ctxKeyAccount],
		ContactID:      m[ctxKeyContact],
		WorkflowStep:   m[ctxKeyWorkflowStep],
	}
}
