// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package classifier inspects inbound chat text before it reaches the model.
// Each user message passes three stages in order: Sanitize, injection
// scoring and PII detection. The outcome per message is pass, redact or
// drop, decided by a Policy.
package classifier

// Stage names a step of the chain.
type Stage string

const (
	StageSanitize  Stage = "sanitize"
	StageInjection Stage = "injection"
	StagePII       Stage = "pii"
)

// Action is the enforcement decision a stage reached.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionRedact  Action = "redact"
	ActionReject  Action = "reject"
	ActionLogOnly Action = "log_only"
)

// Verdict is the per-stage result for one message. It is never persisted.
type Verdict struct {
	Stage      Stage
	Confidence float64
	Signal     string
	Action     Action
}

// Disposition summarises what happened to a message.
type Disposition string

const (
	Passed   Disposition = "passed"
	Redacted Disposition = "redacted"
	Dropped  Disposition = "dropped"
)

// Outcome is the chain's record for one inspected message.
type Outcome struct {
	// Index is the message position in the request.
	Index       int
	Disposition Disposition
	Verdicts    []Verdict
}
