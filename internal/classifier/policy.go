// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// PIIAction is what the chain does with a detected category.
type PIIAction string

const (
	// PIIRedact replaces the span with a placeholder.
	PIIRedact PIIAction = "redact"
	// PIIFlag leaves the text intact and records an audit event.
	PIIFlag PIIAction = "flag"
)

// Policy is the enforcement table for the chain.
type Policy struct {
	// DropThreshold is the injection confidence at or above which a message
	// is removed from the model context.
	DropThreshold float64 `yaml:"drop_threshold"`
	// LogThreshold is the confidence at or above which a kept message is
	// audited as a suspected injection.
	LogThreshold float64 `yaml:"log_threshold"`
	// PII maps each category to its action.
	PII map[Category]PIIAction `yaml:"pii"`
}

// DefaultPolicy drops high-confidence injections, logs medium ones, redacts
// SSNs and card numbers and flags the rest. Authenticated callers may share
// their own contact details.
func DefaultPolicy() Policy {
	return Policy{
		DropThreshold: WeightHigh,
		LogThreshold:  WeightMedium,
		PII: map[Category]PIIAction{
			CategoryCreditCard: PIIRedact,
			CategorySSN:        PIIRedact,
			CategoryEmail:      PIIFlag,
			CategoryIPAddress:  PIIFlag,
			CategoryPhone:      PIIFlag,
		},
	}
}

// ParsePolicy builds a policy from configuration values. Categories missing
// from pii keep their default action.
func ParsePolicy(dropThreshold, logThreshold float64, pii map[string]string) (Policy, error) {
	p := DefaultPolicy()
	p.DropThreshold = dropThreshold
	p.LogThreshold = logThreshold

	for _, name := range slices.Sorted(maps.Keys(pii)) {
		cat := Category(strings.ToLower(name))
		if !cat.Valid() {
			return Policy{}, dderr.Errorf(dderr.CodeClassifierPolicyInvalid, "unknown pii category %q", name)
		}
		action := PIIAction(strings.ToLower(pii[name]))
		if action != PIIRedact && action != PIIFlag {
			return Policy{}, dderr.Errorf(dderr.CodeClassifierPolicyInvalid,
				"pii category %s: action must be redact or flag, got %q", name, pii[name])
		}
		p.PII[cat] = action
	}

	if errs := p.Validate(); len(errs) > 0 {
		return Policy{}, dderr.Join(errs...)
	}
	return p, nil
}

// Validate checks the thresholds and the PII table.
func (p Policy) Validate() []error {
	var errs []error
	if p.DropThreshold <= 0 || p.DropThreshold > 1 {
		errs = append(errs, dderr.Errorf(dderr.CodeClassifierPolicyInvalid,
			"drop threshold must be in (0, 1], got %v", p.DropThreshold))
	}
	if p.LogThreshold <= 0 || p.LogThreshold > p.DropThreshold {
		errs = append(errs, dderr.Errorf(dderr.CodeClassifierPolicyInvalid,
			"log threshold must be in (0, drop threshold], got %v", p.LogThreshold))
	}
	for cat, action := range p.PII {
		if !cat.Valid() {
			errs = append(errs, dderr.Errorf(dderr.CodeClassifierPolicyInvalid, "unknown pii category %q", cat))
		}
		if action != PIIRedact && action != PIIFlag {
			errs = append(errs, dderr.Errorf(dderr.CodeClassifierPolicyInvalid, "pii category %s has invalid action %q", cat, action))
		}
	}
	return errs
}

// InjectionAction maps a confidence to the action this policy takes.
func (p Policy) InjectionAction(confidence float64) Action {
	switch {
	case confidence >= p.DropThreshold:
		return ActionReject
	case confidence >= p.LogThreshold:
		return ActionLogOnly
	default:
		return ActionAllow
	}
}

// Redacts reports whether the policy redacts cat. Categories absent from the
// table are redacted.
func (p Policy) Redacts(cat Category) bool {
	action, ok := p.PII[cat]
	return !ok || action == PIIRedact
}

// String renders the table one rule per line.
func (p Policy) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "injection: drop >= %.2f, log >= %.2f\n", p.DropThreshold, p.LogThreshold)
	for _, cat := range Categories() {
		action := PIIRedact
		if !p.Redacts(cat) {
			action = PIIFlag
		}
		fmt.Fprintf(&b, "pii %s: %s\n", cat, action)
	}
	return b.String()
}
