// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"regexp"
	"slices"
	"strings"
)

// Category is a kind of personally identifiable information.
type Category string

const (
	CategoryCreditCard Category = "credit_card"
	CategorySSN        Category = "ssn"
	CategoryEmail      Category = "email"
	CategoryIPAddress  Category = "ip_address"
	CategoryPhone      Category = "phone"
)

// Categories lists every detected category in match priority order. A span
// claimed by an earlier category is not re-examined by later ones.
func Categories() []Category {
	return []Category{CategoryCreditCard, CategorySSN, CategoryEmail, CategoryIPAddress, CategoryPhone}
}

// Placeholder is the token that replaces a redacted span.
func (c Category) Placeholder() string {
	return "[REDACTED_" + strings.ToUpper(string(c)) + "]"
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories(), c)
}

var piiPatterns = map[Category]*regexp.Regexp{
	// 13 to 19 digits, optionally grouped by single spaces or dashes.
	CategoryCreditCard: regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`),
	CategorySSN:        regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`),
	CategoryEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	CategoryIPAddress:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
	CategoryPhone:      regexp.MustCompile(`(?:\+\d{1,3}[-\s.]?)?\(?\b\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`),
}

// Finding is one detected PII span. Start and End are byte offsets into the
// scanned text.
type Finding struct {
	Category Category
	Start    int
	End      int
}

// DetectPII returns non-overlapping findings ordered by offset.
func DetectPII(text string) []Finding {
	var found []Finding
	for _, cat := range Categories() {
		for _, loc := range piiPatterns[cat].FindAllStringIndex(text, -1) {
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, Finding{Category: cat, Start: loc[0], End: loc[1]})
		}
	}
	slices.SortFunc(found, func(a, b Finding) int { return a.Start - b.Start })
	return found
}

func overlaps(found []Finding, start, end int) bool {
	for _, f := range found {
		if start < f.End && f.Start < end {
			return true
		}
	}
	return false
}

// RedactFindings replaces each finding whose category satisfies redact with
// its placeholder. findings must come from DetectPII on the same text.
func RedactFindings(text string, findings []Finding, redact func(Category) bool) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, f := range findings {
		if !redact(f.Category) {
			continue
		}
		b.WriteString(text[last:f.Start])
		b.WriteString(f.Category.Placeholder())
		last = f.End
	}
	b.WriteString(text[last:])
	return b.String()
}
