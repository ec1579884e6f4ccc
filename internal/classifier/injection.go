// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"regexp"
	"strings"
	"unicode"
)

// Signal weights.
const (
	WeightHigh    = 0.9
	WeightMedium  = 0.6
	WeightDensity = 0.4

	// InjectionThreshold is the confidence at which a message counts as an
	// injection attempt for reporting purposes.
	InjectionThreshold = 0.6

	// DensityLimit is the share of special characters above which the
	// density heuristic fires.
	DensityLimit = 0.3
)

type injectionPattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// Compiled once at init. Patterns must also match the sanitised form of their
// input, since angle brackets and backticks are gone by then.
var injectionPatterns = []injectionPattern{
	{"instruction_override", regexp.MustCompile(`(?i)\b(ignore|disregard|override|forget|do\s+not\s+follow)\s+(?:(?:all|any|the|your|of)\s+)*(previous|prior|above|earlier|preceding)\s+(instructions?|prompts?|rules|directions|context)`), WeightHigh},
	{"role_override", regexp.MustCompile(`(?i)\b(you\s+are\s+now\s+(?:a|an|the|my|in)\b|from\s+now\s+on,?\s+you\s+(are|will|must|should)|your\s+new\s+(role|identity|persona|instructions)\s+(is|are))`), WeightHigh},
	{"system_prefix", regexp.MustCompile(`(?im)(^\s*(system|developer)\s*:|\[system\]|\|\s*system\s*\||###\s*(system|instruction))`), WeightHigh},
	{"delimiter_token", regexp.MustCompile(`(?i)(\|\s*(im_start|im_end|endoftext)\s*\||\[/?INST\]|<</?SYS>>|\[/?SYS\]|BEGININSTRUCTION)`), WeightHigh},
	{"prompt_exfiltration", regexp.MustCompile(`(?i)\b(reveal|print|show|repeat|output|leak)\s+(me\s+)?(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), WeightHigh},
	{"safety_bypass", regexp.MustCompile(`(?i)\bbypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), WeightHigh},

	{"new_instructions", regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`), WeightMedium},
	{"act_as", regexp.MustCompile(`(?i)\bact\s+as\b`), WeightMedium},
	{"pretend", regexp.MustCompile(`(?i)\bpretend\b`), WeightMedium},
	{"disregard", regexp.MustCompile(`(?i)\bdisregard\b`), WeightMedium},
}

// InjectionScore is the injection detector's result for one text.
type InjectionScore struct {
	Confidence float64
	// Signal is the highest-weighted matched signal, empty when nothing fired.
	Signal string
	// Signals lists every matched signal name.
	Signals []string
}

// IsInjection reports whether the score crosses InjectionThreshold.
func (s InjectionScore) IsInjection() bool {
	return s.Confidence >= InjectionThreshold
}

// ScoreInjection scores every given view of one message and returns the
// maximum. Callers pass both the normalised raw text and the sanitised text
// so that stripping markup cannot hide a delimiter.
func ScoreInjection(views ...string) InjectionScore {
	var out InjectionScore
	seen := make(map[string]bool)

	for _, text := range views {
		for _, p := range injectionPatterns {
			if seen[p.name] || !p.re.MatchString(text) {
				continue
			}
			seen[p.name] = true
			out.Signals = append(out.Signals, p.name)
			if p.weight > out.Confidence {
				out.Confidence = p.weight
				out.Signal = p.name
			}
		}
	}

	if out.Confidence > 0 {
		return out
	}

	for _, text := range views {
		if specialDensity(text) > DensityLimit {
			out.Confidence = WeightDensity
			out.Signal = "special_char_density"
			out.Signals = append(out.Signals, out.Signal)
			break
		}
	}
	return out
}

// ordinaryPunct is punctuation that shows up in normal business prose and
// does not count toward density.
const ordinaryPunct = ".,!?'\"-:;()@/&%$+#"

// specialDensity is the share of runes in s that are neither letters,
// digits, spaces nor ordinary punctuation.
func specialDensity(s string) float64 {
	var total, special int
	for _, r := range s {
		total++
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		case strings.ContainsRune(ordinaryPunct, r):
		default:
			special++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}
