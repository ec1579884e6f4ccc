// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package classifier

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "",
	"\u2062", "",
	"\u2063", "",
	"\u2064", "",
	"\u202a", "", // bidi embeddings and overrides
	"\u202b", "",
	"\u202c", "",
	"\u202d", "",
	"\u202e", "",
	"\u2066", "", // bidi isolates
	"\u2067", "",
	"\u2068", "",
	"\u2069", "",
)

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlockRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	tagRe          = regexp.MustCompile(`</?[A-Za-z!][^<>]*>`)
	horizontalWSRe = regexp.MustCompile(`[^\S\n]+`)
	newlinePadRe   = regexp.MustCompile(` ?\n ?`)
	blankLineRunRe = regexp.MustCompile(`\n{3,}`)
)

// Normalize applies NFKC and strips invisible format characters so that
// homoglyph and zero-width tricks do not hide patterns from later stages.
func Normalize(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// Sanitize returns s with markup removed, dangerous punctuation stripped and
// whitespace collapsed. It is idempotent.
func Sanitize(s string) string {
	s = Normalize(s)
	s = scriptBlockRe.ReplaceAllString(s, " ")
	s = styleBlockRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")

	s = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>' || r == '`':
			return -1
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)

	s = horizontalWSRe.ReplaceAllString(s, " ")
	s = newlinePadRe.ReplaceAllString(s, "\n")
	s = blankLineRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
