// Package reasoning removes the visible chain-of-thought that reasoning
// models wrap in <think> tags before their answer.
package reasoning

import (
	"regexp"
	"strings"
)

// Fallback is shown when nothing but reasoning came back
const Fallback = "I apologize, but I couldn't generate a proper response. Please try asking your question again."

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	blankRuns  = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// Filter strips every <think>…</think> block, collapses runs of three or
// more line breaks to two and trims the result. Empty input is returned as
// is; otherwise the result is never empty.
func Filter(text string) string {
	if text == "" {
		return text
	}
	out := thinkBlock.ReplaceAllString(text, "")
	out = strings.TrimSpace(out)
	out = blankRuns.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return Fallback
	}
	return out
}

// HasReasoning reports whether text contains at least one complete block
func HasReasoning(text string) bool {
	return thinkBlock.MatchString(text)
}
