package relay

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer policies.
const (
	PolicyEscape = "escape"
	PolicyStrip  = "strip"
)

// Single pass, so ampersands introduced by the other replacements are never
// escaped a second time.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Sanitizer truncates, trims and neutralizes markup in user supplied text.
type Sanitizer struct {
	enabled  bool
	maxRunes int
	strip    *bluemonday.Policy
}

// NewSanitizer returns a Sanitizer for the given policy. An unknown policy
// falls back to escaping.
func NewSanitizer(enabled bool, policy string, maxRunes int) *Sanitizer {
	s := &Sanitizer{enabled: enabled, maxRunes: maxRunes}
	if policy == PolicyStrip {
		s.strip = bluemonday.StrictPolicy()
	}
	return s
}

// Sanitize applies truncation, trimming and escaping in that order. With
// sanitization disabled only truncation and trimming are applied.
func (s *Sanitizer) Sanitize(text string) string {
	text = strings.TrimSpace(Truncate(text, s.maxRunes))
	if !s.enabled {
		return text
	}
	if s.strip != nil {
		return strings.TrimSpace(s.strip.Sanitize(text))
	}
	return EscapeHTML(text)
}

// EscapeHTML replaces the five HTML metacharacters with named references.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// Truncate keeps at most n characters of text. n <= 0 means no limit.
func Truncate(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
