package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TruncatedSuffix marks content shortened by Truncate.
const TruncatedSuffix = "...[TRUNCATED]"

// Redacted replaces the whole value of a sensitive metadata key.
const Redacted = "[REDACTED]"

// maxPasses bounds the fixed-point loop in Sanitize. The default rules settle
// in at most two passes; the bound only matters for custom rules whose
// placeholders feed their own patterns.
const maxPasses = 16

// sensitiveKeys are metadata keys whose values are dropped entirely.
var sensitiveKeys = map[string]bool{
	"patient_id": true,
	"ssn":        true,
	"name":       true,
	"email":      true,
	"phone":      true,
	"dob":        true,
	"mrn":        true,
}

// Sanitizer redacts sensitive substrings by applying an ordered list of rules.
// A Sanitizer is immutable and safe for concurrent use.
type Sanitizer struct {
	rules []Rule
}

// New returns a Sanitizer applying rules in the given order.
func New(rules ...Rule) *Sanitizer {
	return &Sanitizer{rules: append([]Rule(nil), rules...)}
}

// Default returns a Sanitizer with DefaultRules.
func Default() *Sanitizer {
	return New(DefaultRules()...)
}

// Rules returns a copy of the rule list in application order.
func (s *Sanitizer) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// With returns a new Sanitizer with rules appended after the existing ones.
func (s *Sanitizer) With(rules ...Rule) *Sanitizer {
	return New(append(s.Rules(), rules...)...)
}

// Without returns a new Sanitizer without the named rules.
func (s *Sanitizer) Without(names ...string) *Sanitizer {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []Rule
	for _, r := range s.rules {
		if !drop[r.Name] {
			kept = append(kept, r)
		}
	}
	return New(kept...)
}

// WithNamePattern returns a new Sanitizer whose name rule uses expr. The rule
// keeps its position; if there is no name rule it is appended.
func (s *Sanitizer) WithNamePattern(expr string) (*Sanitizer, error) {
	rule, err := NameRule(expr)
	if err != nil {
		return nil, err
	}
	rules := s.Rules()
	for i, r := range rules {
		if r.Name == RuleName {
			rules[i] = rule
			return New(rules...), nil
		}
	}
	return New(append(rules, rule)...), nil
}

// Sanitize applies every rule in order and repeats the pass until the text
// stops changing, so Sanitize(Sanitize(x)) == Sanitize(x).
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	for i := 0; i < maxPasses; i++ {
		next := s.pass(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (s *Sanitizer) pass(text string) string {
	for _, r := range s.rules {
		if r.Pattern == nil {
			continue
		}
		text = r.Pattern.ReplaceAllLiteralString(text, r.Placeholder)
	}
	return text
}

// SanitizeValue renders v as text and sanitizes it. Errors and Stringers use
// their own text; other non-string values are JSON encoded.
func (s *Sanitizer) SanitizeValue(v any) string {
	return s.Sanitize(render(v))
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case error:
		return ErrorText(x)
	case fmt.Stringer:
		return safeText(x, x.String)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// SanitizeMetadata returns a sanitized copy of md. Values under sensitive
// keys become Redacted, strings are sanitized, and nested maps and slices are
// walked. Other scalars are copied unchanged.
func (s *Sanitizer) SanitizeMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = Redacted
			continue
		}
		out[k] = s.sanitizeAny(v)
	}
	return out
}

func (s *Sanitizer) sanitizeAny(v any) any {
	switch x := v.(type) {
	case string:
		return s.Sanitize(x)
	case map[string]any:
		return s.SanitizeMetadata(x)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = val
		}
		return s.SanitizeMetadata(m)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = s.sanitizeAny(e)
		}
		return out
	case []string:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = s.Sanitize(e)
		}
		return out
	case error:
		return s.Sanitize(ErrorText(x))
	}
	return v
}

// ErrorText returns err's message, or "" for a nil err. A method that panics,
// as one on a nil pointer receiver does, falls back to fmt's rendering.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return safeText(err, err.Error)
}

func safeText(v any, text func() string) (s string) {
	defer func() {
		if recover() != nil {
			s = fmt.Sprint(v)
		}
	}()
	return text()
}

// Truncate shortens s to at most max runes followed by TruncatedSuffix.
// A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + TruncatedSuffix
		}
		n++
	}
	return s
}

// compile is regexp.MustCompile for the built-in rules.
func compile(expr string) *regexp.Regexp {
	return regexp.MustCompile(expr)
}
