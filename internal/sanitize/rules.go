package sanitize

import (
	"fmt"
	"regexp"
)

// Rule names of the built-in rules.
const (
	RuleSSN        = "ssn"
	RuleDate       = "date"
	RulePhone      = "phone"
	RuleEmail      = "email"
	RuleMRN        = "mrn"
	RuleMRNNumeric = "mrn_numeric"
	RuleName       = "name"
)

// DefaultNamePattern matches a run of two or more capitalised words on one
// line. It is a heuristic and will also catch ordinary title-case phrases.
const DefaultNamePattern = `\b[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+\b`

// Rule replaces every match of Pattern with Placeholder.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
}

// DefaultRules returns the built-in rules in priority order: structured
// identifiers first, the name heuristic last.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        RuleSSN,
			Pattern:     compile(`\b\d{3}-\d{2}-\d{4}\b`),
			Placeholder: "[SSN]",
		},
		{
			Name:        RuleDate,
			Pattern:     compile(`\b(?:\d{1,2}[/-]\d{1,2}[/-](?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2})\b`),
			Placeholder: "[DATE]",
		},
		{
			Name:        RulePhone,
			Pattern:     compile(`(?:\+1[\s.-]?|\b1[\s.-])?(?:\(\d{3}\)\s*|\b\d{3}[\s.-])?\b\d{3}[\s.-]\d{4}\b`),
			Placeholder: "[PHONE]",
		},
		{
			Name:        RuleEmail,
			Pattern:     compile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Placeholder: "[EMAIL]",
		},
		{
			Name:        RuleMRN,
			Pattern:     compile(`\b(?i:mrn)[:#\s-]*[A-Za-z]*\d[A-Za-z0-9]*\b`),
			Placeholder: "[MRN]",
		},
		{
			Name:        RuleMRNNumeric,
			Pattern:     compile(`\b\d{10,12}\b`),
			Placeholder: "[MRN]",
		},
		{
			Name:        RuleName,
			Pattern:     compile(DefaultNamePattern),
			Placeholder: "[PATIENT_NAME]",
		},
	}
}

// NameRule builds the name rule from a custom expression.
func NameRule(expr string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("compiling name pattern: %w", err)
	}
	return Rule{Name: RuleName, Pattern: re, Placeholder: "[PATIENT_NAME]"}, nil
}

// FromSettings builds a Sanitizer from the default rules, replacing the name
// pattern when namePattern is set and dropping the name rule when
// detectNames is false.
func FromSettings(namePattern string, detectNames bool) (*Sanitizer, error) {
	s := Default()
	if !detectNames {
		return s.Without(RuleName), nil
	}
	if namePattern == "" || namePattern == DefaultNamePattern {
		return s, nil
	}
	return s.WithNamePattern(namePattern)
}
