// Package blacklist suppresses candidate addresses that match operator
// supplied regular expressions.
package blacklist

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/cl3t4p/ip-notifier/internal/metrics"
)

// Rule is the compile result for one configured pattern. Exactly one of
// re or Err is set for non-empty patterns; empty patterns have neither.
type Rule struct {
	Index   int
	Pattern string
	Err     error
	re      *regexp.Regexp
}

// Valid reports whether the rule can take part in matching.
func (r Rule) Valid() bool {
	return r.re != nil
}

// PatternError describes a pattern that failed to compile.
type PatternError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid blacklist pattern %d %q: %v", e.Index, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Compile compiles every pattern in order. It never fails as a whole.
func Compile(patterns []string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for i, pattern := range patterns {
		rule := Rule{Index: i, Pattern: pattern}
		if pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				rule.Err = &PatternError{Index: i, Pattern: pattern, Err: err}
			} else {
				rule.re = re
			}
		}
		rules = append(rules, rule)
	}
	return rules
}

// Filter evaluates compiled rules with first-match semantics.
type Filter struct {
	rules  []Rule
	logger *slog.Logger
}

// NewFilter compiles patterns and reports the invalid ones once.
func NewFilter(patterns []string, logger *slog.Logger) *Filter {
	f := &Filter{
		rules:  Compile(patterns),
		logger: logger.With("component", "blacklist"),
	}
	invalid := 0
	for _, rule := range f.rules {
		if rule.Err != nil {
			invalid++
			f.logger.Warn("skipping invalid blacklist pattern",
				"index", rule.Index,
				"pattern", rule.Pattern,
				"error", rule.Err,
			)
		}
	}
	metrics.BlacklistInvalidPatterns.Set(float64(invalid))
	return f
}

// Rules returns the compiled rules in evaluation order.
func (f *Filter) Rules() []Rule {
	return f.rules
}

// Match returns the first rule matching candidate.
func (f *Filter) Match(candidate string) (Rule, bool) {
	return Match(candidate, f.rules)
}

// Matches reports whether any rule matches candidate.
func (f *Filter) Matches(candidate string) bool {
	_, ok := f.Match(candidate)
	return ok
}

// Match walks rules in order, skipping empty and invalid entries, and stops
// at the first match.
func Match(candidate string, rules []Rule) (Rule, bool) {
	for _, rule := range rules {
		if !rule.Valid() {
			continue
		}
		if rule.re.MatchString(candidate) {
			return rule, true
		}
	}
	return Rule{}, false
}
