// Package rules resolves a category for free text from a user's ordered
// match rules. The first matching rule wins.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"finlens/internal/core"
)

// Compiled is the result of compiling one rule: either a usable matcher or
// the reason the pattern was rejected.
type Compiled struct {
	Rule  core.CategoryRule
	Err   error
	match func(original, lowered string) bool
}

// Valid reports whether the rule compiled to a matcher.
func (c Compiled) Valid() bool {
	return c.Err == nil && c.match != nil
}

// Match runs the compiled rule. Invalid rules never match.
func (c Compiled) Match(original, lowered string) bool {
	if !c.Valid() {
		return false
	}
	return c.match(original, lowered)
}

// Compile turns a rule into a matcher. Regex patterns are case-insensitive and
// see the original text; literal patterns are lowercased substrings.
func Compile(r core.CategoryRule) Compiled {
	if r.Pattern == "" {
		return Compiled{Rule: r, Err: core.ErrEmptyPattern}
	}
	if r.IsRegex {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return Compiled{Rule: r, Err: fmt.Errorf("%w: %v", core.ErrInvalidPattern, err)}
		}
		return Compiled{Rule: r, match: func(original, _ string) bool {
			return re.MatchString(original)
		}}
	}
	needle := strings.ToLower(r.Pattern)
	return Compiled{Rule: r, match: func(_, lowered string) bool {
		return strings.Contains(lowered, needle)
	}}
}

// Validate reports a pattern problem without touching storage.
func Validate(r core.CategoryRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return Compile(r).Err
}

// Order sorts a copy of rules by priority, then creation time. Rules equal on
// both keep their input order.
func Order(rules []core.CategoryRule) []core.CategoryRule {
	out := append([]core.CategoryRule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resolve returns the first rule matching text. Blank text never matches and
// rules that fail to compile are skipped; skipped rules are reported through
// the returned slice so callers can log them.
func Resolve(rules []core.CategoryRule, text string) (match core.CategoryRule, ok bool, skipped []Compiled) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return core.CategoryRule{}, false, nil
	}
	for _, r := range Order(rules) {
		if r.Pattern == "" {
			continue
		}
		c := Compile(r)
		if !c.Valid() {
			skipped = append(skipped, c)
			continue
		}
		if c.Match(text, lowered) {
			return r, true, skipped
		}
	}
	return core.CategoryRule{}, false, skipped
}
