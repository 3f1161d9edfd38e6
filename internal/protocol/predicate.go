package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how a StringPredicate compares.
type MatchKind string

// Supported match kinds.
const (
	MatchEquals   MatchKind = "equals"
	MatchBegins   MatchKind = "begins"
	MatchEnds     MatchKind = "ends"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
)

// StringPredicate tests decoded messages.
type StringPredicate struct {
	Match         MatchKind `yaml:"match" toml:"match" json:"match"`
	Value         string    `yaml:"value" toml:"value" json:"value"`
	CaseSensitive bool      `yaml:"case_sensitive" toml:"case_sensitive" json:"case_sensitive"`
	Negate        bool      `yaml:"negate" toml:"negate" json:"negate"`

	re *regexp.Regexp
}

// Compile validates the predicate and prepares a regex match.
func (p *StringPredicate) Compile() error {
	switch p.Match {
	case "", MatchEquals, MatchBegins, MatchEnds, MatchContains:
		return nil
	case MatchRegex:
		pattern := p.Value
		if !p.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: message match regex: %w", ErrConfiguration, err)
		}
		p.re = re
		return nil
	default:
		return fmt.Errorf("%w: unknown message match %q", ErrConfiguration, p.Match)
	}
}

// Matches reports whether msg satisfies the predicate.
func (p *StringPredicate) Matches(msg string) bool {
	return p.matches(msg) != p.Negate
}

func (p *StringPredicate) matches(msg string) bool {
	if p.Match == MatchRegex {
		if p.re == nil {
			if err := p.Compile(); err != nil {
				return false
			}
		}
		return p.re.MatchString(msg)
	}

	value := p.Value
	if !p.CaseSensitive {
		msg = strings.ToLower(msg)
		value = strings.ToLower(value)
	}
	switch p.Match {
	case MatchBegins:
		return strings.HasPrefix(msg, value)
	case MatchEnds:
		return strings.HasSuffix(msg, value)
	case MatchContains:
		return strings.Contains(msg, value)
	default:
		return msg == value
	}
}

// messageMatcher builds the matcher of a link. The message match filters
// run first and the predicate tests what they leave; a filter miss is no
// match. A link without a predicate has no matcher.
func messageMatcher(meta LinkMeta) MessageMatcher {
	if meta.MessageMatch == nil {
		return nil
	}
	p, filters := meta.MessageMatch, meta.MessageMatchFilters
	return func(msg string) bool {
		s, ok := applyFilters(filters, msg)
		return ok && p.Matches(s)
	}
}
