package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValuePlaceholder is replaced in write-value templates by the written value.
const ValuePlaceholder = "{$value}"

// FilterKind selects a ValueFilter variant.
type FilterKind string

// Supported filter kinds.
const (
	FilterRegex     FilterKind = "regex"
	FilterSubstring FilterKind = "substring"
)

// ValueFilter extracts part of an inbound message.
type ValueFilter struct {
	Kind FilterKind `yaml:"kind" toml:"kind" json:"kind"`

	// Regex: the capture group of the n-th match (MatchIndex) is kept.
	Pattern    string `yaml:"pattern" toml:"pattern" json:"pattern,omitempty"`
	MatchGroup int    `yaml:"match_group" toml:"match_group" json:"match_group,omitempty"`
	MatchIndex int    `yaml:"match_index" toml:"match_index" json:"match_index,omitempty"`

	// Substring: characters [Begin, End); End 0 means to the end of the
	// message.
	Begin int `yaml:"begin" toml:"begin" json:"begin,omitempty"`
	End   int `yaml:"end" toml:"end" json:"end,omitempty"`

	re *regexp.Regexp
}

// Compile validates the filter and prepares its regex.
func (f *ValueFilter) Compile() error {
	switch f.Kind {
	case FilterRegex:
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("%w: value filter regex: %w", ErrConfiguration, err)
		}
		if f.MatchGroup < 0 || f.MatchGroup > re.NumSubexp() {
			return fmt.Errorf("%w: value filter match group %d out of range", ErrConfiguration, f.MatchGroup)
		}
		if f.MatchIndex < 0 {
			return fmt.Errorf("%w: value filter match index %d", ErrConfiguration, f.MatchIndex)
		}
		f.re = re
	case FilterSubstring:
		if f.Begin < 0 || f.End < 0 || (f.End > 0 && f.End < f.Begin) {
			return fmt.Errorf("%w: substring filter [%d,%d)", ErrConfiguration, f.Begin, f.End)
		}
	default:
		return fmt.Errorf("%w: unknown value filter %q", ErrConfiguration, f.Kind)
	}
	return nil
}

// Apply returns the filtered string, or false when the filter does not match.
func (f *ValueFilter) Apply(s string) (string, bool) {
	switch f.Kind {
	case FilterRegex:
		if f.re == nil {
			if err := f.Compile(); err != nil {
				return "", false
			}
		}
		matches := f.re.FindAllStringSubmatch(s, f.MatchIndex+1)
		if len(matches) <= f.MatchIndex {
			return "", false
		}
		return matches[f.MatchIndex][f.MatchGroup], true
	case FilterSubstring:
		runes := []rune(s)
		if f.Begin > len(runes) {
			return "", false
		}
		end := len(runes)
		if f.End > 0 && f.End < end {
			end = f.End
		}
		return string(runes[f.Begin:end]), true
	}
	return "", false
}

// inboundValue turns a decoded message into an attribute value: filters
// first, then the value converter. A filter miss yields nil.
func inboundValue(meta LinkMeta, msg string) any {
	s, ok := applyFilters(meta.ValueFilters, msg)
	if !ok {
		return nil
	}
	if v, ok := lookupConverter(meta.ValueConverter, s); ok {
		return v
	}
	return s
}

// applyFilters runs filters in order; false when one of them misses.
func applyFilters(filters []ValueFilter, msg string) (string, bool) {
	s := msg
	for i := range filters {
		out, ok := filters[i].Apply(s)
		if !ok {
			return "", false
		}
		s = out
	}
	return s, true
}

// outboundMessage builds the message sent for a write of value.
func outboundMessage(meta LinkMeta, value any) string {
	if v, ok := lookupConverter(meta.WriteValueConverter, valueString(value)); ok {
		value = v
	}
	if meta.WriteValue == "" {
		return valueString(value)
	}
	if !strings.Contains(meta.WriteValue, ValuePlaceholder) {
		return meta.WriteValue
	}
	return strings.ReplaceAll(meta.WriteValue, ValuePlaceholder, valueString(value))
}

// lookupConverter finds key in m, exactly first and then case-insensitively.
func lookupConverter(m map[string]any, key string) (any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// valueString renders an attribute value for the wire.
func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
