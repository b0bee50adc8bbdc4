package keyword

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Filter rule types.
const (
	FilterContains    = "contains"
	FilterNotContains = "not_contains"
	FilterRegex       = "regex"
	FilterMinLength   = "min_length"
	FilterMaxLength   = "max_length"
)

// FilterRule is one predicate content must satisfy.
type FilterRule struct {
	Type   string `json:"type" mapstructure:"type"`
	Value  string `json:"value,omitempty" mapstructure:"value"`
	Length int    `json:"length,omitempty" mapstructure:"length"`
}

// FilterContent reports whether content passes every rule. Text comparisons are
// case-insensitive. An invalid pattern or unknown rule type rejects the content.
func FilterContent(content string, rules []FilterRule) bool {
	lower := strings.ToLower(content)
	for _, rule := range rules {
		if !passes(content, lower, rule) {
			return false
		}
	}
	return true
}

func passes(content, lower string, rule FilterRule) bool {
	switch rule.Type {
	case FilterContains:
		return strings.Contains(lower, strings.ToLower(rule.Value))
	case FilterNotContains:
		return !strings.Contains(lower, strings.ToLower(rule.Value))
	case FilterRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	case FilterMinLength:
		return utf8.RuneCountInString(content) >= rule.Length
	case FilterMaxLength:
		return utf8.RuneCountInString(content) <= rule.Length
	}
	return false
}
