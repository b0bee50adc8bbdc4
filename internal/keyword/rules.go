package keyword

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

const (
	exactConfidence = 1.0
	regexConfidence = 0.9
)

// MatchRule applies a keyword rule to content posted on platform.
// Inactive rules, rules targeting other platforms and content hitting an
// exclusion keyword all yield no matches.
func MatchRule(rule crawler.KeywordRule, content string, platform crawler.Platform) []Match {
	if !rule.Active || !rule.AppliesTo(platform) {
		return nil
	}
	if excluded(rule, content) {
		return nil
	}
	opts := Options{CaseSensitive: rule.CaseSensitive}
	switch rule.MatchType {
	case crawler.MatchAll:
		matches := MatchKeywords(content, rule.Keywords, opts)
		if len(matches) != countNonEmpty(rule.Keywords) {
			return nil
		}
		return matches
	case crawler.MatchExact:
		opts.WholeWords = true
		matches := MatchKeywords(content, rule.Keywords, opts)
		for i := range matches {
			matches[i].Confidence = exactConfidence
		}
		return matches
	case crawler.MatchRegex:
		return matchPatterns(content, rule.Keywords, rule.CaseSensitive)
	default:
		return MatchKeywords(content, rule.Keywords, opts)
	}
}

func excluded(rule crawler.KeywordRule, content string) bool {
	search := content
	if !rule.CaseSensitive {
		search = strings.ToLower(content)
	}
	for _, ex := range rule.ExcludeKeywords {
		if ex == "" {
			continue
		}
		if !rule.CaseSensitive {
			ex = strings.ToLower(ex)
		}
		if strings.Contains(search, ex) {
			return true
		}
	}
	return false
}

func matchPatterns(content string, patterns []string, caseSensitive bool) []Match {
	var matches []Match
	for _, p := range patterns {
		if p == "" {
			continue
		}
		expr := p
		if !caseSensitive {
			expr = "(?i)" + p
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		locs := re.FindAllStringIndex(content, -1)
		if len(locs) == 0 {
			continue
		}
		positions := make([]int, 0, len(locs))
		for _, loc := range locs {
			positions = append(positions, loc[0])
		}
		matches = append(matches, Match{
			Keyword:    p,
			Count:      len(positions),
			Positions:  positions,
			Confidence: regexConfidence,
		})
	}
	return matches
}

func countNonEmpty(values []string) int {
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// Vocabulary flattens rule keywords into a deduplicated search list, keeping
// the order of the rules as given.
func Vocabulary(rules []crawler.KeywordRule) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range rules {
		for _, kw := range r.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			key := strings.ToLower(kw)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}
