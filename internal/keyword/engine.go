// Package keyword implements keyword matching, entity extraction, sentiment
// scoring and content filtering. Every function is pure and safe for concurrent use.
package keyword

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Options tunes MatchKeywords.
type Options struct {
	CaseSensitive bool
	WholeWords    bool
}

// Match is one keyword found in a piece of content.
type Match struct {
	Keyword    string  `json:"keyword"`
	Count      int     `json:"count"`
	Positions  []int   `json:"positions"`
	Confidence float64 `json:"confidence"`
}

// MatchKeywords counts each keyword in content and scores the confidence of the hit.
// Keywords with no occurrences are omitted. Positions are byte offsets.
func MatchKeywords(content string, keywords []string, opts Options) []Match {
	search := content
	if !opts.CaseSensitive {
		search = strings.ToLower(content)
	}
	var matches []Match
	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		needle := kw
		if !opts.CaseSensitive {
			needle = strings.ToLower(kw)
		}
		var positions []int
		if opts.WholeWords {
			positions = wordPositions(search, needle)
		} else {
			positions = substringPositions(search, needle)
		}
		if len(positions) == 0 {
			continue
		}
		matches = append(matches, Match{
			Keyword:    kw,
			Count:      len(positions),
			Positions:  positions,
			Confidence: Confidence(kw, content, len(positions)),
		})
	}
	return matches
}

// Confidence scores a keyword hit from its density, length and word-boundary fit.
func Confidence(keyword, content string, count int) float64 {
	contentLen := float64(utf8.RuneCountInString(content))
	frequency := float64(count) / math.Max(1, contentLen/100)
	score := math.Min(0.8, frequency*0.2)
	score += math.Min(0.2, float64(utf8.RuneCountInString(keyword))/50)
	if boundaryRegexp(keyword, false).MatchString(content) {
		score += 0.1
	}
	return clamp(score, 0, 1)
}

func substringPositions(content, needle string) []int {
	var positions []int
	offset := 0
	for offset <= len(content) {
		idx := strings.Index(content[offset:], needle)
		if idx < 0 {
			break
		}
		positions = append(positions, offset+idx)
		offset += idx + 1
	}
	return positions
}

func wordPositions(content, needle string) []int {
	locs := boundaryRegexp(needle, true).FindAllStringIndex(content, -1)
	positions := make([]int, 0, len(locs))
	for _, loc := range locs {
		positions = append(positions, loc[0])
	}
	return positions
}

func boundaryRegexp(keyword string, caseSensitive bool) *regexp.Regexp {
	expr := `\b` + regexp.QuoteMeta(keyword) + `\b`
	if !caseSensitive {
		expr = `(?i)` + expr
	}
	return regexp.MustCompile(expr)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
