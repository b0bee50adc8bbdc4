package keyword

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Sentiment strategy names.
const (
	StrategyLexicon  = "lexicon"
	StrategyAnalyzer = "analyzer"
)

// Sentiment labels.
const (
	LabelVeryPositive = "very_positive"
	LabelPositive     = "positive"
	LabelNeutral      = "neutral"
	LabelNegative     = "negative"
	LabelVeryNegative = "very_negative"
)

var wordPattern = regexp.MustCompile(`[\p{L}'-]+`)

// Sentiment is the outcome of scoring one piece of content.
type Sentiment struct {
	Strategy   string  `json:"strategy"`
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Positive   int     `json:"positive_words"`
	Negative   int     `json:"negative_words"`
	TotalWords int     `json:"total_words"`
}

// IsPositive reports a clearly positive score.
func (s Sentiment) IsPositive() bool { return s.Score > 0.3 }

// IsNegative reports a clearly negative score.
func (s Sentiment) IsNegative() bool { return s.Score < -0.3 }

// SentimentStrategy scores content against a word lexicon.
type SentimentStrategy interface {
	Name() string
	Analyze(content string) Sentiment
}

// lexiconStrategy is the market-oriented word list normalized per ten words.
type lexiconStrategy struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// analyzerStrategy is the broader word list normalized by total words.
type analyzerStrategy struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewSentimentStrategy resolves a strategy by name. An empty name selects the analyzer.
func NewSentimentStrategy(name string) (SentimentStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyAnalyzer:
		return analyzerStrategy{
			positive: wordSet("good", "great", "excellent", "amazing", "awesome", "fantastic", "love",
				"like", "best", "perfect", "wonderful", "brilliant", "outstanding",
				"bullish", "moon", "pump", "gains", "profit", "win", "success"),
			negative: wordSet("bad", "terrible", "awful", "hate", "worst", "horrible", "disgusting",
				"disappointing", "failed", "broken", "useless", "bearish", "crash",
				"dump", "loss", "scam", "hack", "exploit", "rugpull", "rug", "dead"),
		}, nil
	case StrategyLexicon:
		return lexiconStrategy{
			positive: wordSet("good", "great", "excellent", "amazing", "awesome", "bullish", "moon", "pump",
				"gain", "profit", "up", "rise", "surge", "breakout", "hodl", "buy", "long"),
			negative: wordSet("bad", "terrible", "awful", "bearish", "dump", "crash", "loss", "down",
				"fall", "drop", "sell", "short", "fud", "scam", "rug", "hack", "exploit"),
		}, nil
	}
	return nil, fmt.Errorf("unknown sentiment strategy %q", name)
}

// CalculateSentiment scores content with the default strategy.
func CalculateSentiment(content string) float64 {
	s, _ := NewSentimentStrategy(StrategyAnalyzer)
	return s.Analyze(content).Score
}

func (lexiconStrategy) Name() string { return StrategyLexicon }

func (l lexiconStrategy) Analyze(content string) Sentiment {
	words := tokenize(content)
	pos, neg := countPolarity(words, l.positive, l.negative)
	out := Sentiment{Strategy: StrategyLexicon, Positive: pos, Negative: neg, TotalWords: len(words)}
	if pos+neg == 0 {
		out.Label = LabelNeutral
		return out
	}
	score := float64(pos-neg) / math.Max(1, float64(len(words))/10)
	out.Score = clamp(score, -1, 1)
	out.Label = label(out.Score)
	return out
}

func (analyzerStrategy) Name() string { return StrategyAnalyzer }

func (a analyzerStrategy) Analyze(content string) Sentiment {
	words := tokenize(content)
	pos, neg := countPolarity(words, a.positive, a.negative)
	out := Sentiment{Strategy: StrategyAnalyzer, Positive: pos, Negative: neg, TotalWords: len(words)}
	if len(words) > 0 {
		score := clamp(float64(pos-neg)/float64(len(words)), -1, 1)
		out.Score = math.Round(score*100) / 100
	}
	out.Label = label(out.Score)
	return out
}

func label(score float64) string {
	switch {
	case math.Abs(score) < 0.1:
		return LabelNeutral
	case score > 0.5:
		return LabelVeryPositive
	case score > 0.1:
		return LabelPositive
	case score < -0.5:
		return LabelVeryNegative
	case score < -0.1:
		return LabelNegative
	}
	return LabelNeutral
}

func tokenize(content string) []string {
	return wordPattern.FindAllString(strings.ToLower(content), -1)
}

func countPolarity(words []string, positive, negative map[string]struct{}) (int, int) {
	var pos, neg int
	for _, w := range words {
		if _, ok := positive[w]; ok {
			pos++
		} else if _, ok := negative[w]; ok {
			neg++
		}
	}
	return pos, neg
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
