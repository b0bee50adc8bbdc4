package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzerStrategy(t *testing.T) {
	t.Parallel()

	s, err := NewSentimentStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAnalyzer, s.Name())

	tests := []struct {
		content string
		score   float64
		label   string
	}{
		{"DeFi hack drains $2M", -0.25, LabelNegative},
		{"great great profit", 1, LabelVeryPositive},
		{"love it", 0.5, LabelPositive},
		{"", 0, LabelNeutral},
		{"the market opened today at nine", 0, LabelNeutral},
	}
	for _, tc := range tests {
		got := s.Analyze(tc.content)
		assert.InDelta(t, tc.score, got.Score, 1e-9, tc.content)
		assert.Equal(t, tc.label, got.Label, tc.content)
	}
}

func TestLexiconStrategy(t *testing.T) {
	t.Parallel()

	s, err := NewSentimentStrategy(StrategyLexicon)
	require.NoError(t, err)

	bull := s.Analyze("bullish breakout, buy now")
	assert.Equal(t, 3, bull.Positive)
	assert.InDelta(t, 1.0, bull.Score, 1e-9)
	assert.True(t, bull.IsPositive())

	bear := s.Analyze("market is down")
	assert.InDelta(t, -1.0, bear.Score, 1e-9)
	assert.Equal(t, LabelVeryNegative, bear.Label)
	assert.True(t, bear.IsNegative())

	flat := s.Analyze("weekly governance call notes")
	assert.Zero(t, flat.Score)
	assert.Equal(t, LabelNeutral, flat.Label)
}

func TestStrategiesDiverge(t *testing.T) {
	t.Parallel()

	lex, err := NewSentimentStrategy(StrategyLexicon)
	require.NoError(t, err)
	ana, err := NewSentimentStrategy(StrategyAnalyzer)
	require.NoError(t, err)

	// "up" is only in the lexicon list and "love" only in the analyzer list.
	assert.Positive(t, lex.Analyze("prices up").Score)
	assert.Zero(t, ana.Analyze("prices up").Score)
	assert.Zero(t, lex.Analyze("love this").Score)
	assert.Positive(t, ana.Analyze("love this").Score)
}

func TestUnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := NewSentimentStrategy("vader")
	assert.Error(t, err)
	assert.InDelta(t, 0.5, CalculateSentiment("love it"), 1e-9)
}
