package keyword

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		keywords []string
		opts     Options
		want     []Match
	}{
		{
			name:     "substring is case-insensitive by default",
			content:  "eth ethereum ETH",
			keywords: []string{"eth"},
			want:     []Match{{Keyword: "eth", Count: 3, Positions: []int{0, 4, 13}}},
		},
		{
			name:     "whole words skip embedded hits",
			content:  "eth ethereum ETH",
			keywords: []string{"eth"},
			opts:     Options{WholeWords: true},
			want:     []Match{{Keyword: "eth", Count: 2, Positions: []int{0, 13}}},
		},
		{
			name:     "case sensitive",
			content:  "ETH and eth",
			keywords: []string{"eth"},
			opts:     Options{CaseSensitive: true},
			want:     []Match{{Keyword: "eth", Count: 1, Positions: []int{8}}},
		},
		{
			name:     "misses and blanks are omitted",
			content:  "nothing to see",
			keywords: []string{"", "solana"},
			want:     nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := MatchKeywords(tc.content, tc.keywords, tc.opts)
			if diff := cmp.Diff(tc.want, got, cmpopts.IgnoreFields(Match{}, "Confidence")); diff != "" {
				t.Errorf("MatchKeywords() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	matches := MatchKeywords("DeFi hack drains $2M from protocol", []string{"defi hack"}, Options{})
	require.Len(t, matches, 1)
	// density 0.2 + length 9/50 + boundary 0.1
	assert.InDelta(t, 0.48, matches[0].Confidence, 1e-9)

	// An embedded hit earns no boundary bonus.
	assert.InDelta(t, 0.2+0.06, Confidence("eth", "ethereum", 1), 1e-9)

	// Dense short content saturates at 1.
	assert.InDelta(t, 1.0, Confidence("abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrstuvwxyz", 10), 1e-9)
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	addr := "0x1234567890abcdef1234567890abcdef12345678"
	content := "Buying btc and ETH at https://x.io/a now #crypto @alice #crypto " + addr

	got := ExtractEntities(content)
	want := Entities{
		Cryptocurrencies: []string{"BTC", "ETH"},
		Addresses:        []string{addr},
		URLs:             []string{"https://x.io/a"},
		Hashtags:         []string{"#crypto"},
		Mentions:         []string{"@alice"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractEntities() mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestKeywords(t *testing.T) {
	t.Parallel()

	content := "bitcoin bitcoin ethereum the the and solana ethereum bitcoin"
	assert.Equal(t, []string{"bitcoin", "ethereum"}, SuggestKeywords(content, 2))
	assert.Nil(t, SuggestKeywords(content, 0))
}
