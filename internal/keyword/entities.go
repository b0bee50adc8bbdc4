package keyword

import (
	"regexp"
	"strings"
)

var (
	cryptoPattern  = regexp.MustCompile(`(?i)\b(BTC|ETH|USDT|USDC|BNB|XRP|ADA|SOL|DOGE|AVAX|DOT|MATIC|LINK|UNI|LTC|ALGO)\b`)
	addressPattern = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	urlPattern     = regexp.MustCompile(`https?://[^\s]+`)
	hashtagPattern = regexp.MustCompile(`#[a-zA-Z0-9_]+`)
	mentionPattern = regexp.MustCompile(`@[a-zA-Z0-9_]+`)
)

// Entities groups the structured tokens found in a post.
type Entities struct {
	Cryptocurrencies []string `json:"cryptocurrencies"`
	Addresses        []string `json:"addresses"`
	URLs             []string `json:"urls"`
	Hashtags         []string `json:"hashtags"`
	Mentions         []string `json:"mentions"`
}

// ExtractEntities pulls tickers, contract addresses, URLs, hashtags and mentions
// out of content. Each list is deduplicated in first-seen order.
func ExtractEntities(content string) Entities {
	tickers := cryptoPattern.FindAllString(content, -1)
	for i := range tickers {
		tickers[i] = strings.ToUpper(tickers[i])
	}
	return Entities{
		Cryptocurrencies: unique(tickers),
		Addresses:        unique(addressPattern.FindAllString(content, -1)),
		URLs:             unique(urlPattern.FindAllString(content, -1)),
		Hashtags:         unique(hashtagPattern.FindAllString(content, -1)),
		Mentions:         unique(mentionPattern.FindAllString(content, -1)),
	}
}

func unique(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
