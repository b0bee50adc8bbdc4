package keyword

import (
	"sort"
	"unicode/utf8"
)

var stopwords = wordSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"is", "are", "was", "were", "be", "been", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "this", "that", "these", "those", "i", "you", "he",
	"she", "it", "we", "they", "me", "him", "her", "us", "them", "my", "your", "his", "its",
	"our", "their", "not", "just", "from", "about", "what", "when", "where", "who", "how",
	"all", "can", "get", "got", "than", "then", "there", "here", "out", "more", "some", "into",
)

// SuggestKeywords returns the n most frequent non-stopword terms longer than two characters.
func SuggestKeywords(content string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, w := range tokenize(content) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}
