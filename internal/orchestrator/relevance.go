package orchestrator

import (
	"math"
	"time"
)

// Relevance bounds.
const (
	MinRelevance = 0.1
	MaxRelevance = 1.0
)

// Relevance scores a post from its keyword matches, total engagement, age and
// content length. The result is always within [MinRelevance, MaxRelevance].
func Relevance(matches int, engagement int64, age time.Duration, contentLength int) float64 {
	score := 0.1
	score += math.Min(0.4, float64(max(matches, 0))*0.1)
	score += math.Min(0.3, float64(max(engagement, 0))/1000)
	score += math.Max(0, 0.2-math.Max(age.Hours(), 0)/100)
	score += math.Min(0.1, float64(max(contentLength, 0))/2800)
	return math.Min(MaxRelevance, math.Max(MinRelevance, score))
}
