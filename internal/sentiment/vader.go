package sentiment

import (
	"context"
	"strings"
	"sync"

	"github.com/jonreiter/govader"
)

// The analyzer parses its bundled lexicon on construction and is read-only
// afterwards, so one instance is shared by every scorer.
var sharedAnalyzer = sync.OnceValue(govader.NewSentimentIntensityAnalyzer)

// VaderScorer scores text locally with the VADER lexicon. The compound
// score is already normalized to [-1, 1].
type VaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderScorer() *VaderScorer {
	return &VaderScorer{analyzer: sharedAnalyzer()}
}

func (s *VaderScorer) Score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	return Clamp(s.analyzer.PolarityScores(text).Compound), nil
}
