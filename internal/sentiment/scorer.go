package sentiment

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Scorer maps text to a polarity in [-1, 1].
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// Config selects and configures a Scorer.
type Config struct {
	Provider     string
	OpenAIAPIKey string `masq:"secret"`
	Model        string
}

// New returns the scorer named by cfg.Provider: lexicon (default, VADER),
// openai or mock.
func New(cfg Config) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "lexicon", "vader":
		return NewVaderScorer(), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, goerr.New("openai sentiment scorer requires an API key")
		}
		return NewOpenAIScorer(cfg.OpenAIAPIKey, cfg.Model), nil
	case "mock":
		return StaticScorer(0), nil
	default:
		return nil, goerr.New("unsupported sentiment provider", goerr.V("provider", cfg.Provider))
	}
}

// IsDepressed reports whether score falls strictly below threshold.
func IsDepressed(score, threshold float64) bool {
	return score < threshold
}

// Clamp bounds v to [-1, 1].
func Clamp(v float64) float64 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	default:
		return v
	}
}

// StaticScorer always returns the same polarity.
type StaticScorer float64

func (s StaticScorer) Score(context.Context, string) (float64, error) {
	return Clamp(float64(s)), nil
}
