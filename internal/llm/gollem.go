package llm

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

type contentSession interface {
	GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

// GollemGenerator runs each prompt in a fresh gollem session so no
// conversation state leaks between calls.
type GollemGenerator struct {
	provider   string
	timeout    time.Duration
	newSession func(ctx context.Context) (contentSession, error)
}

func NewGollemGenerator(client gollem.LLMClient, provider string, timeout time.Duration) *GollemGenerator {
	return &GollemGenerator{
		provider: provider,
		timeout:  timeout,
		newSession: func(ctx context.Context) (contentSession, error) {
			s, err := client.NewSession(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

func (g *GollemGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	session, err := g.newSession(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session", goerr.V("provider", g.provider))
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("provider", g.provider))
	}
	if resp == nil {
		return "", goerr.New("empty LLM response", goerr.V("provider", g.provider))
	}
	return strings.TrimSpace(strings.Join(resp.Texts, "")), nil
}
