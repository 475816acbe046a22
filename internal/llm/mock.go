package llm

import (
	"context"
	"strings"
)

// MockGenerator provides deterministic local replies when no provider is configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(prompt), nil
}

func buildMockReply(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "current summary:"):
		return "The user is sharing how they feel and exploring what is troubling them."
	case strings.Contains(lower, "current biography:"):
		return "No personal details known yet."
	case strings.Contains(lower, "on-topic") && strings.Contains(lower, "off-topic"):
		return "on-topic"
	}

	msg := prompt
	if i := strings.LastIndex(prompt, "USER MESSAGE:"); i >= 0 {
		msg = prompt[i+len("USER MESSAGE:"):]
		if j := strings.Index(msg, "\nASSISTANT:"); j >= 0 {
			msg = msg[:j]
		}
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "I am listening."
	}
	return "I hear you: " + msg + ". Tell me more about how that feels."
}
