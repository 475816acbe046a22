package dialogue

import (
	"context"
	"strings"
)

// Generator is the single-shot text generation capability the pipeline calls.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Assemble builds the model input for one turn. It is pure.
func Assemble(summary, biography, message, instruction string) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nCONTEXT SUMMARY:\n")
	b.WriteString(summary)
	b.WriteString("\n\nUSER BIOGRAPHY:\n")
	b.WriteString(biography)
	b.WriteString("\n\nUSER MESSAGE: ")
	b.WriteString(message)
	b.WriteString("\nASSISTANT:")
	return b.String()
}

// ShouldRedirect reports whether the turn gets off-topic steering.
func ShouldRedirect(label Label, wantsConclusion bool) bool {
	return label == LabelOffTopic && !wantsConclusion
}

// SelectInstruction returns base, extended with directive when the turn
// should be steered back on topic.
func SelectInstruction(base, directive string, label Label, wantsConclusion bool) string {
	if !ShouldRedirect(label, wantsConclusion) || strings.TrimSpace(directive) == "" {
		return base
	}
	return base + " " + directive
}
