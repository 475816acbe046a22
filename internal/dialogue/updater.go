package dialogue

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrEmptyUpdate is returned when the model produced no usable artifact.
var ErrEmptyUpdate = errors.New("memory update produced empty text")

// Artifact names a rolling memory artifact.
type Artifact string

const (
	ArtifactSummary   Artifact = "summary"
	ArtifactBiography Artifact = "biography"
)

// Updater folds the most recent turns into a rolling memory artifact.
type Updater struct {
	artifact Artifact
	gen      Generator
	window   int
}

func NewSummaryUpdater(gen Generator, window int) *Updater {
	return &Updater{artifact: ArtifactSummary, gen: gen, window: window}
}

func NewBiographyUpdater(gen Generator, window int) *Updater {
	return &Updater{artifact: ArtifactBiography, gen: gen, window: window}
}

func (u *Updater) Artifact() Artifact { return u.artifact }

// Update returns the replacement artifact. On error the caller keeps current.
func (u *Updater) Update(ctx context.Context, current string, history []Turn) (string, error) {
	prompt := u.Prompt(current, history)
	out, err := u.gen.Generate(ctx, prompt)
	if err != nil {
		return "", goerr.Wrap(err, "memory update failed", goerr.V("artifact", u.artifact))
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", goerr.Wrap(ErrEmptyUpdate, "memory update failed", goerr.V("artifact", u.artifact))
	}
	return out, nil
}

// Prompt builds the update prompt over the trailing window of history.
func (u *Updater) Prompt(current string, history []Turn) string {
	var b strings.Builder
	switch u.artifact {
	case ArtifactBiography:
		b.WriteString("You are maintaining a concise 'user biography' that stores factual details the user shares about themselves: ")
		b.WriteString("This includes their situation, triggers, coping strategies, what helps or doesn't help, any mention of friends, family, or resources they've tried. ")
		b.WriteString("Do not include emotional reflections, just factual info. Update the biography below with any new factual details.\n\n")
		b.WriteString("Current Biography: ")
	default:
		b.WriteString("Update the following summary of the conversation so far, focusing on the user's emotional state, ")
		b.WriteString("primary concerns, goals, and any progress or guidance provided.\n\n")
		b.WriteString("Current Summary: ")
	}
	b.WriteString(current)
	b.WriteString("\n\nRecent Turns:\n")
	for _, t := range Window(history, u.window) {
		b.WriteString("User: ")
		b.WriteString(t.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Assistant)
		b.WriteString("\n")
	}
	switch u.artifact {
	case ArtifactBiography:
		b.WriteString("\nUpdate the biography above based on these recent turns. Keep it factual and concise.")
	default:
		b.WriteString("\nUpdate the summary above based on these recent turns, keeping it concise, clear, and focused on emotional aspects.")
	}
	return b.String()
}

// Window returns at most n of the most recent turns.
func Window(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
