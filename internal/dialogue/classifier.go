package dialogue

import (
	"context"
	"strings"
)

// Label is a topic classification.
type Label string

const (
	LabelOnTopic  Label = "on-topic"
	LabelOffTopic Label = "off-topic"
)

// Classification is either a recognized Label or the raw text the model
// returned when it did not match one.
type Classification struct {
	Label        Label
	Unrecognized bool
	Raw          string
}

// Resolve applies the fail-open policy: anything unrecognized is on-topic.
func (c Classification) Resolve() Label {
	if c.Unrecognized || c.Label == "" {
		return LabelOnTopic
	}
	return c.Label
}

// ParseLabel trims and lower-cases a model reply. Only an exact label match
// is recognized; quoted or punctuated labels are not.
func ParseLabel(raw string) Classification {
	norm := strings.ToLower(strings.TrimSpace(raw))
	switch Label(norm) {
	case LabelOnTopic, LabelOffTopic:
		return Classification{Label: Label(norm), Raw: raw}
	default:
		return Classification{Unrecognized: true, Raw: raw}
	}
}

// ClassificationPrompt builds the constrained labeling instruction for message.
func ClassificationPrompt(message string) string {
	return "You are a classifier. The user message will be given, and you must respond with one label: 'on-topic' or 'off-topic'. " +
		"Consider 'on-topic' if the user message relates to emotions, mental health, feelings, or their personal struggles. " +
		"Consider 'off-topic' if the user message is unrelated to emotional well-being.\n\n" +
		"User Message: " + message + "\nRespond with only 'on-topic' or 'off-topic'."
}

// TopicClassifier labels a message as on-topic or off-topic with one model call.
type TopicClassifier struct {
	gen Generator
}

func NewTopicClassifier(gen Generator) *TopicClassifier {
	return &TopicClassifier{gen: gen}
}

// Classify returns the parsed label. It never retries; a transport error is
// returned as-is and the caller decides the fallback.
func (c *TopicClassifier) Classify(ctx context.Context, message string) (Classification, error) {
	out, err := c.gen.Generate(ctx, ClassificationPrompt(message))
	if err != nil {
		return Classification{Unrecognized: true}, err
	}
	return ParseLabel(out), nil
}
