package policy

import "strings"

// CrisisDetector flags messages that contain a configured crisis phrase.
type CrisisDetector struct {
	phrases []string
}

// NewCrisisDetector lower-cases phrases once and drops blanks.
func NewCrisisDetector(phrases []string) *CrisisDetector {
	return &CrisisDetector{phrases: normalizePhrases(phrases)}
}

// Detect reports whether message contains any crisis phrase, case-insensitively.
func (d *CrisisDetector) Detect(message string) bool {
	return containsAny(message, d.phrases)
}

// ConclusionDetector flags messages asking for a final summary or advice.
type ConclusionDetector struct {
	phrases []string
}

func NewConclusionDetector(phrases []string) *ConclusionDetector {
	return &ConclusionDetector{phrases: normalizePhrases(phrases)}
}

// WantsConclusion reports whether message requests a conclusion.
func (d *ConclusionDetector) WantsConclusion(message string) bool {
	return containsAny(message, d.phrases)
}

func normalizePhrases(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func containsAny(message string, phrases []string) bool {
	in := strings.ToLower(message)
	if strings.TrimSpace(in) == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(in, p) {
			return true
		}
	}
	return false
}
