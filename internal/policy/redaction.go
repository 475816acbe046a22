package policy

import "regexp"

// PIIKind names a category of personal data masked before archival.
type PIIKind string

const (
	PIIEmail PIIKind = "email"
	PIISSN   PIIKind = "ssn"
	PIICard  PIIKind = "card"
	PIIPhone PIIKind = "phone"
)

type piiRule struct {
	kind    PIIKind
	pattern *regexp.Regexp
}

// Order matters: SSN and card digits would otherwise be taken as phone numbers.
var piiRules = []piiRule{
	{PIIEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{PIICard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{PIIPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// Mask returns the placeholder that replaces a match of kind.
func (k PIIKind) Mask() string {
	switch k {
	case PIIEmail:
		return "[REDACTED_EMAIL]"
	case PIISSN:
		return "[REDACTED_SSN]"
	case PIICard:
		return "[REDACTED_CARD]"
	case PIIPhone:
		return "[REDACTED_PHONE]"
	default:
		return "[REDACTED]"
	}
}

// Redact masks personal data in text and reports which kinds were found,
// in rule order. found is nil when text is returned unchanged.
func Redact(text string) (masked string, found []PIIKind) {
	masked = text
	for _, rule := range piiRules {
		if !rule.pattern.MatchString(masked) {
			continue
		}
		masked = rule.pattern.ReplaceAllString(masked, rule.kind.Mask())
		found = append(found, rule.kind)
	}
	return masked, found
}
