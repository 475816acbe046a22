package config

import (
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// ResourceLinks are the fixed support references surfaced to the user.
type ResourceLinks struct {
	GeneralSupport             string `toml:"general_support"`
	TherapyLocator             string `toml:"therapy_locator"`
	CrisisHotlineUSA           string `toml:"crisis_hotline_usa"`
	CrisisHotlineInternational string `toml:"crisis_hotline_international"`
}

// Dialogue is the fixed reference data that shapes every turn.
type Dialogue struct {
	CrisisPhrases       []string      `toml:"crisis_phrases"`
	ConclusionPhrases   []string      `toml:"conclusion_phrases"`
	ResourceLinks       ResourceLinks `toml:"resource_links"`
	DepressionThreshold float64       `toml:"depression_threshold"`
	MemoryWindowSize    int           `toml:"memory_window_size"`

	BaseInstruction      string `toml:"base_instruction"`
	OffTopicDirective    string `toml:"off_topic_directive"`
	OffTopicRedirectText string `toml:"off_topic_redirect_text"`
	ResourceClosingLine  string `toml:"resource_closing_line"`
	CrisisReply          string `toml:"crisis_reply"`
	Disclaimer           string `toml:"disclaimer"`

	InitialSummary   string `toml:"initial_summary"`
	InitialBiography string `toml:"initial_biography"`
}

// DefaultDialogue returns the built-in dialogue configuration.
func DefaultDialogue() Dialogue {
	links := ResourceLinks{
		GeneralSupport:             "https://www.mentalhealth.gov/",
		TherapyLocator:             "https://www.apa.org/helpcenter/find-therapist",
		CrisisHotlineUSA:           "https://988lifeline.org/ (USA)",
		CrisisHotlineInternational: "https://www.iasp.info/resources/Crisis_Centres/",
	}
	return Dialogue{
		CrisisPhrases:       []string{"suicide", "kill myself", "end my life", "not worth living", "overdose"},
		ConclusionPhrases:   []string{"final result", "conclusion", "summary", "sum up", "end advice", "final advice"},
		ResourceLinks:       links,
		DepressionThreshold: -0.5,
		MemoryWindowSize:    4,
		BaseInstruction: "You are a highly supportive and empathetic mental health chatbot with advanced reasoning capabilities. " +
			"You have memory of the conversation and user details through provided summaries. You are not a " +
			"professional therapist, but you can offer empathy, understanding, and direct users to reputable resources. " +
			"You encourage seeking professional help when appropriate, never give medical diagnoses, and handle crisis " +
			"situations by providing immediate hotline resources. If the user is off-topic, gently steer them back to " +
			"discussing their feelings. If the user requests a final conclusion, provide a comprehensive summary of the " +
			"situation and helpful next steps.",
		OffTopicDirective: "The user seems to be discussing something unrelated to their emotional well-being. " +
			"Gently remind them of your purpose in supporting their mental health and encourage them to talk " +
			"about their feelings or what's troubling them.",
		OffTopicRedirectText: "It seems we've drifted off from your feelings. I'm here to help and support you emotionally. " +
			"What's on your mind emotionally? Is there something troubling you or affecting how you feel?",
		ResourceClosingLine: "Remember, you deserve compassion and understanding.",
		CrisisReply:         defaultCrisisReply(links),
		Disclaimer: "I am not a licensed professional. If you're feeling overwhelmed or in crisis, please reach out to " +
			"a mental health professional or call your local emergency number.",
		InitialSummary:   "The user has just started sharing. No significant details yet.",
		InitialBiography: "No personal details known yet.",
	}
}

func defaultCrisisReply(links ResourceLinks) string {
	return "I'm so sorry you're feeling this way. You're not alone. If you're " +
		"thinking about suicide or harming yourself, please consider reaching out immediately. In the US, " +
		"you can call or text 988 or visit 988lifeline.org for immediate support. Internationally, find " +
		"resources here: " + links.CrisisHotlineInternational + ". Your life matters."
}

// LoadDialogue overlays a TOML file on top of DefaultDialogue.
func LoadDialogue(path string) (Dialogue, error) {
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return Dialogue{}, goerr.Wrap(err, "failed to read dialogue config", goerr.V("path", path))
	}
	return ParseDialogue(data)
}

// ParseDialogue overlays TOML data on top of DefaultDialogue and validates the result.
func ParseDialogue(data []byte) (Dialogue, error) {
	d := DefaultDialogue()
	d.CrisisReply = ""

	if err := toml.Unmarshal(data, &d); err != nil {
		return Dialogue{}, goerr.Wrap(err, "failed to parse dialogue config")
	}
	if strings.TrimSpace(d.CrisisReply) == "" {
		d.CrisisReply = defaultCrisisReply(d.ResourceLinks)
	}

	if err := d.Validate(); err != nil {
		return Dialogue{}, err
	}
	return d, nil
}

// Validate checks the dialogue configuration set.
func (d Dialogue) Validate() error {
	if d.DepressionThreshold < -1 || d.DepressionThreshold > 1 {
		return goerr.New("depression_threshold must be within [-1, 1]", goerr.V("value", d.DepressionThreshold))
	}
	if d.MemoryWindowSize < 1 {
		return goerr.New("memory_window_size must be at least 1", goerr.V("value", d.MemoryWindowSize))
	}
	if len(nonEmpty(d.CrisisPhrases)) == 0 {
		return goerr.New("crisis_phrases must not be empty")
	}
	if len(nonEmpty(d.ConclusionPhrases)) == 0 {
		return goerr.New("conclusion_phrases must not be empty")
	}
	required := map[string]string{
		"base_instruction":        d.BaseInstruction,
		"off_topic_redirect_text": d.OffTopicRedirectText,
		"crisis_reply":            d.CrisisReply,
		"disclaimer":              d.Disclaimer,
		"initial_summary":         d.InitialSummary,
		"initial_biography":       d.InitialBiography,
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			return goerr.New("dialogue text must not be empty", goerr.V("key", key))
		}
	}
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
