package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.BindAddr).Equal(":8080")
	gt.Value(t, cfg.LLMProvider).Equal("auto")
	gt.Value(t, cfg.SentimentProvider).Equal("lexicon")
	gt.Value(t, cfg.LogFormat).Equal("console")
	gt.Value(t, cfg.SessionInactivityTimeout).Equal(30 * time.Minute)
	gt.Value(t, cfg.Dialogue.DepressionThreshold).Equal(-0.5)
	gt.Value(t, cfg.Dialogue.MemoryWindowSize).Equal(4)
	gt.String(t, cfg.Dialogue.CrisisReply).Contains("988")
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("DIALOGUE_DEPRESSION_THRESHOLD", "-0.2")
	t.Setenv("DIALOGUE_MEMORY_WINDOW", "6")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.BindAddr).Equal(":9191")
	gt.Value(t, cfg.LLMProvider).Equal("mock")
	gt.Value(t, cfg.Dialogue.DepressionThreshold).Equal(-0.2)
	gt.Value(t, cfg.Dialogue.MemoryWindowSize).Equal(6)
	gt.Bool(t, cfg.AllowAnyOrigin).True()
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"short inactivity":    {"APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
		"bad duration":        {"LLM_TIMEOUT", "soon"},
		"bad bool":            {"APP_ALLOW_ANY_ORIGIN", "maybe"},
		"threshold range":     {"DIALOGUE_DEPRESSION_THRESHOLD", "-1.5"},
		"zero window":         {"DIALOGUE_MEMORY_WINDOW", "0"},
		"unknown sentiment":   {"SENTIMENT_PROVIDER", "textblob"},
		"openai without key":  {"SENTIMENT_PROVIDER", "openai"},
		"missing config file": {"DIALOGUE_CONFIG_PATH", "/nonexistent/dialogue.toml"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			gt.Value(t, err).NotNil()
		})
	}
}

func TestParseDialogueOverlaysDefaults(t *testing.T) {
	data := []byte(`
depression_threshold = -0.3
crisis_phrases = ["hopeless", "give up"]

[resource_links]
crisis_hotline_international = "https://findahelpline.com/"
`)
	d, err := ParseDialogue(data)
	gt.NoError(t, err).Required()

	gt.Value(t, d.DepressionThreshold).Equal(-0.3)
	gt.Array(t, d.CrisisPhrases).Length(2)
	gt.Value(t, d.MemoryWindowSize).Equal(4)
	gt.Value(t, d.ResourceLinks.GeneralSupport).Equal(DefaultDialogue().ResourceLinks.GeneralSupport)
	gt.String(t, d.CrisisReply).Contains("https://findahelpline.com/")
}

func TestParseDialogueKeepsExplicitCrisisReply(t *testing.T) {
	d, err := ParseDialogue([]byte(`crisis_reply = "Please call 988 now."`))
	gt.NoError(t, err).Required()
	gt.Value(t, d.CrisisReply).Equal("Please call 988 now.")
}

func TestParseDialogueRejectsEmptyPhrases(t *testing.T) {
	_, err := ParseDialogue([]byte(`conclusion_phrases = []`))
	gt.Value(t, err).NotNil()

	_, err = ParseDialogue([]byte(`crisis_phrases = ["  "]`))
	gt.Value(t, err).NotNil()
}

func TestParseDialogueRejectsMalformedTOML(t *testing.T) {
	_, err := ParseDialogue([]byte(`depression_threshold = "low`))
	gt.Value(t, err).NotNil()
}

func TestLoadReadsDialogueFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "dialogue.toml")
	gt.NoError(t, os.WriteFile(path, []byte("memory_window_size = 2\n"), 0o600)).Required()
	t.Setenv("DIALOGUE_CONFIG_PATH", path)

	cfg, err := Load()
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Dialogue.MemoryWindowSize).Equal(2)
	gt.Bool(t, strings.Contains(cfg.Dialogue.BaseInstruction, "mental health")).True()
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DEV_KEY",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LLM_PROVIDER",
		"LLM_MODEL",
		"LLM_TIMEOUT",
		"LLM_HTTP_URL",
		"GEMINI_PROJECT",
		"GEMINI_LOCATION",
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"SENTIMENT_PROVIDER",
		"SENTIMENT_MODEL",
		"DATABASE_URL",
		"DIALOGUE_CONFIG_PATH",
		"DIALOGUE_DEPRESSION_THRESHOLD",
		"DIALOGUE_MEMORY_WINDOW",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
