package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Config contains all runtime settings for the companion chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	DevKey         string `masq:"secret"`

	LogLevel  string
	LogFormat string

	LLMProvider     string
	LLMModel        string
	LLMTimeout      time.Duration
	GeminiProject   string
	GeminiLocation  string
	OpenAIAPIKey    string `masq:"secret"`
	AnthropicAPIKey string `masq:"secret"`
	LLMHTTPURL      string

	SentimentProvider string
	SentimentModel    string

	DatabaseURL string `masq:"secret"`

	DialogueConfigPath string
	Dialogue           Dialogue
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "solace"),
		DevKey:                   envTrimmed("APP_DEV_KEY"),
		LogLevel:                 envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                envOrDefault("LOG_FORMAT", "console"),
		LLMProvider:              envOrDefault("LLM_PROVIDER", "auto"),
		LLMModel:                 envTrimmed("LLM_MODEL"),
		GeminiProject:            envTrimmed("GEMINI_PROJECT"),
		GeminiLocation:           envOrDefault("GEMINI_LOCATION", "us-central1"),
		OpenAIAPIKey:             envTrimmed("OPENAI_API_KEY"),
		AnthropicAPIKey:          envTrimmed("ANTHROPIC_API_KEY"),
		LLMHTTPURL:               envTrimmed("LLM_HTTP_URL"),
		SentimentProvider:        envOrDefault("SENTIMENT_PROVIDER", "lexicon"),
		SentimentModel:           envOrDefault("SENTIMENT_MODEL", "gpt-4o-mini"),
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		DialogueConfigPath:       envTrimmed("DIALOGUE_CONFIG_PATH"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		LLMTimeout:               60 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.Dialogue = DefaultDialogue()
	if cfg.DialogueConfigPath != "" {
		cfg.Dialogue, err = LoadDialogue(cfg.DialogueConfigPath)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.Dialogue.DepressionThreshold, err = floatFromEnv("DIALOGUE_DEPRESSION_THRESHOLD", cfg.Dialogue.DepressionThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.Dialogue.MemoryWindowSize, err = intFromEnv("DIALOGUE_MEMORY_WINDOW", cfg.Dialogue.MemoryWindowSize)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return goerr.New("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s", goerr.V("value", c.SessionInactivityTimeout))
	}
	if c.LLMTimeout <= 0 {
		return goerr.New("LLM_TIMEOUT must be positive", goerr.V("value", c.LLMTimeout))
	}
	switch strings.ToLower(c.SentimentProvider) {
	case "lexicon", "vader", "openai", "mock":
	default:
		return goerr.New("SENTIMENT_PROVIDER must be lexicon|vader|openai|mock", goerr.V("value", c.SentimentProvider))
	}
	if strings.EqualFold(c.SentimentProvider, "openai") && c.OpenAIAPIKey == "" {
		return goerr.New("SENTIMENT_PROVIDER=openai requires OPENAI_API_KEY")
	}
	return c.Dialogue.Validate()
}

func envOrDefault(key, fallback string) string {
	v := envTrimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, goerr.Wrap(err, "parse duration", goerr.V("key", key))
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, goerr.Wrap(err, "parse int", goerr.V("key", key))
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "parse float", goerr.V("key", key))
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, goerr.New("parse bool: expected true/false", goerr.V("key", key), goerr.V("value", v))
	}
}
