package llm

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/claude"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gollem/llm/openai"
)

// Generator turns a single prompt into a single completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode            string
	Model           string
	Timeout         time.Duration
	GeminiProject   string
	GeminiLocation  string
	OpenAIAPIKey    string `masq:"secret"`
	AnthropicAPIKey string `masq:"secret"`
	HTTPURL         string
}

// NewGenerator builds the generator named by cfg.Mode.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" || mode == "auto" {
		mode = autoMode(cfg)
	}

	switch mode {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiProject) == "" {
			return nil, goerr.New("gemini project is required for gemini mode")
		}
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		client, err := gemini.New(ctx, cfg.GeminiProject, cfg.GeminiLocation, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		return NewGollemGenerator(client, "gemini", cfg.Timeout), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, goerr.New("openai API key is required for openai mode")
		}
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		client, err := openai.New(ctx, cfg.OpenAIAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI client")
		}
		return NewGollemGenerator(client, "openai", cfg.Timeout), nil
	case "claude":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, goerr.New("anthropic API key is required for claude mode")
		}
		var opts []claude.Option
		if cfg.Model != "" {
			opts = append(opts, claude.WithModel(cfg.Model))
		}
		client, err := claude.New(ctx, cfg.AnthropicAPIKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Claude client")
		}
		return NewGollemGenerator(client, "claude", cfg.Timeout), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, goerr.New("LLM HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, goerr.New("unsupported LLM provider", goerr.V("mode", cfg.Mode))
	}
}

func autoMode(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.GeminiProject) != "":
		return "gemini"
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return "openai"
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return "claude"
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return "http"
	default:
		return "mock"
	}
}

// Name reports a short provider label for logs and metrics.
func Name(g Generator) string {
	switch v := g.(type) {
	case *GollemGenerator:
		return v.provider
	case *HTTPGenerator:
		return "http"
	case *MockGenerator:
		return "mock"
	default:
		return "custom"
	}
}
