package app

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/httpapi"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/logging"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/sentiment"
	"github.com/ent0n29/solace/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *dialogue.Orchestrator
	Metrics      *observability.Metrics
	Provider     string

	// Cleanup releases external resources such as the transcript database.
	Cleanup func() error
}

// Option overrides a collaborator Build would otherwise construct from config.
type Option func(*buildOptions)

type buildOptions struct {
	generator dialogue.Generator
	scorer    sentiment.Scorer
	metrics   *observability.Metrics
}

// WithGenerator replaces the configured LLM provider.
func WithGenerator(g dialogue.Generator) Option {
	return func(o *buildOptions) { o.generator = g }
}

// WithScorer replaces the configured sentiment scorer.
func WithScorer(s sentiment.Scorer) Option {
	return func(o *buildOptions) { o.scorer = s }
}

// WithMetrics reuses an existing metrics registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *buildOptions) { o.metrics = m }
}

// Build wires every component of the service from cfg.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*BuildResult, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.From(ctx)

	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	generator := o.generator
	provider := "custom"
	if generator == nil {
		g, err := llm.NewGenerator(ctx, llm.Config{
			Mode:            cfg.LLMProvider,
			Model:           cfg.LLMModel,
			Timeout:         cfg.LLMTimeout,
			GeminiProject:   cfg.GeminiProject,
			GeminiLocation:  cfg.GeminiLocation,
			OpenAIAPIKey:    cfg.OpenAIAPIKey,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
			HTTPURL:         cfg.LLMHTTPURL,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "llm provider init failed")
		}
		generator = g
		provider = llm.Name(g)
	}

	scorer := o.scorer
	if scorer == nil {
		s, err := sentiment.New(sentiment.Config{
			Provider:     cfg.SentimentProvider,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			Model:        cfg.SentimentModel,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "sentiment scorer init failed")
		}
		scorer = s
	}

	archive, err := memory.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "transcript archive init failed")
	}

	d := cfg.Dialogue
	sessions := session.NewManager(cfg.SessionInactivityTimeout, func() dialogue.State {
		return dialogue.NewState(d.InitialSummary, d.InitialBiography)
	})
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Info("session expired", "session_id", s.ID, "turn_count", s.TurnCount)
	})

	orchestrator := dialogue.NewOrchestrator(d, dialogue.Dependencies{
		Sessions:  sessions,
		Generator: generator,
		Scorer:    scorer,
		Archive:   archive,
		Metrics:   metrics,
		Provider:  provider,
	})

	cfg.LLMProvider = provider
	api := httpapi.New(cfg, sessions, orchestrator, metrics, archive)

	logger.Info("service components ready",
		"llm_provider", provider,
		"sentiment_provider", cfg.SentimentProvider,
		"archive", archive.Backend(),
		"config", cfg,
	)

	cleanup := func() error {
		var errs []error
		if err := archive.Close(); err != nil {
			errs = append(errs, goerr.Wrap(err, "failed to close transcript archive"))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Provider:     provider,
		Cleanup:      cleanup,
	}, nil
}
