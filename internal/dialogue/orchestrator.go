package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/logging"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/sentiment"
)

var (
	// ErrInvalidInput rejects a turn before any state is read.
	ErrInvalidInput = errors.New("message must not be empty")
	// ErrGenerationFailed means no reply was produced and nothing was committed.
	ErrGenerationFailed = errors.New("reply generation failed")
)

const archiveTimeout = 2 * time.Second

// SessionStore owns per-session state. Only the orchestrator commits to it.
type SessionStore interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
	Snapshot(sessionID string) (State, error)
	Commit(sessionID string, state State) error
}

// Dependencies are the collaborators a turn calls out to. Archive and
// Metrics are optional.
type Dependencies struct {
	Sessions  SessionStore
	Generator Generator
	Scorer    sentiment.Scorer
	Archive   memory.Store
	Metrics   *observability.Metrics
	Provider  string
}

// Orchestrator runs the turn pipeline for every incoming message.
type Orchestrator struct {
	cfg        config.Dialogue
	sessions   SessionStore
	generator  Generator
	scorer     sentiment.Scorer
	classifier *TopicClassifier
	crisis     *policy.CrisisDetector
	conclusion *policy.ConclusionDetector
	summary    *Updater
	biography  *Updater
	archive    memory.Store
	metrics    *observability.Metrics
	provider   string
}

func NewOrchestrator(cfg config.Dialogue, deps Dependencies) *Orchestrator {
	provider := deps.Provider
	if provider == "" {
		provider = "llm"
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = sentiment.NewVaderScorer()
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   deps.Sessions,
		generator:  deps.Generator,
		scorer:     scorer,
		classifier: NewTopicClassifier(deps.Generator),
		crisis:     policy.NewCrisisDetector(cfg.CrisisPhrases),
		conclusion: policy.NewConclusionDetector(cfg.ConclusionPhrases),
		summary:    NewSummaryUpdater(deps.Generator, cfg.MemoryWindowSize),
		biography:  NewBiographyUpdater(deps.Generator, cfg.MemoryWindowSize),
		archive:    deps.Archive,
		metrics:    deps.Metrics,
		provider:   provider,
	}
}

// HandleTurn processes one message on sessionID. Turns on the same session
// are serialized; the returned error wraps ErrInvalidInput,
// ErrGenerationFailed or a session store error.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, message string) (Response, error) {
	if strings.TrimSpace(message) == "" {
		return Response{}, goerr.Wrap(ErrInvalidInput, "invalid turn", goerr.V("session_id", sessionID))
	}

	started := time.Now()
	turnID := uuid.NewString()
	logger := logging.From(ctx).With("session_id", sessionID, "turn_id", turnID)

	release, err := o.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return Response{}, goerr.Wrap(err, "failed to acquire session", goerr.V("session_id", sessionID))
	}
	defer release()

	state, err := o.sessions.Snapshot(sessionID)
	if err != nil {
		return Response{}, goerr.Wrap(err, "failed to read session", goerr.V("session_id", sessionID))
	}

	if o.crisis.Detect(message) {
		return o.crisisTurn(ctx, logger, sessionID, turnID, message, state, started)
	}
	return o.normalTurn(ctx, logger, sessionID, turnID, message, state, started)
}

func (o *Orchestrator) crisisTurn(
	ctx context.Context,
	logger *slog.Logger,
	sessionID, turnID, message string,
	state State,
	started time.Time,
) (Response, error) {
	reply := o.cfg.CrisisReply
	state.History = append(state.History, Turn{User: message, Assistant: reply})
	if err := o.sessions.Commit(sessionID, state); err != nil {
		return Response{}, goerr.Wrap(err, "failed to commit crisis turn", goerr.V("session_id", sessionID))
	}
	o.archiveTurn(ctx, logger, sessionID, turnID, PathCrisis, message, reply)

	o.countTurn(PathCrisis, "ok")
	o.observeStage(observability.StageTurnTotal, time.Since(started))
	logger.Warn("crisis phrase detected, fixed reply sent", "message_len", len(message))

	return o.response(sessionID, turnID, reply, state, PathCrisis), nil
}

func (o *Orchestrator) normalTurn(
	ctx context.Context,
	logger *slog.Logger,
	sessionID, turnID, message string,
	state State,
	started time.Time,
) (Response, error) {
	cls, score := o.classifyAndScore(ctx, logger, message)
	label := cls.Resolve()
	wantsConclusion := o.conclusion.WantsConclusion(message)
	depressed := sentiment.IsDepressed(score, o.cfg.DepressionThreshold)
	redirect := ShouldRedirect(label, wantsConclusion)

	instruction := SelectInstruction(o.cfg.BaseInstruction, o.cfg.OffTopicDirective, label, wantsConclusion)
	prompt := Assemble(state.Summary, state.Biography, message, instruction)

	genStarted := time.Now()
	reply, err := o.generator.Generate(ctx, prompt)
	o.observeStage(observability.StageGenerate, time.Since(genStarted))
	if err == nil {
		reply = strings.TrimSpace(reply)
		// A blank reply is never shown or committed; it fails the turn like a
		// transport error so the client can retry.
		if reply == "" {
			err = goerr.New("generator returned empty reply")
		}
	}
	if err != nil {
		o.countTurn(PathNormal, "generation_failed")
		o.countProviderError("generate")
		logger.Error("reply generation failed", "error", err, "provider", o.provider)
		return Response{}, goerr.Wrap(errors.Join(ErrGenerationFailed, err), "turn aborted",
			goerr.V("session_id", sessionID),
			goerr.V("turn_id", turnID),
		)
	}

	final := Augment(reply, depressed, redirect, o.cfg)

	// Stage 1: the reply is committed before any memory work starts.
	state.History = append(state.History, Turn{User: message, Assistant: final})
	if err := o.sessions.Commit(sessionID, state); err != nil {
		return Response{}, goerr.Wrap(err, "failed to commit turn", goerr.V("session_id", sessionID))
	}
	o.archiveTurn(ctx, logger, sessionID, turnID, PathNormal, message, final)

	// Stage 2: summary and biography are committed together or not at all.
	memCtx := context.WithoutCancel(ctx)
	memStarted := time.Now()
	next, summaryOK, biographyOK := o.updateMemory(memCtx, logger, state)
	o.observeStage(observability.StageUpdateMemory, time.Since(memStarted))
	if summaryOK || biographyOK {
		if err := o.sessions.Commit(sessionID, next); err != nil {
			logger.Warn("memory commit skipped", "error", err)
			summaryOK, biographyOK = false, false
		} else {
			state = next
		}
	}

	o.countTurn(PathNormal, "ok")
	o.observeStage(observability.StageTurnTotal, time.Since(started))
	logger.Info("turn completed",
		"classification", label,
		"classification_recognized", !cls.Unrecognized,
		"depressed", depressed,
		"wants_conclusion", wantsConclusion,
		"summary_updated", summaryOK,
		"biography_updated", biographyOK,
		"history_len", len(state.History),
	)

	resp := o.response(sessionID, turnID, final, state, PathNormal)
	resp.Classification = label
	resp.Depressed = depressed
	resp.WantsConclusion = wantsConclusion
	resp.SummaryUpdated = summaryOK
	resp.BiographyUpdated = biographyOK
	return resp, nil
}

// classifyAndScore runs topic classification and sentiment scoring
// concurrently. Neither failure aborts the turn.
func (o *Orchestrator) classifyAndScore(ctx context.Context, logger *slog.Logger, message string) (Classification, float64) {
	var (
		cls   Classification
		score float64
		g     errgroup.Group
	)

	g.Go(func() error {
		t := time.Now()
		c, err := o.classifier.Classify(ctx, message)
		o.observeStage(observability.StageClassify, time.Since(t))
		if err != nil {
			o.countProviderError("classify")
			logger.Warn("topic classification failed, treating as on-topic", "error", err)
			c = Classification{Unrecognized: true}
		}
		cls = c
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		s, err := o.scorer.Score(ctx, message)
		o.observeStage(observability.StageScore, time.Since(t))
		if err != nil {
			o.countProviderError("sentiment")
			logger.Warn("sentiment scoring failed, treating as neutral", "error", err)
			s = 0
		}
		score = sentiment.Clamp(s)
		return nil
	})
	_ = g.Wait()

	if o.metrics != nil {
		recognized := "true"
		if cls.Unrecognized {
			recognized = "false"
			o.metrics.ObserveTurnIndicator("classifier_fallback")
		}
		o.metrics.Classifications.WithLabelValues(string(cls.Resolve()), recognized).Inc()
	}
	return cls, score
}

// updateMemory runs both updaters on the same committed history and returns
// the candidate next state. A failed updater leaves its artifact unchanged.
func (o *Orchestrator) updateMemory(ctx context.Context, logger *slog.Logger, state State) (State, bool, bool) {
	next := state.Clone()
	history := state.Clone().History

	var (
		summary, biography       string
		summaryErr, biographyErr error
		g                        errgroup.Group
	)
	g.Go(func() error {
		summary, summaryErr = o.summary.Update(ctx, state.Summary, history)
		return nil
	})
	g.Go(func() error {
		biography, biographyErr = o.biography.Update(ctx, state.Biography, history)
		return nil
	})
	_ = g.Wait()

	summaryOK := o.applyUpdate(logger, ArtifactSummary, summaryErr, func() { next.Summary = summary })
	biographyOK := o.applyUpdate(logger, ArtifactBiography, biographyErr, func() { next.Biography = biography })
	return next, summaryOK, biographyOK
}

func (o *Orchestrator) applyUpdate(logger *slog.Logger, artifact Artifact, err error, apply func()) bool {
	if err != nil {
		o.countMemoryUpdate(artifact, "failed")
		o.countProviderError("update_" + string(artifact))
		logger.Warn("memory update failed, keeping previous value", "artifact", artifact, "error", err)
		return false
	}
	apply()
	o.countMemoryUpdate(artifact, "ok")
	return true
}

func (o *Orchestrator) archiveTurn(ctx context.Context, logger *slog.Logger, sessionID, turnID string, path Path, user, assistant string) {
	if o.archive == nil {
		return
	}
	records := memory.NewTurnRecords(sessionID, turnID, string(path), user, assistant)
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := o.archive.Append(saveCtx, records); err != nil {
			if o.metrics != nil {
				o.metrics.SessionEvents.WithLabelValues("archive_save_failed").Inc()
			}
			logger.Warn("transcript archive write failed", "error", err)
		}
	}()
}

func (o *Orchestrator) response(sessionID, turnID, reply string, state State, path Path) Response {
	snap := state.Clone()
	return Response{
		SessionID:  sessionID,
		TurnID:     turnID,
		Reply:      reply,
		Disclaimer: o.cfg.Disclaimer,
		History:    snap.History,
		Summary:    snap.Summary,
		Biography:  snap.Biography,
		Path:       path,
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	o.metrics.ObserveTurnStage(stage, d)
}

func (o *Orchestrator) countTurn(path Path, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Turns.WithLabelValues(string(path), outcome).Inc()
}

func (o *Orchestrator) countProviderError(code string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ProviderErrors.WithLabelValues(o.provider, code).Inc()
}

func (o *Orchestrator) countMemoryUpdate(artifact Artifact, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.MemoryUpdates.WithLabelValues(string(artifact), outcome).Inc()
}
