package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/session"
)

const (
	maxBodyBytes         = 1 << 20
	defaultTranscriptLen = 50
	maxTranscriptLen     = 200
)

// TurnHandler runs one conversational turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, message string) (dialogue.Response, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	turns    TurnHandler
	archive  memory.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, turns TurnHandler, metrics *observability.Metrics, archive memory.Store) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		turns:    turns,
		archive:  archive,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Group(func(r chi.Router) {
		r.Use(devKeyAuth(s.cfg.DevKey))

		r.Post("/chat", s.handleChat)
		r.Post("/clear", s.handleClear)

		r.Route("/v1/chat", func(r chi.Router) {
			r.Get("/ws", s.handleSessionWS)
			r.Post("/sessions", s.handleCreateSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/messages", s.handleMessage)
				r.Get("/history", s.handleHistory)
				r.Get("/transcript", s.handleTranscript)
				r.Post("/reset", s.handleReset)
				r.Post("/end", s.handleEndSession)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"llm_provider":    s.cfg.LLMProvider,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "turn pipeline not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"archive_store": s.archiveMode(),
	})
}

type chatRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
	Message     string `json:"message"`
}

func (r chatRequest) text() string {
	if r.UserMessage != "" {
		return r.UserMessage
	}
	return r.Message
}

// handleChat keeps the single-endpoint contract: the turn runs on session_id,
// or on the default session which is started on first use.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Please provide 'user_message' in JSON.")
		return
	}
	if strings.TrimSpace(req.text()) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Please provide 'user_message' in JSON.")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sess, err := s.sessions.GetOrCreate(session.DefaultID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sessionID = sess.ID
	}
	s.runTurn(w, r, sessionID, req.text())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = session.DefaultID
	}
	if _, err := s.sessions.GetOrCreate(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.sessions.Reset(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.countSessionEvent("reset")
	respondJSON(w, http.StatusOK, map[string]string{"message": "Conversation history cleared."})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	sess, err := s.sessions.Create(req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.updateActiveSessions()
	s.countSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.text()) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Please provide 'user_message' in JSON.")
		return
	}
	s.runTurn(w, r, chi.URLParam(r, "id"), req.text())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	page, err := s.sessions.History(chi.URLParam(r, "id"), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultTranscriptLen)
	if !ok {
		return
	}
	if limit <= 0 || limit > maxTranscriptLen {
		limit = maxTranscriptLen
	}

	records := []memory.TurnRecord{}
	if s.archive != nil {
		got, err := s.archive.Transcript(r.Context(), id, limit)
		if err != nil {
			s.writeError(w, r, goerr.Wrap(err, "failed to read transcript", goerr.V("session_id", id)))
			return
		}
		if got != nil {
			records = got
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"records":    records,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.countSessionEvent("reset")
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.updateActiveSessions()
	s.countSessionEvent("ended")
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.TurnStageSnapshot())
}

func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, sessionID, message string) {
	if s.turns == nil {
		respondError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "turn pipeline not configured")
		return
	}
	resp, err := s.turns.HandleTurn(r.Context(), sessionID, message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type sessionView struct {
	SessionID      string         `json:"session_id"`
	Status         session.Status `json:"status"`
	TurnCount      int            `json:"turn_count"`
	Summary        string         `json:"summary"`
	Biography      string         `json:"user_bio"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

func newSessionView(s *session.Session) sessionView {
	return sessionView{
		SessionID:      s.ID,
		Status:         s.Status,
		TurnCount:      s.TurnCount,
		Summary:        s.State.Summary,
		Biography:      s.State.Biography,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return goerr.Wrap(err, "failed to decode request body")
	}
	return nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter "+key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) archiveMode() string {
	if s.archive == nil {
		return "disabled"
	}
	return s.archive.Backend()
}

func (s *Server) updateActiveSessions() {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

func (s *Server) countSessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}
