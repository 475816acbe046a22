package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/protocol"
	"github.com/ent0n29/solace/internal/sentiment"
	"github.com/ent0n29/solace/internal/session"
)

var namespaceSeq atomic.Int32

type testEnv struct {
	ts       *httptest.Server
	sessions *session.Manager
	archive  *memory.InMemoryStore
	dialogue config.Dialogue
}

func newTestEnv(t *testing.T, cfg config.Config, turns TurnHandler) *testEnv {
	t.Helper()
	d := config.DefaultDialogue()
	sessions := session.NewManager(2*time.Minute, func() dialogue.State {
		return dialogue.NewState(d.InitialSummary, d.InitialBiography)
	})
	archive := memory.NewInMemoryStore(0)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", namespaceSeq.Add(1)))

	if turns == nil {
		turns = dialogue.NewOrchestrator(d, dialogue.Dependencies{
			Sessions:  sessions,
			Generator: llm.NewMockGenerator(),
			Scorer:    sentiment.StaticScorer(0),
			Archive:   archive,
			Metrics:   metrics,
			Provider:  "mock",
		})
	}

	srv := New(cfg, sessions, turns, metrics, archive)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, sessions: sessions, archive: archive, dialogue: d}
}

func (e *testEnv) post(t *testing.T, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, strings.NewReader(body))
	gt.NoError(t, err).Required()
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return do(t, req)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	gt.NoError(t, err).Required()
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	gt.NoError(t, err).Required()
	defer res.Body.Close()

	var payload map[string]any
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	gt.NoError(t, err).Required()
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		gt.NoError(t, json.Unmarshal(buf.Bytes(), &payload)).Required()
	}
	return res, payload
}

func TestChatUsesDefaultSession(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	res, body := env.post(t, "/chat", `{"user_message":"I have been anxious about work"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.String(t, body["assistant"].(string)).Contains("I have been anxious about work")
	gt.Value(t, body["disclaimer"]).Equal(env.dialogue.Disclaimer)
	gt.Array(t, body["conversation_history"].([]any)).Length(1)
	gt.Value(t, body["session_id"]).Equal(session.DefaultID)

	res, body = env.post(t, "/chat", `{"message":"and my sleep is bad"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	history := body["conversation_history"].([]any)
	gt.Array(t, history).Length(2).Required()
	gt.Value(t, history[1].(map[string]any)["user"]).Equal("and my sleep is bad")
}

func TestChatRejectsInvalidBodies(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	for _, body := range []string{``, `{}`, `{"user_message":"   "}`, `{"user_message":`, `[1,2]`} {
		res, payload := env.post(t, "/chat", body)
		gt.Value(t, res.StatusCode).Equal(http.StatusBadRequest)
		gt.Value(t, payload["code"]).Equal("invalid_request")
	}

	_, err := env.sessions.Get(session.DefaultID)
	gt.Error(t, err).Is(session.ErrNotFound)
}

func TestChatCrisisReply(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	res, body := env.post(t, "/chat", `{"user_message":"I want to end my life"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, body["assistant"]).Equal(env.dialogue.CrisisReply)
	gt.Value(t, body["path"]).Equal("crisis")
	gt.Value(t, body["summary"]).Equal(env.dialogue.InitialSummary)
}

type failingTurns struct{ err error }

func (f failingTurns) HandleTurn(context.Context, string, string) (dialogue.Response, error) {
	return dialogue.Response{}, f.err
}

func TestTurnErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"generation", goerr.Wrap(errors.Join(dialogue.ErrGenerationFailed, errors.New("upstream 529 overloaded")), "turn aborted"), http.StatusServiceUnavailable, "temporarily_unavailable"},
		{"invalid", goerr.Wrap(dialogue.ErrInvalidInput, "invalid turn"), http.StatusBadRequest, "invalid_request"},
		{"not found", goerr.Wrap(session.ErrNotFound, "acquire"), http.StatusNotFound, "session_not_found"},
		{"ended", session.ErrEnded, http.StatusConflict, "session_ended"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, config.Config{}, failingTurns{err: tc.err})
			res, body := env.post(t, "/chat", `{"user_message":"hello"}`)
			gt.Value(t, res.StatusCode).Equal(tc.status)
			gt.Value(t, body["code"]).Equal(tc.code)
			gt.Bool(t, strings.Contains(body["error"].(string), "529")).False()
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	res, created := env.post(t, "/v1/chat/sessions", ``)
	gt.Value(t, res.StatusCode).Equal(http.StatusCreated)
	id := created["session_id"].(string)
	gt.String(t, id).NotEqual("")
	gt.Value(t, created["inactivity_ttl_ms"]).Equal(float64(120000))

	res, _ = env.post(t, "/v1/chat/sessions", fmt.Sprintf(`{"session_id":%q}`, id))
	gt.Value(t, res.StatusCode).Equal(http.StatusConflict)

	for _, msg := range []string{"first", "second", "third"} {
		res, _ = env.post(t, "/v1/chat/sessions/"+id+"/messages", fmt.Sprintf(`{"user_message":%q}`, msg))
		gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	}

	res, view := env.get(t, "/v1/chat/sessions/"+id)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, view["turn_count"]).Equal(float64(3))
	gt.Value(t, view["status"]).Equal("active")

	res, page := env.get(t, "/v1/chat/sessions/"+id+"/history?offset=1&limit=1")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, page["total"]).Equal(float64(3))
	turns := page["turns"].([]any)
	gt.Array(t, turns).Length(1).Required()
	gt.Value(t, turns[0].(map[string]any)["user"]).Equal("second")

	res, _ = env.get(t, "/v1/chat/sessions/"+id+"/history?limit=abc")
	gt.Value(t, res.StatusCode).Equal(http.StatusBadRequest)

	var records []any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, transcript := env.get(t, "/v1/chat/sessions/"+id+"/transcript")
		records = transcript["records"].([]any)
		if len(records) == 6 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	gt.Array(t, records).Length(6)

	res, view = env.post(t, "/v1/chat/sessions/"+id+"/reset", ``)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, view["turn_count"]).Equal(float64(0))
	gt.Value(t, view["summary"]).Equal(env.dialogue.InitialSummary)

	res, view = env.post(t, "/v1/chat/sessions/"+id+"/end", ``)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, view["status"]).Equal("ended")

	res, body := env.post(t, "/v1/chat/sessions/"+id+"/messages", `{"user_message":"still there?"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusConflict)
	gt.Value(t, body["code"]).Equal("session_ended")

	res, _ = env.post(t, "/v1/chat/sessions/nope/messages", `{"user_message":"hi"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusNotFound)
	res, _ = env.get(t, "/v1/chat/sessions/nope")
	gt.Value(t, res.StatusCode).Equal(http.StatusNotFound)
}

func TestClearResetsDefaultSession(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	res, _ := env.post(t, "/chat", `{"user_message":"hello"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)

	res, body := env.post(t, "/clear", ``)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, body["message"]).Equal("Conversation history cleared.")

	state, err := env.sessions.Snapshot(session.DefaultID)
	gt.NoError(t, err).Required()
	gt.Array(t, state.History).Length(0)
}

func TestDevKeyAuth(t *testing.T) {
	env := newTestEnv(t, config.Config{DevKey: "s3cret"}, nil)

	res, body := env.post(t, "/chat", `{"user_message":"hello"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusUnauthorized)
	gt.Value(t, body["error"]).Equal("Unauthorized")

	res, _ = env.post(t, "/chat", `{"user_message":"hello"}`, "devkey", "wrong")
	gt.Value(t, res.StatusCode).Equal(http.StatusUnauthorized)

	res, _ = env.post(t, "/chat", `{"user_message":"hello"}`, "devkey", "s3cret")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)

	res, _ = env.get(t, "/healthz")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
}

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t, config.Config{LLMProvider: "mock"}, nil)

	res, body := env.get(t, "/healthz")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, body["llm_provider"]).Equal("mock")

	res, body = env.get(t, "/readyz")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Value(t, body["archive_store"]).Equal("in-memory")

	res, _ = env.post(t, "/chat", `{"user_message":"hello"}`)
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)

	res, body = env.get(t, "/v1/perf/latency")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
	gt.Map(t, body).HasKey("stages")

	res, _ = env.get(t, "/metrics")
	gt.Value(t, res.StatusCode).Equal(http.StatusOK)
}

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/chat/ws" + query
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err).Required()
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	gt.NoError(t, conn.ReadJSON(&frame)).Required()
	return frame
}

func TestWebSocketConversation(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	sess, err := env.sessions.Create("ws-1")
	gt.NoError(t, err).Required()

	conn := dialWS(t, env, "?session_id="+sess.ID)
	frame := readFrame(t, conn)
	gt.Value(t, frame["type"]).Equal(string(protocol.TypeSystemEvent))
	gt.Value(t, frame["code"]).Equal("connected")

	gt.NoError(t, conn.WriteJSON(map[string]string{
		"type":          "user_message",
		"client_msg_id": "m1",
		"user_message":  "I feel lonely lately",
	})).Required()
	frame = readFrame(t, conn)
	gt.Value(t, frame["type"]).Equal(string(protocol.TypeAssistantTurn))
	gt.Value(t, frame["client_msg_id"]).Equal("m1")
	gt.Value(t, frame["history_len"]).Equal(float64(1))
	gt.String(t, frame["assistant"].(string)).Contains("I feel lonely lately")

	gt.NoError(t, conn.WriteJSON(map[string]string{"type": "user_message", "user_message": " "})).Required()
	frame = readFrame(t, conn)
	gt.Value(t, frame["type"]).Equal(string(protocol.TypeErrorEvent))
	gt.Value(t, frame["code"]).Equal("invalid_request")

	gt.NoError(t, conn.WriteJSON(map[string]string{"type": "client_control", "action": "end"})).Required()
	frame = readFrame(t, conn)
	gt.Value(t, frame["type"]).Equal(string(protocol.TypeSystemEvent))
	gt.Value(t, frame["code"]).Equal("ended")

	got, err := env.sessions.Get(sess.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(session.StatusEnded)
	gt.Array(t, got.State.History).Length(1)
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/chat/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	gt.Value(t, err).NotNil()
	gt.Value(t, res).NotNil()
	gt.Value(t, res.StatusCode).Equal(http.StatusNotFound)
}
