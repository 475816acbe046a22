package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/logging"
	"github.com/ent0n29/solace/internal/protocol"
	"github.com/ent0n29/solace/internal/session"
)

const (
	wsReadLimit    = 64 << 10
	wsReadTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 32
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "turn pipeline not configured")
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	var (
		sess *session.Session
		err  error
	)
	if sessionID == "" {
		sess, err = s.sessions.GetOrCreate(session.DefaultID)
	} else {
		sess, err = s.sessions.Get(sessionID)
		if err == nil && sess.Status != session.StatusActive {
			err = session.ErrEnded
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessionID = sess.ID

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.countSessionEvent("ws_connected")
	logger := logging.From(r.Context()).With("session_id", sessionID)

	ctx, cancel := context.WithCancel(logging.With(r.Context(), logger))
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer cancel()
		defer close(outbound)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	// The writer drains outbound until the connection loop closes it, so
	// final events such as "ended" are still flushed.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range outbound {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "error", err)
				failed = true
				cancel()
				continue
			}
			s.countWSMessage("outbound", msg)
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		// Unblocks ReadMessage once the connection loop has ended.
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			code := "invalid_request"
			if errors.Is(err, protocol.ErrUnsupportedType) {
				code = "unsupported_type"
			}
			parsed = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      code,
				Detail:    "message must be a user_message or client_control frame with a non-empty user_message",
			}
		} else {
			s.countWSMessage("inbound", parsed)
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.countSessionEvent("ws_disconnected")
}

// runConnection processes frames for one websocket in arrival order. It is
// the only sender on outbound.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	logger := logging.From(ctx)
	send(ctx, outbound, systemEvent(sessionID, "connected"))
	for {
		var msg any
		select {
		case <-ctx.Done():
			return
		case m, ok := <-inbound:
			if !ok {
				return
			}
			msg = m
		}

		switch m := msg.(type) {
		case protocol.ErrorEvent:
			send(ctx, outbound, m)

		case protocol.UserMessage:
			if m.SessionID != "" && m.SessionID != sessionID {
				send(ctx, outbound, protocol.ErrorEvent{
					Type:        protocol.TypeErrorEvent,
					SessionID:   sessionID,
					ClientMsgID: m.ClientMsgID,
					Code:        "session_mismatch",
					Detail:      "frame session_id does not match the connection",
				})
				continue
			}
			resp, err := s.turns.HandleTurn(ctx, sessionID, m.Message)
			if err != nil {
				e := classifyError(err)
				logError(ctx, err, e.status)
				send(ctx, outbound, protocol.ErrorEvent{
					Type:        protocol.TypeErrorEvent,
					SessionID:   sessionID,
					ClientMsgID: m.ClientMsgID,
					Code:        e.code,
					Retryable:   e.retryable,
					Detail:      e.message,
				})
				if e.code == "session_ended" || e.code == "session_not_found" {
					return
				}
				continue
			}
			send(ctx, outbound, assistantTurn(resp, m.ClientMsgID))

		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionPing:
				send(ctx, outbound, systemEvent(sessionID, "pong"))
			case protocol.ActionReset:
				if _, err := s.sessions.Reset(ctx, sessionID); err != nil {
					logger.Warn("websocket reset failed", "error", err)
					send(ctx, outbound, errorEvent(sessionID, classifyError(err)))
					continue
				}
				s.countSessionEvent("reset")
				send(ctx, outbound, systemEvent(sessionID, "reset"))
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err != nil {
					send(ctx, outbound, errorEvent(sessionID, classifyError(err)))
					continue
				}
				s.updateActiveSessions()
				s.countSessionEvent("ended")
				send(ctx, outbound, systemEvent(sessionID, "ended"))
				return
			}
		}
	}
}

func assistantTurn(resp dialogue.Response, clientMsgID string) protocol.AssistantTurn {
	return protocol.AssistantTurn{
		Type:             protocol.TypeAssistantTurn,
		SessionID:        resp.SessionID,
		TurnID:           resp.TurnID,
		ClientMsgID:      clientMsgID,
		Assistant:        resp.Reply,
		Disclaimer:       resp.Disclaimer,
		Path:             string(resp.Path),
		Classification:   string(resp.Classification),
		Depressed:        resp.Depressed,
		WantsConclusion:  resp.WantsConclusion,
		HistoryLen:       len(resp.History),
		SummaryUpdated:   resp.SummaryUpdated,
		BiographyUpdated: resp.BiographyUpdated,
	}
}

func systemEvent(sessionID, code string) protocol.SystemEvent {
	return protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: code}
}

func errorEvent(sessionID string, e apiError) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      e.code,
		Retryable: e.retryable,
		Detail:    e.message,
	}
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func (s *Server) countWSMessage(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}
