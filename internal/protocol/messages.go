package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage   MessageType = "user_message"
	TypeClientControl MessageType = "client_control"
	TypeAssistantTurn MessageType = "assistant_turn"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionReset = "reset"
	ActionEnd   = "end"
	ActionPing  = "ping"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid client message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage carries one user turn. ClientMsgID is echoed back so clients
// can match replies to sends.
type UserMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Message     string      `json:"user_message"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
}

type AssistantTurn struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	TurnID           string      `json:"turn_id"`
	ClientMsgID      string      `json:"client_msg_id,omitempty"`
	Assistant        string      `json:"assistant"`
	Disclaimer       string      `json:"disclaimer"`
	Path             string      `json:"path"`
	Classification   string      `json:"classification,omitempty"`
	Depressed        bool        `json:"depressed"`
	WantsConclusion  bool        `json:"wants_conclusion"`
	HistoryLen       int         `json:"history_len"`
	SummaryUpdated   bool        `json:"summary_updated"`
	BiographyUpdated bool        `json:"biography_updated"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	Code        string      `json:"code"`
	Retryable   bool        `json:"retryable"`
	Detail      string      `json:"detail"`
}

// ParseClientMessage decodes a client frame into UserMessage or ClientControl.
// The legacy "message" field is accepted as an alias of "user_message".
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, goerr.Wrap(errors.Join(ErrInvalidMessage, err), "invalid envelope")
	}

	switch env.Type {
	case TypeUserMessage:
		var msg struct {
			UserMessage
			Legacy string `json:"message"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, goerr.Wrap(errors.Join(ErrInvalidMessage, err), "invalid user_message")
		}
		out := msg.UserMessage
		if out.Message == "" {
			out.Message = msg.Legacy
		}
		if strings.TrimSpace(out.Message) == "" {
			return nil, goerr.Wrap(ErrInvalidMessage, "user_message must not be empty")
		}
		return out, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, goerr.Wrap(errors.Join(ErrInvalidMessage, err), "invalid client_control")
		}
		switch msg.Action {
		case ActionReset, ActionEnd, ActionPing:
		default:
			return nil, goerr.Wrap(ErrInvalidMessage, "unknown client_control action", goerr.V("action", msg.Action))
		}
		return msg, nil
	default:
		return nil, goerr.Wrap(ErrUnsupportedType, "cannot parse client message", goerr.V("type", env.Type))
	}
}

// TypeOf reports the message type of any protocol payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case UserMessage:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case AssistantTurn:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
