package protocol

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","client_msg_id":"c7","user_message":"I feel tired"}`)
	msg, err := ParseClientMessage(raw)
	gt.NoError(t, err).Required()

	um, ok := msg.(UserMessage)
	gt.Bool(t, ok).True()
	gt.Value(t, um.SessionID).Equal("s1")
	gt.Value(t, um.ClientMsgID).Equal("c7")
	gt.Value(t, um.Message).Equal("I feel tired")
}

func TestParseClientMessageAcceptsLegacyField(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","message":"hello"}`))
	gt.NoError(t, err).Required()
	gt.Value(t, msg.(UserMessage).Message).Equal("hello")
}

func TestParseClientMessageRejectsEmptyUserMessage(t *testing.T) {
	for _, raw := range []string{
		`{"type":"user_message"}`,
		`{"type":"user_message","user_message":"   "}`,
		`{"type":"user_message","user_message":42}`,
	} {
		_, err := ParseClientMessage([]byte(raw))
		gt.Error(t, err).Is(ErrInvalidMessage)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"reset"}`))
	gt.NoError(t, err).Required()
	ctrl, ok := msg.(ClientControl)
	gt.Bool(t, ok).True()
	gt.Value(t, ctrl.Action).Equal(ActionReset)

	_, err = ParseClientMessage([]byte(`{"type":"client_control","action":"dance"}`))
	gt.Error(t, err).Is(ErrInvalidMessage)
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	gt.Error(t, err).Is(ErrUnsupportedType)

	_, err = ParseClientMessage([]byte(`not json`))
	gt.Error(t, err).Is(ErrInvalidMessage)
}

func TestTypeOf(t *testing.T) {
	typ, ok := TypeOf(AssistantTurn{Type: TypeAssistantTurn})
	gt.Bool(t, ok).True()
	gt.Value(t, typ).Equal(TypeAssistantTurn)

	_, ok = TypeOf("plain")
	gt.Bool(t, ok).False()
}

func BenchmarkParseClientMessageUserMessage(b *testing.B) {
	raw := []byte(`{"type":"user_message","session_id":"s1","user_message":"I have been anxious about work lately"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(UserMessage); !ok {
			b.Fatalf("message type = %T, want UserMessage", msg)
		}
	}
}
