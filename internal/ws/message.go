package ws

import "encoding/json"

type MessageType string

const (
	TypeAuth         MessageType = "auth"
	TypeAuthSuccess  MessageType = "auth_success"
	TypeAuthError    MessageType = "auth_error"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
	TypeChatMessage  MessageType = "chat_message"
	TypeChatUpdate   MessageType = "chat_update"
	TypeTypingStart  MessageType = "typing_start"
	TypeTypingStop   MessageType = "typing_stop"
	TypeStreamChunk  MessageType = "stream_chunk"
	TypeStreamEnd    MessageType = "stream_end"
	TypeNotification MessageType = "notification"
)

// Envelope is the frame format in both directions: {"type": ..., "data": ...}.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of type t. A nil data leaves
// Data empty.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	env := Envelope{Type: t}
	if data == nil {
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = b
	return env, nil
}

type authData struct {
	Token string `json:"token"`
}

type chatMessageData struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type typingData struct {
	ChatID string `json:"chat_id"`
}

type errorData struct {
	Message string `json:"message"`
}
