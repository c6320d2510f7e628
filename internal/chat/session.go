package chat

import (
	"time"

	"github.com/suPer8Hu/neko-client/internal/models"
)

type SessionStatus string

const (
	SessionStreaming SessionStatus = "streaming"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ErrorContent replaces the assistant text of a failed stream.
const ErrorContent = "Error: Failed to get response"

// Session is the in-flight state of one chat's stream: the provisional user
// and assistant messages and the reply accumulated so far.
type Session struct {
	ChatID    string
	User      models.Message
	Assistant models.Message
	Content   string
	Status    SessionStatus

	StartedAt  time.Time
	FinishedAt time.Time
}

// AssistantMessage is the assistant placeholder as it should be displayed
// right now.
func (s Session) AssistantMessage() models.Message {
	m := s.Assistant
	switch s.Status {
	case SessionStreaming:
		m.Content = s.Content
		m.Streaming = true
	case SessionCompleted:
		m.Content = s.Content
		m.Streaming = false
	case SessionFailed:
		m.Content = ErrorContent
		m.Streaming = false
		m.Error = true
	}
	return m
}

// Live reports whether the stream is still producing content.
func (s Session) Live() bool { return s.Status == SessionStreaming }

// LifecycleEvent is emitted to an EventSink when a session starts and ends.
type LifecycleEvent struct {
	ChatID        string        `json:"chat_id"`
	Status        SessionStatus `json:"status"`
	ContentLength int           `json:"content_length"`
	At            time.Time     `json:"at"`
}
