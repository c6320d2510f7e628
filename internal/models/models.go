package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation as the backend returns it from
// GET /api/chats/{id}/messages. Streaming and Error are client-side flags and
// are never sent by the backend.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	Streaming bool `json:"streaming,omitempty"`
	Error     bool `json:"error,omitempty"`
}

// Chat is the conversation summary returned by the chat listing and by the
// parallel fan-out endpoint.
type Chat struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	SystemPrompt         string    `json:"system_prompt,omitempty"`
	Provider             string    `json:"provider"`
	Model                string    `json:"model"`
	Pinned               bool      `json:"pinned"`
	IsBranch             bool      `json:"is_branch"`
	ParentChatID         string    `json:"parent_chat_id,omitempty"`
	BranchPointMessageID string    `json:"branch_point_message_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ModelRef selects one provider/model pair for a parallel send.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (m ModelRef) String() string { return m.Provider + "/" + m.Model }

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
