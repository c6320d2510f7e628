package api

import (
	"context"
	"io"
	"net/url"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/neko-client/internal/models"
)

const (
	chatsPath       = "/api/chats"
	DefaultTitle    = "New Chat"
	bulkMessagePath = "/messages/bulk"
)

func ChatPath(chatID string) string { return chatsPath + "/" + url.PathEscape(chatID) }

func MessagesPath(chatID string) string { return ChatPath(chatID) + "/messages" }

func MessagePath(chatID, messageID string) string {
	return MessagesPath(chatID) + "/" + url.PathEscape(messageID)
}

func StreamPath(chatID string) string { return ChatPath(chatID) + "/stream" }

func RegeneratePath(chatID string) string { return ChatPath(chatID) + "/regenerate" }

func ParallelPath(chatID string) string { return ChatPath(chatID) + "/parallel" }

type CreateChatRequest struct {
	Title                string `json:"title"`
	SystemPrompt         string `json:"system_prompt,omitempty"`
	Provider             string `json:"provider,omitempty"`
	Model                string `json:"model,omitempty"`
	IsBranch             bool   `json:"is_branch"`
	ParentChatID         string `json:"parent_chat_id,omitempty"`
	BranchPointMessageID string `json:"branch_point_message_id,omitempty"`
}

// UpdateChatRequest is a partial update; nil fields are left unchanged.
type UpdateChatRequest struct {
	Title        *string `json:"title,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Provider     *string `json:"provider,omitempty"`
	Model        *string `json:"model,omitempty"`
	Pinned       *bool   `json:"pinned,omitempty"`
}

type StreamRequest struct {
	Content   string `json:"content"`
	WebSearch *bool  `json:"web_search,omitempty"`
}

type ParallelRequest struct {
	Content string            `json:"content"`
	Models  []models.ModelRef `json:"models"`
}

type bulkMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.Get(ctx, chatsPath, &chats); err != nil {
		return nil, errors.Wrap(err, "failed to load chats")
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (models.Chat, error) {
	if req.Title == "" {
		req.Title = DefaultTitle
	}
	var chat models.Chat
	if err := c.Post(ctx, chatsPath, req, &chat); err != nil {
		return models.Chat{}, errors.Wrap(err, "failed to create chat")
	}
	return chat, nil
}

func (c *Client) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	if err := c.Get(ctx, ChatPath(chatID), &chat); err != nil {
		return models.Chat{}, errors.Wrap(err, "failed to load chat")
	}
	return chat, nil
}

func (c *Client) UpdateChat(ctx context.Context, chatID string, req UpdateChatRequest) (models.Chat, error) {
	var chat models.Chat
	if err := c.Patch(ctx, ChatPath(chatID), req, &chat); err != nil {
		return models.Chat{}, errors.Wrap(err, "failed to update chat")
	}
	return chat, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return errors.Wrap(c.Delete(ctx, ChatPath(chatID), nil), "failed to delete chat")
}

// Messages returns the durable history of a chat, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.Get(ctx, MessagesPath(chatID), &msgs); err != nil {
		return nil, errors.Wrap(err, "failed to load messages")
	}
	return msgs, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return errors.Wrap(c.Delete(ctx, MessagePath(chatID, messageID), nil), "failed to delete message")
}

// DeleteSubsequentMessages removes every message after messageID.
func (c *Client) DeleteSubsequentMessages(ctx context.Context, chatID, messageID string) error {
	err := c.Delete(ctx, MessagePath(chatID, messageID)+"/subsequent", nil)
	return errors.Wrap(err, "failed to delete subsequent messages")
}

// BulkInsertMessages appends msgs to a chat. Only role and content are sent.
func (c *Client) BulkInsertMessages(ctx context.Context, chatID string, msgs []models.Message) error {
	body := struct {
		Messages []bulkMessage `json:"messages"`
	}{Messages: make([]bulkMessage, 0, len(msgs))}
	for _, m := range msgs {
		body.Messages = append(body.Messages, bulkMessage{Role: m.Role, Content: m.Content})
	}
	err := c.Post(ctx, ChatPath(chatID)+bulkMessagePath, body, nil)
	return errors.Wrap(err, "failed to insert messages")
}

// CreateParallel asks the backend to fork one branch chat per model off
// chatID. The returned branches are ready to be streamed into.
func (c *Client) CreateParallel(ctx context.Context, chatID, content string, refs []models.ModelRef) ([]models.Chat, error) {
	var branches []models.Chat
	req := ParallelRequest{Content: content, Models: refs}
	if err := c.Post(ctx, ParallelPath(chatID), req, &branches); err != nil {
		return nil, errors.Wrap(err, "failed to create parallel branches")
	}
	return branches, nil
}

// StreamMessage opens the reply stream for a new user message.
func (c *Client) StreamMessage(ctx context.Context, chatID string, req StreamRequest) (io.ReadCloser, error) {
	return c.OpenStream(ctx, StreamPath(chatID), req)
}

// Regenerate opens a stream that replaces the last assistant reply.
func (c *Client) Regenerate(ctx context.Context, chatID string) (io.ReadCloser, error) {
	return c.OpenStream(ctx, RegeneratePath(chatID), nil)
}
