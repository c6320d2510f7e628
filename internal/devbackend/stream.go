package devbackend

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/neko-client/internal/chat"
	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/stream"
)

type streamReq struct {
	Content   string `json:"content"`
	WebSearch *bool  `json:"web_search"`
}

func (s *Server) streamMessage(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, 10002, "content required")
		return
	}

	ctx := c.Request.Context()
	userMsg, err := s.repo.InsertMessage(ctx, rec.ID, models.RoleUser, req.Content)
	if err != nil {
		s.internalError(c, "insert user message", err)
		return
	}
	s.hub.publish(rec.UserID, userMsg.model())
	s.maybeRetitle(ctx, rec, req.Content)

	s.logger.Debug().
		Str("chat_id", rec.ID).
		Bool("web_search", req.WebSearch != nil && *req.WebSearch).
		Msg("stream")
	s.streamReply(c, rec)
}

func (s *Server) regenerate(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	if err := s.repo.DropTrailingAssistant(c.Request.Context(), rec.ID); err != nil {
		s.internalError(c, "drop trailing reply", err)
		return
	}
	s.streamReply(c, rec)
}

// streamReply writes the responder's chunks as a plain-text body, flushing
// each one. A responder failure is reported in-band as "ERROR: <message>"
// since the status line is already sent. Whatever was streamed is stored as
// the assistant reply, even when the client goes away mid-stream.
func (s *Server) streamReply(c *gin.Context, rec *chatRecord) {
	ctx := c.Request.Context()
	turns, err := s.conversation(ctx, rec)
	if err != nil {
		s.internalError(c, "load conversation", err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	responder, err := s.responders.Get(ctx, rec.Provider, rec.Model)
	if err != nil {
		s.writeStreamError(c, err)
		return
	}

	var reply strings.Builder
	defer func() { s.saveReply(context.WithoutCancel(ctx), rec, reply.String()) }()

	chunks, errs := responder.Respond(ctx, turns)
	gone := false
	for chunk := range chunks {
		reply.WriteString(chunk)
		if gone {
			continue
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			gone = true
			continue
		}
		c.Writer.Flush()
	}
	// errs is buffered, drain it after chunks closed
	if err := <-errs; err != nil && !gone && ctx.Err() == nil {
		s.writeStreamError(c, err)
	}
}

func (s *Server) writeStreamError(c *gin.Context, err error) {
	s.logger.Warn().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("responder failed")
	_, _ = c.Writer.WriteString(stream.ErrorPrefix + " " + err.Error())
	c.Writer.Flush()
}

func (s *Server) saveReply(ctx context.Context, rec *chatRecord, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	m, err := s.repo.InsertMessage(ctx, rec.ID, models.RoleAssistant, content)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", rec.ID).Msg("save reply")
		return
	}
	s.hub.publish(rec.UserID, m.model())
}

// conversation is the responder input: the chat's system prompt followed by
// the most recent history.
func (s *Server) conversation(ctx context.Context, rec *chatRecord) ([]Turn, error) {
	history, err := s.repo.RecentMessages(ctx, rec.ID, s.cfg.ContextWindow)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(history)+1)
	if rec.SystemPrompt != "" {
		turns = append(turns, Turn{Role: "system", Content: rec.SystemPrompt})
	}
	for _, m := range history {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// maybeRetitle names a default-titled chat after its first user message.
func (s *Server) maybeRetitle(ctx context.Context, rec *chatRecord, content string) {
	if !chat.IsDefaultTitle(rec.Title) {
		return
	}
	n, err := s.repo.CountUserMessages(ctx, rec.ID)
	if err != nil || n != 1 {
		return
	}
	title := chat.GenerateTitle(content)
	if err := s.repo.UpdateChat(ctx, rec, map[string]any{"title": title}); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", rec.ID).Msg("retitle")
		return
	}
	rec.Title = title
}

type parallelReq struct {
	Content string            `json:"content"`
	Models  []models.ModelRef `json:"models"`
}

// parallel stores the user message in the parent chat and forks one branch
// per model. The client streams into each branch afterwards.
func (s *Server) parallel(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	var req parallelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, 10002, "content required")
		return
	}
	if len(req.Models) == 0 {
		fail(c, http.StatusBadRequest, 10002, "at least one model required")
		return
	}

	ctx := c.Request.Context()
	userMsg, err := s.repo.InsertMessage(ctx, rec.ID, models.RoleUser, req.Content)
	if err != nil {
		s.internalError(c, "insert user message", err)
		return
	}
	s.hub.publish(rec.UserID, userMsg.model())

	base := rec.Title
	if chat.IsDefaultTitle(base) {
		base = chat.GenerateTitle(req.Content)
	}
	s.maybeRetitle(ctx, rec, req.Content)

	branches, err := s.repo.CreateBranches(ctx, rec, userMsg, base, req.Models)
	if err != nil {
		s.internalError(c, "create branches", err)
		return
	}
	ok(c, http.StatusOK, chatModels(branches))
}
