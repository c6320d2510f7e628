package devbackend

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/neko-client/internal/chat"
	"github.com/suPer8Hu/neko-client/internal/models"
)

// ownedChat loads the :id chat of the caller, writing the error response
// itself when it cannot.
func (s *Server) ownedChat(c *gin.Context) (*chatRecord, bool) {
	rec, err := s.repo.Chat(c.Request.Context(), userIDFromContext(c), c.Param("id"))
	if err == gorm.ErrRecordNotFound {
		fail(c, http.StatusNotFound, 40401, "chat not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", c.Param("id")).Msg("load chat")
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil, false
	}
	return rec, true
}

func (s *Server) internalError(c *gin.Context, what string, err error) {
	s.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg(what)
	fail(c, http.StatusInternalServerError, 50001, "internal error")
}

func (s *Server) listChats(c *gin.Context) {
	recs, err := s.repo.ListChats(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		s.internalError(c, "list chats", err)
		return
	}
	ok(c, http.StatusOK, chatModels(recs))
}

type createChatReq struct {
	Title                string `json:"title"`
	SystemPrompt         string `json:"system_prompt"`
	Provider             string `json:"provider"`
	Model                string `json:"model"`
	IsBranch             bool   `json:"is_branch"`
	ParentChatID         string `json:"parent_chat_id"`
	BranchPointMessageID string `json:"branch_point_message_id"`
}

func (s *Server) createChat(c *gin.Context) {
	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	rec := chatRecord{
		UserID:               userIDFromContext(c),
		Title:                strings.TrimSpace(req.Title),
		SystemPrompt:         req.SystemPrompt,
		Provider:             normalizeProvider(req.Provider),
		Model:                strings.TrimSpace(req.Model),
		IsBranch:             req.IsBranch,
		ParentChatID:         req.ParentChatID,
		BranchPointMessageID: req.BranchPointMessageID,
	}
	if rec.Title == "" {
		rec.Title = chat.DefaultChatTitle
	}
	if rec.Provider == "" {
		rec.Provider = s.cfg.DefaultProvider
	}
	if rec.Model == "" {
		rec.Model = s.cfg.DefaultModel
	}
	if err := s.repo.CreateChat(c.Request.Context(), &rec); err != nil {
		s.internalError(c, "create chat", err)
		return
	}
	ok(c, http.StatusCreated, rec.model())
}

func (s *Server) getChat(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, rec.model())
}

type updateChatReq struct {
	Title        *string `json:"title"`
	SystemPrompt *string `json:"system_prompt"`
	Provider     *string `json:"provider"`
	Model        *string `json:"model"`
	Pinned       *bool   `json:"pinned"`
}

func (s *Server) updateChat(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	var req updateChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			fail(c, http.StatusBadRequest, 10002, "title must not be empty")
			return
		}
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.SystemPrompt != nil {
		updates["system_prompt"] = *req.SystemPrompt
	}
	if req.Provider != nil {
		updates["provider"] = normalizeProvider(*req.Provider)
	}
	if req.Model != nil {
		updates["model"] = *req.Model
	}
	if req.Pinned != nil {
		updates["pinned"] = *req.Pinned
	}
	if err := s.repo.UpdateChat(c.Request.Context(), rec, updates); err != nil {
		s.internalError(c, "update chat", err)
		return
	}
	fresh, err := s.repo.Chat(c.Request.Context(), rec.UserID, rec.ID)
	if err != nil {
		s.internalError(c, "reload chat", err)
		return
	}
	ok(c, http.StatusOK, fresh.model())
}

func (s *Server) deleteChat(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	if err := s.repo.DeleteChat(c.Request.Context(), rec.ID); err != nil {
		s.internalError(c, "delete chat", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	msgs, err := s.repo.Messages(c.Request.Context(), rec.ID)
	if err != nil {
		s.internalError(c, "list messages", err)
		return
	}
	ok(c, http.StatusOK, messageModels(msgs))
}

type bulkReq struct {
	Messages []models.Message `json:"messages"`
}

func (s *Server) bulkInsertMessages(c *gin.Context) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	for _, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			fail(c, http.StatusBadRequest, 10002, "invalid role "+string(m.Role))
			return
		}
	}
	if err := s.repo.BulkInsert(c.Request.Context(), rec.ID, req.Messages); err != nil {
		s.internalError(c, "bulk insert", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteMessage(c *gin.Context) {
	s.deleteMessages(c, func(chatID, messageID string) error {
		return s.repo.DeleteMessage(c.Request.Context(), chatID, messageID)
	})
}

func (s *Server) deleteSubsequent(c *gin.Context) {
	s.deleteMessages(c, func(chatID, messageID string) error {
		return s.repo.DeleteAfter(c.Request.Context(), chatID, messageID, false)
	})
}

func (s *Server) deleteAndSubsequent(c *gin.Context) {
	s.deleteMessages(c, func(chatID, messageID string) error {
		return s.repo.DeleteAfter(c.Request.Context(), chatID, messageID, true)
	})
}

func (s *Server) deleteMessages(c *gin.Context, del func(chatID, messageID string) error) {
	rec, found := s.ownedChat(c)
	if !found {
		return
	}
	err := del(rec.ID, c.Param("message_id"))
	if err == gorm.ErrRecordNotFound {
		fail(c, http.StatusNotFound, 40402, "message not found")
		return
	}
	if err != nil {
		s.internalError(c, "delete messages", err)
		return
	}
	c.Status(http.StatusNoContent)
}
