package chat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/api"
	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/notify"
)

// Backend is the slice of the HTTP API the chat service needs.
type Backend interface {
	Streamer
	ListChats(ctx context.Context) ([]models.Chat, error)
	CreateChat(ctx context.Context, req api.CreateChatRequest) (models.Chat, error)
	UpdateChat(ctx context.Context, chatID string, req api.UpdateChatRequest) (models.Chat, error)
	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateParallel(ctx context.Context, chatID, content string, refs []models.ModelRef) ([]models.Chat, error)
}

type SendOptions struct {
	WebSearch *bool
	// Provider and Model are used when a chat has to be created first.
	Provider string
	Model    string
}

// Service ties streams, the session registry and the view together. Streams
// keep running when focus moves away from their chat.
type Service struct {
	backend  Backend
	coord    *Coordinator
	registry *Registry
	view     *View
	notifier notify.Notifier
	logger   zerolog.Logger

	mu       sync.Mutex
	handles  map[string]*CancelHandle
	unfollow context.CancelFunc

	wg sync.WaitGroup
}

type ServiceOption func(*Service)

func WithNotifier(n notify.Notifier) ServiceOption { return func(s *Service) { s.notifier = n } }

func WithLogger(l zerolog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func NewService(backend Backend, registry *Registry, view *View, opts ...ServiceOption) *Service {
	s := &Service{
		backend:  backend,
		coord:    NewCoordinator(backend),
		registry: registry,
		view:     view,
		notifier: notify.Log(),
		logger:   log.With().Str("component", "chat").Logger(),
		handles:  make(map[string]*CancelHandle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) View() *View { return s.view }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Coordinator() *Coordinator { return s.coord }

// LoadChats refreshes the chat list and focuses the most recent chat when
// nothing is focused yet.
func (s *Service) LoadChats(ctx context.Context) error {
	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to load chats.")
		return err
	}
	s.view.SetChats(chats)
	if s.view.Focused() == "" && len(chats) > 0 {
		return s.SwitchTo(ctx, chats[0].ID)
	}
	return nil
}

// CreateChat creates a chat, puts it at the top of the list and focuses it.
func (s *Service) CreateChat(ctx context.Context, req api.CreateChatRequest) (models.Chat, error) {
	chat, err := s.backend.CreateChat(ctx, req)
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to create chat.")
		return models.Chat{}, err
	}
	s.view.PrependChats(chat)
	s.stopFollowing()
	s.view.Focus(chat.ID)
	return chat, nil
}

// Send streams content into the focused chat, creating one when nothing is
// focused. It blocks until the stream ends and returns the stream error.
func (s *Service) Send(ctx context.Context, content string, opts SendOptions) error {
	if isBlank(content) {
		return ErrEmptyContent
	}
	chatID, err := s.ensureChat(ctx, content, opts.Provider, opts.Model)
	if err != nil {
		return err
	}
	s.maybeRetitle(ctx, chatID, content)

	user, assistant, err := s.begin(chatID, content)
	if err != nil {
		return err
	}
	return s.run(ctx, chatID, content, opts.WebSearch, user, assistant)
}

// SendParallel fans content out to one branch chat per model, focuses the
// first branch and streams every branch concurrently. It returns once the
// streams have started; use Wait to block until they finish.
func (s *Service) SendParallel(ctx context.Context, content string, refs []models.ModelRef) ([]models.Chat, error) {
	if isBlank(content) {
		return nil, ErrEmptyContent
	}
	if len(refs) == 0 {
		return nil, ErrNoModels
	}

	chatID, err := s.ensureChat(ctx, content, refs[0].Provider, refs[0].Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat for parallel message")
	}
	s.maybeRetitle(ctx, chatID, content)

	branches, err := s.backend.CreateParallel(ctx, chatID, content, refs)
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to send parallel message")
		return nil, err
	}
	s.view.PrependChats(branches...)

	if len(branches) > 0 {
		if err := s.SwitchTo(ctx, branches[0].ID); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", branches[0].ID).Msg("focus first branch failed")
		}
	}
	for _, b := range branches {
		if err := s.StartBranchStreaming(ctx, b.ID, content); err != nil {
			s.logger.Error().Err(err).Str("chat_id", b.ID).Msg("start branch stream failed")
		}
	}
	return branches, nil
}

// StartBranchStreaming streams content into chatID in the background.
func (s *Service) StartBranchStreaming(ctx context.Context, chatID, content string) error {
	if isBlank(content) {
		return ErrEmptyContent
	}
	user, assistant, err := s.begin(chatID, content)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.run(ctx, chatID, content, nil, user, assistant)
	}()
	return nil
}

// Cancel aborts the stream of chatID. It reports whether one was running.
func (s *Service) Cancel(chatID string) bool {
	s.mu.Lock()
	h, ok := s.handles[chatID]
	s.mu.Unlock()
	if ok {
		h.Cancel()
	}
	return ok
}

// Wait blocks until every background stream has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) begin(chatID, content string) (models.Message, models.Message, error) {
	now := time.Now()
	user := models.Message{
		ID:        provisionalID(models.RoleUser),
		ChatID:    chatID,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	assistant := models.Message{
		ID:        provisionalID(models.RoleAssistant),
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		CreatedAt: now,
		Streaming: true,
	}
	if _, err := s.registry.Begin(chatID, user, assistant); err != nil {
		return models.Message{}, models.Message{}, err
	}
	s.view.AppendIfFocused(chatID, user, assistant)
	return user, assistant, nil
}

func (s *Service) run(ctx context.Context, chatID, content string, webSearch *bool, user, assistant models.Message) error {
	_, err := s.coord.StreamMessage(ctx, chatID, content, Options{
		WebSearch: webSearch,
		OnStart: func(h *CancelHandle) {
			s.mu.Lock()
			s.handles[chatID] = h
			s.mu.Unlock()
		},
		OnChunk: func(_, accumulated string) {
			s.registry.Update(chatID, accumulated)
			s.view.UpdateIfFocused(chatID, assistant.ID, func(m *models.Message) {
				m.Content = accumulated
				m.Streaming = true
			})
		},
	})

	s.mu.Lock()
	delete(s.handles, chatID)
	s.mu.Unlock()

	if err != nil {
		s.fail(chatID, assistant.ID)
		return err
	}
	// a canceled stream ends like a completed one with partial content
	s.complete(context.WithoutCancel(ctx), chatID, assistant.ID)
	return nil
}

func (s *Service) complete(ctx context.Context, chatID, assistantID string) {
	s.registry.Complete(chatID)
	s.view.UpdateIfFocused(chatID, assistantID, func(m *models.Message) { m.Streaming = false })

	if s.view.Focused() == chatID {
		msgs, err := s.backend.Messages(ctx, chatID)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("reload after stream failed")
		} else {
			s.view.ReplaceIfFocused(chatID, msgs)
		}
	}
	s.registry.Release(chatID)
}

func (s *Service) fail(chatID, assistantID string) {
	s.registry.Fail(chatID)
	s.view.UpdateIfFocused(chatID, assistantID, func(m *models.Message) {
		m.Content = ErrorContent
		m.Streaming = false
		m.Error = true
	})
	s.registry.Release(chatID)
	s.notifier.Notify(notify.LevelError, "Failed to get response")
}

func (s *Service) ensureChat(ctx context.Context, content, provider, model string) (string, error) {
	if id := s.view.Focused(); id != "" {
		return id, nil
	}
	chat, err := s.CreateChat(ctx, api.CreateChatRequest{
		Title:        GenerateTitle(content),
		SystemPrompt: DefaultSystemPrompt,
		Provider:     provider,
		Model:        model,
	})
	if err != nil {
		return "", err
	}
	return chat.ID, nil
}

// maybeRetitle renames a chat still carrying the default title when content
// is its first user message. Failures are logged only.
func (s *Service) maybeRetitle(ctx context.Context, chatID, content string) {
	chat, ok := s.view.Chat(chatID)
	if !ok || !IsDefaultTitle(chat.Title) {
		return
	}
	if s.view.Focused() == chatID && slices.ContainsFunc(s.view.Messages(), func(m models.Message) bool {
		return m.Role == models.RoleUser
	}) {
		return
	}
	title := GenerateTitle(content)
	updated, err := s.backend.UpdateChat(ctx, chatID, api.UpdateChatRequest{Title: &title})
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("update chat title failed")
		return
	}
	s.view.ReplaceChat(updated)
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
