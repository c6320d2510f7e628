package chat

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/notify"
)

// SwitchTo focuses chatID. When the chat has a live stream the durable
// history is merged with the stream's provisional messages, and later stream
// updates are mirrored into the view until focus moves again or the stream
// ends. A history fetch failure during a live stream falls back to showing
// just the provisional pair.
func (s *Service) SwitchTo(ctx context.Context, chatID string) error {
	s.stopFollowing()
	focus := s.view.Focus(chatID)
	if chatID == "" {
		return nil
	}

	if sess, ok := s.registry.Session(chatID); !ok || !sess.Live() {
		return s.showHistory(ctx, chatID)
	}

	// subscribe before fetching so no update between fetch and follow is lost
	events, unsubscribe := s.registry.Subscribe(chatID)

	durable, fetchErr := s.backend.Messages(ctx, chatID)
	sess, ok := s.registry.Session(chatID)
	if !ok || !sess.Live() {
		// finished while we were fetching; the completion path reloads
		unsubscribe()
		if fetchErr != nil || !ok || sess.Status == SessionCompleted {
			return s.showHistory(ctx, chatID)
		}
		s.view.ReplaceIfFocused(chatID, Reconcile(durable, sess))
		return nil
	}

	var merged []models.Message
	if fetchErr != nil {
		s.logger.Warn().Err(fetchErr).Str("chat_id", chatID).Msg("history fetch failed, showing stream only")
		merged = []models.Message{sess.User, sess.AssistantMessage()}
	} else {
		merged = Reconcile(durable, sess)
	}
	s.view.ReplaceIfFocused(chatID, merged)

	followCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.unfollow = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.follow(followCtx, focus, chatID, sess.Assistant.ID, events)
	}()
	return nil
}

func (s *Service) showHistory(ctx context.Context, chatID string) error {
	msgs, err := s.backend.Messages(ctx, chatID)
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to load messages.")
		return errors.Wrapf(err, "switch to %s", chatID)
	}
	s.view.ReplaceIfFocused(chatID, msgs)
	return nil
}

// follow mirrors live updates of chatID's session into the view.
func (s *Service) follow(ctx context.Context, focus <-chan struct{}, chatID, assistantID string, events <-chan SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-focus:
			return
		case ev, ok := <-events:
			if !ok || ev.Kind != EventUpdated {
				return
			}
			content := ev.Session.Content
			s.view.UpdateIfFocused(chatID, assistantID, func(m *models.Message) {
				if m.Streaming && len(content) >= len(m.Content) {
					m.Content = content
				}
			})
		}
	}
}

func (s *Service) stopFollowing() {
	s.mu.Lock()
	cancel := s.unfollow
	s.unfollow = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reconcile merges a chat's durable history with its in-flight session. The
// provisional user message is added unless a durable user message has the
// same content, and the provisional assistant message is added unless one
// with its id is already present, in which case that entry takes the live
// content. Durable order is kept and provisional messages go last.
func Reconcile(durable []models.Message, sess Session) []models.Message {
	out := slices.Clone(durable)

	userPersisted := slices.ContainsFunc(durable, func(m models.Message) bool {
		return m.Role == models.RoleUser && m.Content == sess.User.Content
	})
	if !userPersisted {
		out = append(out, sess.User)
	}

	live := sess.AssistantMessage()
	i := slices.IndexFunc(out, func(m models.Message) bool {
		return m.Role == models.RoleAssistant && m.ID == sess.Assistant.ID
	})
	if i < 0 {
		return append(out, live)
	}
	out[i].Content = live.Content
	out[i].Streaming = live.Streaming
	out[i].Error = live.Error
	return out
}
