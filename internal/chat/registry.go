package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/neko-client/internal/models"
)

// DefaultGracePeriod is how long a finished session stays readable after it
// leaves the streaming set, so a view switching back to it can still merge it.
const DefaultGracePeriod = time.Second

type EventKind string

const (
	EventUpdated   EventKind = "updated"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRemoved   EventKind = "removed"
)

type SessionEvent struct {
	Kind    EventKind
	Session Session
}

// EventSink receives session lifecycle events. Delivery failures are logged
// and otherwise ignored.
type EventSink interface {
	PublishStreamEvent(ctx context.Context, ev LifecycleEvent) error
}

const subscriberBuffer = 32

// Registry tracks the live stream session of every chat, independent of which
// chat is on screen. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	streaming map[string]struct{}
	timers    map[string]*time.Timer
	subs      map[string]map[int]chan SessionEvent
	nextSub   int
	grace     time.Duration

	sink   EventSink
	logger zerolog.Logger
}

type RegistryOption func(*Registry)

func WithEventSink(s EventSink) RegistryOption { return func(r *Registry) { r.sink = s } }

func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(grace time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		streaming: make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		subs:      make(map[string]map[int]chan SessionEvent),
		grace:     grace,
		logger:    log.With().Str("component", "stream-registry").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Begin registers a new streaming session for chatID. A chat in the
// streaming set cannot begin again until it is released. A finished session
// still in its grace window is replaced.
func (r *Registry) Begin(chatID string, user, assistant models.Message) (Session, error) {
	r.mu.Lock()
	if _, ok := r.streaming[chatID]; ok {
		r.mu.Unlock()
		return Session{}, ErrAlreadyStreaming
	}
	if t, ok := r.timers[chatID]; ok {
		t.Stop()
		delete(r.timers, chatID)
	}
	s := &Session{
		ChatID:    chatID,
		User:      user,
		Assistant: assistant,
		Status:    SessionStreaming,
		StartedAt: time.Now(),
	}
	r.sessions[chatID] = s
	r.streaming[chatID] = struct{}{}
	snap := *s
	r.mu.Unlock()

	r.emit(snap)
	return snap, nil
}

// Update records the accumulated reply. Content only grows; shorter content
// and updates to finished sessions are ignored.
func (r *Registry) Update(chatID, content string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok || !s.Live() || len(content) < len(s.Content) {
		return Session{}, false
	}
	s.Content = content
	r.broadcast(chatID, SessionEvent{Kind: EventUpdated, Session: *s})
	return *s, true
}

// Complete marks the session finished. It stays in the streaming set until
// Release.
func (r *Registry) Complete(chatID string) (Session, bool) {
	return r.finish(chatID, SessionCompleted, EventCompleted)
}

// Fail marks the session failed; its assistant message now shows ErrorContent.
func (r *Registry) Fail(chatID string) (Session, bool) {
	return r.finish(chatID, SessionFailed, EventFailed)
}

func (r *Registry) finish(chatID string, status SessionStatus, kind EventKind) (Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	if !ok || !s.Live() {
		r.mu.Unlock()
		return Session{}, false
	}
	s.Status = status
	s.FinishedAt = time.Now()
	snap := *s
	r.broadcast(chatID, SessionEvent{Kind: kind, Session: snap})
	r.mu.Unlock()

	r.emit(snap)
	return snap, true
}

// Release takes chatID out of the streaming set and drops its session after
// the grace period.
func (r *Registry) Release(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streaming, chatID)

	s, ok := r.sessions[chatID]
	if !ok {
		return
	}
	if t, ok := r.timers[chatID]; ok {
		t.Stop()
	}
	if r.grace <= 0 {
		r.removeLocked(chatID, s)
		return
	}
	r.timers[chatID] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeLocked(chatID, s)
	})
}

// removeLocked drops s if it is still the session of chatID. A session begun
// during the grace window is left alone.
func (r *Registry) removeLocked(chatID string, s *Session) {
	if r.sessions[chatID] != s {
		return
	}
	if _, live := r.streaming[chatID]; live {
		return
	}
	delete(r.sessions, chatID)
	delete(r.timers, chatID)
	r.broadcast(chatID, SessionEvent{Kind: EventRemoved, Session: *s})
	for id, ch := range r.subs[chatID] {
		close(ch)
		delete(r.subs[chatID], id)
	}
	delete(r.subs, chatID)
}

func (r *Registry) Session(chatID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) IsStreaming(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streaming[chatID]
	return ok
}

// Streaming returns the ids in the streaming set, sorted.
func (r *Registry) Streaming() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.streaming))
	for id := range r.streaming {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe delivers every later event of chatID's session. The channel is
// closed when the session is removed or unsubscribe is called. Intermediate
// updates may be dropped for a slow reader; each carries the full content so
// the next one catches up. Terminal events are always delivered.
func (r *Registry) Subscribe(chatID string) (<-chan SessionEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan SessionEvent, subscriberBuffer)
	id := r.nextSub
	r.nextSub++
	if r.subs[chatID] == nil {
		r.subs[chatID] = make(map[int]chan SessionEvent)
	}
	r.subs[chatID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[chatID][id]; ok {
				close(c)
				delete(r.subs[chatID], id)
			}
		})
	}
}

// broadcast must be called with r.mu held. Only this method sends on
// subscriber channels, so after draining one slot the send cannot block.
func (r *Registry) broadcast(chatID string, ev SessionEvent) {
	for _, ch := range r.subs[chatID] {
		select {
		case ch <- ev:
			continue
		default:
		}
		if ev.Kind == EventUpdated {
			continue
		}
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

func (r *Registry) emit(s Session) {
	if r.sink == nil {
		return
	}
	ev := LifecycleEvent{ChatID: s.ChatID, Status: s.Status, ContentLength: len(s.Content), At: time.Now()}
	if err := r.sink.PublishStreamEvent(context.Background(), ev); err != nil {
		r.logger.Warn().Err(err).Str("chat_id", s.ChatID).Str("status", string(s.Status)).Msg("publish stream event failed")
	}
}

// Close stops pending grace timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
