package chat

import (
	"slices"
	"sync"

	"github.com/suPer8Hu/neko-client/internal/models"
)

// ViewSnapshot is what observers of a View receive after every change.
type ViewSnapshot struct {
	ChatID   string
	Messages []models.Message
	Chats    []models.Chat
}

// View is the single focused conversation plus the chat list. Writers that
// target a specific chat use the *IfFocused methods, which check focus and
// mutate under one lock so a stream for a chat that lost focus cannot write
// into the new chat's list.
type View struct {
	mu        sync.Mutex
	chatID    string
	messages  []models.Message
	chats     []models.Chat
	focusDone chan struct{}

	obsMu     sync.Mutex
	observers map[int]func(ViewSnapshot)
	nextObs   int
}

func NewView() *View {
	return &View{
		focusDone: make(chan struct{}),
		observers: make(map[int]func(ViewSnapshot)),
	}
}

func (v *View) Focused() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chatID
}

// Messages returns a copy of the visible list.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.messages)
}

func (v *View) Chats() []models.Chat {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.chats)
}

func (v *View) Chat(chatID string) (models.Chat, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := slices.IndexFunc(v.chats, func(c models.Chat) bool { return c.ID == chatID })
	if i < 0 {
		return models.Chat{}, false
	}
	return v.chats[i], true
}

// Tree is the chat list arranged by branch parent.
func (v *View) Tree() []*TreeNode { return BuildTree(v.Chats()) }

// Focus makes chatID the focused chat and clears the visible list. The
// returned channel is closed on the next Focus call.
func (v *View) Focus(chatID string) <-chan struct{} {
	v.mu.Lock()
	close(v.focusDone)
	v.focusDone = make(chan struct{})
	done := v.focusDone
	v.chatID = chatID
	v.messages = nil
	snap := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snap)
	return done
}

// ReplaceIfFocused swaps the visible list when chatID is focused.
func (v *View) ReplaceIfFocused(chatID string, msgs []models.Message) bool {
	return v.mutate(chatID, func() { v.messages = slices.Clone(msgs) })
}

func (v *View) AppendIfFocused(chatID string, msgs ...models.Message) bool {
	return v.mutate(chatID, func() { v.messages = append(v.messages, msgs...) })
}

// UpdateIfFocused applies fn to the visible message messageID when chatID is
// focused. It reports whether the message was found.
func (v *View) UpdateIfFocused(chatID, messageID string, fn func(m *models.Message)) bool {
	found := false
	v.mutate(chatID, func() {
		for i := range v.messages {
			if v.messages[i].ID == messageID {
				fn(&v.messages[i])
				found = true
				return
			}
		}
	})
	return found
}

func (v *View) mutate(chatID string, fn func()) bool {
	v.mu.Lock()
	if chatID == "" || v.chatID != chatID {
		v.mu.Unlock()
		return false
	}
	fn()
	snap := v.snapshotLocked()
	v.mu.Unlock()

	v.notify(snap)
	return true
}

func (v *View) SetChats(chats []models.Chat) {
	v.mu.Lock()
	v.chats = slices.Clone(chats)
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.notify(snap)
}

// PrependChats puts chats at the head of the list, most recent first.
func (v *View) PrependChats(chats ...models.Chat) {
	v.mu.Lock()
	v.chats = append(slices.Clone(chats), v.chats...)
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.notify(snap)
}

// ReplaceChat updates the list entry with chat.ID, if present.
func (v *View) ReplaceChat(chat models.Chat) {
	v.mu.Lock()
	i := slices.IndexFunc(v.chats, func(c models.Chat) bool { return c.ID == chat.ID })
	if i < 0 {
		v.mu.Unlock()
		return
	}
	v.chats[i] = chat
	snap := v.snapshotLocked()
	v.mu.Unlock()
	v.notify(snap)
}

// Subscribe registers fn for every later change. Calls may arrive from any
// goroutine.
func (v *View) Subscribe(fn func(ViewSnapshot)) func() {
	v.obsMu.Lock()
	id := v.nextObs
	v.nextObs++
	v.observers[id] = fn
	v.obsMu.Unlock()

	return func() {
		v.obsMu.Lock()
		delete(v.observers, id)
		v.obsMu.Unlock()
	}
}

func (v *View) snapshotLocked() ViewSnapshot {
	return ViewSnapshot{
		ChatID:   v.chatID,
		Messages: slices.Clone(v.messages),
		Chats:    slices.Clone(v.chats),
	}
}

func (v *View) notify(snap ViewSnapshot) {
	v.obsMu.Lock()
	fns := make([]func(ViewSnapshot), 0, len(v.observers))
	for _, fn := range v.observers {
		fns = append(fns, fn)
	}
	v.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
