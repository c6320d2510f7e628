package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suPer8Hu/neko-client/internal/models"
)

func TestViewIgnoresWritesForUnfocusedChat(t *testing.T) {
	v := NewView()
	v.Focus("a")
	assert.True(t, v.AppendIfFocused("a", models.Message{ID: "1", Content: "x"}))

	v.Focus("b")
	assert.Empty(t, v.Messages())
	assert.False(t, v.AppendIfFocused("a", models.Message{ID: "2"}))
	assert.False(t, v.ReplaceIfFocused("a", []models.Message{{ID: "3"}}))
	assert.False(t, v.UpdateIfFocused("a", "1", func(m *models.Message) { m.Content = "y" }))
	assert.Empty(t, v.Messages())
}

func TestViewUpdateIfFocused(t *testing.T) {
	v := NewView()
	v.Focus("a")
	v.ReplaceIfFocused("a", []models.Message{{ID: "1", Content: "x"}})

	assert.True(t, v.UpdateIfFocused("a", "1", func(m *models.Message) { m.Content = "y" }))
	assert.False(t, v.UpdateIfFocused("a", "missing", func(m *models.Message) { m.Content = "z" }))
	assert.Equal(t, "y", v.Messages()[0].Content)
}

func TestViewFocusChannelClosesOnNextFocus(t *testing.T) {
	v := NewView()
	first := v.Focus("a")
	select {
	case <-first:
		t.Fatal("closed too early")
	default:
	}
	v.Focus("b")
	<-first
}

func TestViewObservers(t *testing.T) {
	v := NewView()
	var mu sync.Mutex
	var seen []string
	unsubscribe := v.Subscribe(func(s ViewSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.ChatID)
	})

	v.Focus("a")
	v.AppendIfFocused("a", models.Message{ID: "1"})
	unsubscribe()
	v.Focus("b")

	assert.Equal(t, []string{"a", "a"}, seen)
}

func TestViewChats(t *testing.T) {
	v := NewView()
	v.SetChats([]models.Chat{{ID: "a", Title: "A"}})
	v.PrependChats(models.Chat{ID: "b", Title: "B"})
	v.ReplaceChat(models.Chat{ID: "a", Title: "A2"})
	v.ReplaceChat(models.Chat{ID: "zzz"})

	chats := v.Chats()
	assert.Equal(t, []string{"b", "a"}, []string{chats[0].ID, chats[1].ID})
	c, ok := v.Chat("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", c.Title)
}
