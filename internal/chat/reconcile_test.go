package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/neko-client/internal/models"
)

func liveSession(content string) Session {
	return Session{
		ChatID:    "c",
		User:      models.Message{ID: "user-1", Role: models.RoleUser, Content: "q"},
		Assistant: models.Message{ID: "assistant-1", Role: models.RoleAssistant},
		Content:   content,
		Status:    SessionStreaming,
	}
}

func TestReconcileAppendsProvisionalPair(t *testing.T) {
	out := Reconcile([]models.Message{{ID: "d1", Role: models.RoleUser, Content: "old"}}, liveSession("par"))
	require.Len(t, out, 3)
	assert.Equal(t, "user-1", out[1].ID)
	assert.Equal(t, "assistant-1", out[2].ID)
	assert.Equal(t, "par", out[2].Content)
	assert.True(t, out[2].Streaming)
}

func TestReconcileSkipsPersistedUserMessage(t *testing.T) {
	durable := []models.Message{{ID: "d1", Role: models.RoleUser, Content: "q"}}
	out := Reconcile(durable, liveSession("par"))
	require.Len(t, out, 2)
	assert.Equal(t, "d1", out[0].ID)
	assert.Equal(t, "assistant-1", out[1].ID)
}

func TestReconcileUpdatesMatchingAssistant(t *testing.T) {
	durable := []models.Message{
		{ID: "d1", Role: models.RoleUser, Content: "q"},
		{ID: "assistant-1", Role: models.RoleAssistant, Content: "stale"},
	}
	out := Reconcile(durable, liveSession("fresh"))
	require.Len(t, out, 2)
	assert.Equal(t, "fresh", out[1].Content)
	assert.Equal(t, "stale", durable[1].Content, "input is not modified")
}

func TestReconcileFailedSession(t *testing.T) {
	s := liveSession("half")
	s.Status = SessionFailed
	out := Reconcile(nil, s)
	require.Len(t, out, 2)
	assert.Equal(t, ErrorContent, out[1].Content)
	assert.True(t, out[1].Error)
}
