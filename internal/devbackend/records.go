package devbackend

import (
	"time"

	"github.com/suPer8Hu/neko-client/internal/models"
)

type userRecord struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null"`
	Name         string    `gorm:"type:varchar(64);not null"`
	Role         string    `gorm:"type:varchar(16);not null"`
	PasswordHash string    `gorm:"type:varchar(100);not null"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (u userRecord) model() models.User {
	return models.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
}

type chatRecord struct {
	ID                   string `gorm:"type:varchar(36);primaryKey"`
	UserID               string `gorm:"type:varchar(36);index;not null"`
	Title                string `gorm:"type:varchar(255);not null"`
	SystemPrompt         string `gorm:"type:text"`
	Provider             string `gorm:"type:varchar(32);not null"`
	Model                string `gorm:"type:varchar(64);not null"`
	Pinned               bool
	IsBranch             bool
	ParentChatID         string `gorm:"type:varchar(36);index"`
	BranchPointMessageID string `gorm:"type:varchar(36)"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (chatRecord) TableName() string { return "chats" }

func (c chatRecord) model() models.Chat {
	return models.Chat{
		ID:                   c.ID,
		Title:                c.Title,
		SystemPrompt:         c.SystemPrompt,
		Provider:             c.Provider,
		Model:                c.Model,
		Pinned:               c.Pinned,
		IsBranch:             c.IsBranch,
		ParentChatID:         c.ParentChatID,
		BranchPointMessageID: c.BranchPointMessageID,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// messageRecord orders by Seq rather than CreatedAt so that messages written
// within the same clock tick keep their insertion order.
type messageRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	ChatID    string    `gorm:"type:varchar(36);index;not null"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (messageRecord) TableName() string { return "messages" }

func (m messageRecord) model() models.Message {
	return models.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      models.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func chatModels(recs []chatRecord) []models.Chat {
	out := make([]models.Chat, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.model())
	}
	return out
}

func messageModels(recs []messageRecord) []models.Message {
	out := make([]models.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.model())
	}
	return out
}
