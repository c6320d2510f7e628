package devbackend

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suPer8Hu/neko-client/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate() error {
	return r.db.AutoMigrate(&userRecord{}, &chatRecord{}, &messageRecord{})
}

func (r *Repo) CreateUser(ctx context.Context, u *userRecord) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (*userRecord, error) {
	var u userRecord
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) UserByID(ctx context.Context, id string) (*userRecord, error) {
	var u userRecord
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListChats returns pinned chats first, then most recently updated.
func (r *Repo) ListChats(ctx context.Context, userID string) ([]chatRecord, error) {
	var chats []chatRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("pinned DESC").
		Order("updated_at DESC").
		Find(&chats).Error
	return chats, err
}

func (r *Repo) CreateChat(ctx context.Context, c *chatRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// Chat returns gorm.ErrRecordNotFound when the chat does not exist or is
// owned by someone else.
func (r *Repo) Chat(ctx context.Context, userID, chatID string) (*chatRecord, error) {
	var c chatRecord
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) UpdateChat(ctx context.Context, c *chatRecord, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(c).Updates(updates).Error
}

func (r *Repo) DeleteChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chatRecord{}, "id = ?", chatID).Error
	})
}

// Messages returns the chat history, oldest first.
func (r *Repo) Messages(ctx context.Context, chatID string) ([]messageRecord, error) {
	var msgs []messageRecord
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Find(&msgs).Error
	return msgs, err
}

// RecentMessages returns at most limit of the newest messages, oldest first.
func (r *Repo) RecentMessages(ctx context.Context, chatID string, limit int) ([]messageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []messageRecord
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// InsertMessage appends a message and bumps the chat's updated_at.
func (r *Repo) InsertMessage(ctx context.Context, chatID string, role models.Role, content string) (*messageRecord, error) {
	m := &messageRecord{ID: uuid.NewString(), ChatID: chatID, Role: string(role), Content: content}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&chatRecord{}).Where("id = ?", chatID).Update("updated_at", m.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repo) BulkInsert(ctx context.Context, chatID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	recs := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		recs = append(recs, messageRecord{ID: uuid.NewString(), ChatID: chatID, Role: string(m.Role), Content: m.Content})
	}
	return r.db.WithContext(ctx).Create(&recs).Error
}

func (r *Repo) message(ctx context.Context, chatID, messageID string) (*messageRecord, error) {
	var m messageRecord
	if err := r.db.WithContext(ctx).
		Where("chat_id = ? AND id = ?", chatID, messageID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	res := r.db.WithContext(ctx).Where("chat_id = ? AND id = ?", chatID, messageID).Delete(&messageRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAfter removes every message written after messageID, and messageID
// itself when inclusive is set.
func (r *Repo) DeleteAfter(ctx context.Context, chatID, messageID string, inclusive bool) error {
	m, err := r.message(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	op := "seq > ?"
	if inclusive {
		op = "seq >= ?"
	}
	return r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Where(op, m.Seq).
		Delete(&messageRecord{}).Error
}

// DropTrailingAssistant deletes the last message of a chat when it is an
// assistant reply.
func (r *Repo) DropTrailingAssistant(ctx context.Context, chatID string) error {
	var last messageRecord
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("seq DESC").First(&last).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if last.Role != string(models.RoleAssistant) {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&messageRecord{}, "seq = ?", last.Seq).Error
}

func (r *Repo) CountUserMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&messageRecord{}).
		Where("chat_id = ? AND role = ?", chatID, string(models.RoleUser)).
		Count(&n).Error
	return n, err
}

// CreateBranches forks one chat per model off parent, titled "<base> (<model>)".
// Each branch receives a copy of parent's history up to, but not including,
// the branch point.
func (r *Repo) CreateBranches(ctx context.Context, parent *chatRecord, point *messageRecord, base string, refs []models.ModelRef) ([]chatRecord, error) {
	var history []messageRecord
	if err := r.db.WithContext(ctx).
		Where("chat_id = ? AND seq < ?", parent.ID, point.Seq).
		Order("seq ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}

	branches := make([]chatRecord, 0, len(refs))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range refs {
			b := chatRecord{
				ID:                   uuid.NewString(),
				UserID:               parent.UserID,
				Title:                base + " (" + ref.Model + ")",
				SystemPrompt:         parent.SystemPrompt,
				Provider:             ref.Provider,
				Model:                ref.Model,
				IsBranch:             true,
				ParentChatID:         parent.ID,
				BranchPointMessageID: point.ID,
			}
			if err := tx.Create(&b).Error; err != nil {
				return err
			}
			if len(history) > 0 {
				copies := make([]messageRecord, 0, len(history))
				for _, m := range history {
					copies = append(copies, messageRecord{
						ID:        uuid.NewString(),
						ChatID:    b.ID,
						Role:      m.Role,
						Content:   m.Content,
						CreatedAt: m.CreatedAt,
					})
				}
				if err := tx.Create(&copies).Error; err != nil {
					return err
				}
			}
			branches = append(branches, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return branches, nil
}
