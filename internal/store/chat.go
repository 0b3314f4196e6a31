package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zhouzirui/kyc-shield/backend/internal/model/chat"
)

// ChatMessage is the row of the chats collection.
type ChatMessage struct {
	ID     string    `gorm:"primaryKey;size:36"`
	Owner  string    `gorm:"size:128;index:idx_chats_owner_time,priority:1"`
	SentAt time.Time `gorm:"index:idx_chats_owner_time,priority:2"`
	Sender string    `gorm:"size:16"`
	Text   string    `gorm:"type:text"`
}

func (ChatMessage) TableName() string { return "chats" }

// ChatRepository persists signed-in transcripts.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Append stores msg under its owner.
func (r *ChatRepository) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	row := ChatMessage{
		ID:     msg.ID,
		Owner:  msg.Owner,
		SentAt: msg.SentAt,
		Sender: string(msg.Sender),
		Text:   msg.Text,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return chat.Message{}, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

// Recent returns the owner's newest limit messages in ascending time order.
func (r *ChatRepository) Recent(ctx context.Context, owner string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = chat.TranscriptLimit
	}

	var rows []ChatMessage
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}

	out := make([]chat.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = chat.Message{
			ID:     row.ID,
			Owner:  row.Owner,
			Sender: chat.Sender(row.Sender),
			Text:   row.Text,
			SentAt: row.SentAt.UTC(),
		}
	}
	return out, nil
}
