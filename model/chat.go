package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

const DefaultChatName = "Untitled"

type Chat struct {
	ID        string        `gorm:"primaryKey;type:varchar(255)" json:"id"`
	UserID    string        `gorm:"type:varchar(128);not null;index:idx_chats_user_id_created_at" json:"userId"`
	Name      string        `gorm:"type:varchar(255);not null;default:'Untitled'" json:"name"`
	CreatedAt time.Time     `gorm:"index:idx_chats_user_id_created_at" json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []ChatMessage `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
}

func CreateChat(ctx context.Context, db *gorm.DB, chat *Chat) error {
	if chat.Name == "" {
		chat.Name = DefaultChatName
	}
	if err := db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat finds a chat by id regardless of owner.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*Chat, error) {
	var chat Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &chat, nil
}

// GetUserChat finds a chat owned by userID. A chat that exists but belongs to somebody else
// is reported as ErrNotFound.
func GetUserChat(ctx context.Context, db *gorm.DB, id string, userID string) (*Chat, error) {
	var chat Chat
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &chat, nil
}

// ListUserChats returns the chats of userID, newest first.
func ListUserChats(ctx context.Context, db *gorm.DB, userID string) ([]Chat, error) {
	chats := []Chat{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func UpdateChatName(ctx context.Context, db *gorm.DB, id string, userID string, name string) error {
	result := db.WithContext(ctx).Model(&Chat{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("name", name)
	if result.Error != nil {
		return fmt.Errorf("failed to update chat name: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserChat removes a chat and its messages.
func DeleteUserChat(ctx context.Context, db *gorm.DB, id string, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := GetUserChat(ctx, tx, id, userID); err != nil {
			return err
		}
		// The foreign key cascades as well; deleting explicitly keeps drivers without
		// enforced constraints consistent.
		if err := tx.Where("chat_id = ?", id).Delete(&ChatMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		if err := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&Chat{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		return nil
	})
}

// DeleteEmptyChats removes chats created before cutoff that never received a message.
func DeleteEmptyChats(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM chat_messages WHERE chat_messages.chat_id = chats.id)").
		Delete(&Chat{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete empty chats: %w", result.Error)
	}
	return result.RowsAffected, nil
}
