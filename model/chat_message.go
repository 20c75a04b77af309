package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMessage struct {
	ID        string                      `gorm:"primaryKey;type:varchar(255)" json:"id"`
	ChatID    string                      `gorm:"type:varchar(255);not null;index:idx_chat_messages_chat_id_created_at" json:"chatId"`
	Message   datatypes.JSONType[Message] `gorm:"not null" json:"message"`
	CreatedAt time.Time                   `gorm:"index:idx_chat_messages_chat_id_created_at" json:"createdAt"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

// Payload returns the stored message with its row id.
func (m ChatMessage) Payload() Message {
	msg := m.Message.Data()
	msg.ID = m.ID
	return msg
}

// InsertMessages stores msgs in chatID in a single transaction. Every message gets a fresh id and
// a timestamp base+i*step, where base is now, lifted past the newest message already in the chat
// so that reading the chat back in created_at order reproduces submission order.
func InsertMessages(ctx context.Context, db *gorm.DB, chatID string, msgs []Message, now time.Time, step time.Duration) ([]ChatMessage, error) {
	if len(msgs) == 0 {
		return []ChatMessage{}, nil
	}
	if step < time.Millisecond {
		step = time.Millisecond
	}

	rows := make([]ChatMessage, 0, len(msgs))
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last []ChatMessage
		err := tx.Select("created_at").
			Where("chat_id = ?", chatID).
			Order("created_at DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return fmt.Errorf("failed to read latest message: %w", err)
		}

		base := now.UTC().Truncate(time.Millisecond)
		if len(last) > 0 && !base.After(last[0].CreatedAt) {
			base = last[0].CreatedAt.UTC().Add(step)
		}

		for i, msg := range msgs {
			msg.ID = NewMessageID()
			createdAt := base.Add(time.Duration(i) * step)
			rows = append(rows, ChatMessage{
				ID:        msg.ID,
				ChatID:    chatID,
				Message:   datatypes.NewJSONType(msg),
				CreatedAt: createdAt,
				UpdatedAt: createdAt,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}

		newest := rows[len(rows)-1].CreatedAt
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).UpdateColumn("updated_at", newest).Error; err != nil {
			return fmt.Errorf("failed to touch chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListChatMessages returns the newest limit messages of chatID in ascending created_at order.
func ListChatMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]ChatMessage, error) {
	rows := []ChatMessage{}
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// GetUserChatMessage finds a message that belongs to chatID and whose chat is owned by userID.
func GetUserChatMessage(ctx context.Context, db *gorm.DB, id string, chatID string, userID string) (*ChatMessage, error) {
	var row ChatMessage
	err := db.WithContext(ctx).
		Select("chat_messages.*").
		Joins("JOIN chats ON chats.id = chat_messages.chat_id").
		Where("chat_messages.id = ? AND chat_messages.chat_id = ? AND chats.user_id = ?", id, chatID, userID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &row, nil
}

func UpdateChatMessage(ctx context.Context, db *gorm.DB, row *ChatMessage, msg Message) error {
	msg.ID = row.ID
	row.Message = datatypes.NewJSONType(msg)
	result := db.WithContext(ctx).Model(row).Update("message", row.Message)
	if result.Error != nil {
		return fmt.Errorf("failed to update message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func DeleteChatMessage(ctx context.Context, db *gorm.DB, id string) error {
	result := db.WithContext(ctx).Where("id = ?", id).Delete(&ChatMessage{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
