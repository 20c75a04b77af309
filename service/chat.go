package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"relaychat/model"
	"relaychat/platform"
)

const (
	DefaultMessageLimit = 30
	MaxMessageLimit     = 100
)

// ChatService owns chats and their messages. Every operation is scoped by the owner: a chat
// that belongs to another user is reported as ErrNotFound.
type ChatService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	titles     TitleGenerator
	background *Background
	metrics    *platform.Metrics
	step       time.Duration
	now        func() time.Time
}

type ChatServiceOptions struct {
	Titles        TitleGenerator
	Background    *Background
	Metrics       *platform.Metrics
	TimestampStep time.Duration
}

func NewChatService(db *gorm.DB, logger *logrus.Logger, opts ChatServiceOptions) *ChatService {
	step := opts.TimestampStep
	if step <= 0 {
		step = time.Millisecond
	}
	return &ChatService{
		db:         db,
		logger:     logger,
		titles:     opts.Titles,
		background: opts.Background,
		metrics:    opts.Metrics,
		step:       step,
		now:        time.Now,
	}
}

// GetOrCreateChat resolves chatID for userID, creating the chat when it does not exist yet. An
// empty chatID creates a chat with a generated id. The returned flag reports whether the chat
// was created by this call; only then a title is generated from firstMessage in the background.
func (s *ChatService) GetOrCreateChat(ctx context.Context, userID, chatID, firstMessage string) (*model.Chat, bool, error) {
	if chatID == "" {
		chatID = model.NewChatID()
	}

	chat, err := s.lookupOwned(ctx, chatID, userID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, ErrNotFound) || chat != nil {
		return nil, false, err
	}

	chat = &model.Chat{ID: chatID, UserID: userID}
	if err := model.CreateChat(ctx, s.db, chat); err != nil {
		// a concurrent request may have created it first
		existing, lookupErr := s.lookupOwned(ctx, chatID, userID)
		switch {
		case lookupErr == nil:
			return existing, false, nil
		case existing != nil:
			return nil, false, lookupErr
		}
		return nil, false, err
	}

	if firstMessage != "" {
		s.spawnTitle(chat.ID, userID, firstMessage)
	}
	return chat, true, nil
}

// lookupOwned returns (nil, ErrNotFound) when the chat does not exist and (chat, ErrNotFound)
// when it exists under another owner.
func (s *ChatService) lookupOwned(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := model.GetChat(ctx, s.db, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return chat, ErrNotFound
	}
	return chat, nil
}

func (s *ChatService) spawnTitle(chatID, userID, firstMessage string) {
	if s.titles == nil || s.background == nil {
		return
	}
	s.background.Go("chat-title", func(ctx context.Context) error {
		title, err := s.titles.GenerateTitle(ctx, firstMessage)
		s.metrics.TitleGenerated(err == nil)
		if err != nil {
			return fmt.Errorf("failed to generate chat title for %s: %w", chatID, err)
		}
		if title == "" {
			return nil
		}
		if err := model.UpdateChatName(ctx, s.db, chatID, userID, title); err != nil {
			return fmt.Errorf("failed to save chat title for %s: %w", chatID, err)
		}
		s.logger.WithField("chatId", chatID).Infof("chat titled %q", title)
		return nil
	})
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	return model.ListUserChats(ctx, s.db, userID)
}

func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	return model.GetUserChat(ctx, s.db, chatID, userID)
}

type CreateChatInput struct {
	ID   string `json:"id" binding:"omitempty,max=255"`
	Name string `json:"name" binding:"omitempty,max=255"`
}

// CreateChat creates an empty chat. A client supplied id that is already taken, by anyone,
// is a validation error.
func (s *ChatService) CreateChat(ctx context.Context, userID string, in CreateChatInput) (*model.Chat, error) {
	id := in.ID
	if id == "" {
		id = model.NewChatID()
	} else if _, err := model.GetChat(ctx, s.db, id); err == nil {
		return nil, NewValidationError("chat id already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chat := &model.Chat{ID: id, UserID: userID, Name: in.Name}
	if err := model.CreateChat(ctx, s.db, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

type UpdateChatInput struct {
	Name *string `json:"name" binding:"omitempty,min=1,max=255"`
}

func (s *ChatService) UpdateChat(ctx context.Context, chatID, userID string, in UpdateChatInput) (*model.Chat, error) {
	if in.Name != nil {
		if err := model.UpdateChatName(ctx, s.db, chatID, userID, *in.Name); err != nil {
			return nil, err
		}
	}
	return model.GetUserChat(ctx, s.db, chatID, userID)
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	return model.DeleteUserChat(ctx, s.db, chatID, userID)
}

// ListMessages returns the newest limit messages of an owned chat in chronological order.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID string, limit int) ([]model.ChatMessage, error) {
	if limit == 0 {
		limit = DefaultMessageLimit
	}
	if limit < 1 || limit > MaxMessageLimit {
		return nil, NewValidationError(fmt.Sprintf("limit must be between 1 and %d", MaxMessageLimit))
	}
	if _, err := model.GetUserChat(ctx, s.db, chatID, userID); err != nil {
		return nil, err
	}
	return model.ListChatMessages(ctx, s.db, chatID, limit)
}

// GetMessages is ListMessages reduced to the message payloads.
func (s *ChatService) GetMessages(ctx context.Context, chatID, userID string, limit int) ([]model.Message, error) {
	rows, err := s.ListMessages(ctx, chatID, userID, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.Payload())
	}
	return messages, nil
}

// SaveMessages validates and appends messages to an owned chat in one write.
func (s *ChatService) SaveMessages(ctx context.Context, chatID, userID string, messages []model.Message) ([]model.ChatMessage, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	if _, err := model.GetUserChat(ctx, s.db, chatID, userID); err != nil {
		return nil, err
	}
	return model.InsertMessages(ctx, s.db, chatID, messages, s.now(), s.step)
}

func (s *ChatService) GetMessage(ctx context.Context, chatID, messageID, userID string) (*model.ChatMessage, error) {
	return model.GetUserChatMessage(ctx, s.db, messageID, chatID, userID)
}

func (s *ChatService) UpdateMessage(ctx context.Context, chatID, messageID, userID string, msg model.Message) (*model.ChatMessage, error) {
	if err := validateMessages([]model.Message{msg}); err != nil {
		return nil, err
	}
	row, err := model.GetUserChatMessage(ctx, s.db, messageID, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := model.UpdateChatMessage(ctx, s.db, row, msg); err != nil {
		return nil, err
	}
	return model.GetUserChatMessage(ctx, s.db, messageID, chatID, userID)
}

func (s *ChatService) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	if _, err := model.GetUserChatMessage(ctx, s.db, messageID, chatID, userID); err != nil {
		return err
	}
	return model.DeleteChatMessage(ctx, s.db, messageID)
}

func validateMessages(messages []model.Message) error {
	if len(messages) == 0 {
		return NewValidationError("at least one message is required")
	}
	var problems []string
	for i, m := range messages {
		for _, p := range m.Validate() {
			if len(messages) > 1 {
				p = fmt.Sprintf("messages[%d]: %s", i, p)
			}
			problems = append(problems, p)
		}
	}
	if len(problems) > 0 {
		return NewValidationError(problems...)
	}
	return nil
}
