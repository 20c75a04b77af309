package model

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"relaychat/platform"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := platform.InitDB(platform.DBConfig{
		Driver: "sqlite",
		DSN:    platform.SQLiteDSN(filepath.Join(t.TempDir(), "model.db")),
	}, platform.NewDiscardLogger())
	require.NoError(t, err)
	require.NoError(t, InstallDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createChat(t *testing.T, db *gorm.DB, id, userID string) *Chat {
	t.Helper()
	chat := &Chat{ID: id, UserID: userID}
	require.NoError(t, CreateChat(context.Background(), db, chat))
	return chat
}

func userText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

func TestPartValidate(t *testing.T) {
	tests := []struct {
		name  string
		part  Part
		valid bool
	}{
		{"text", TextPart("hello"), true},
		{"empty text", Part{Type: PartText}, false},
		{"reasoning", ReasoningPart("hmm"), true},
		{"tool call", Part{Type: PartToolCall, ToolCallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":"Tokyo"}`)}, true},
		{"tool call without name", Part{Type: PartToolCall, ToolCallID: "c1"}, false},
		{"tool call with bad input", Part{Type: PartToolCall, ToolCallID: "c1", ToolName: "weather", Input: json.RawMessage(`{`)}, false},
		{"tool result", Part{Type: PartToolResult, ToolCallID: "c1", ToolName: "weather", Output: json.RawMessage(`{"ok":true}`)}, true},
		{"file", Part{Type: PartFile, URL: "https://example.com/a.png", MediaType: "image/png"}, true},
		{"file without media type", Part{Type: PartFile, URL: "https://example.com/a.png"}, false},
		{"source", Part{Type: PartSource, SourceID: "s1", URL: "https://example.com"}, true},
		{"unknown type", Part{Type: "text174", Text: "hello"}, false},
		{"missing type", Part{Text: "hello"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.part.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	assert.Empty(t, userText("hi").Validate())

	problems := Message{Role: "robot", Parts: []Part{{Type: "text174", Text: "x"}}}.Validate()
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "unknown role")
	assert.Contains(t, problems[1], "parts[0]")

	assert.NotEmpty(t, Message{Role: RoleUser}.Validate())
}

func TestMessageText(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{ReasoningPart("x"), TextPart("a"), TextPart("b")}}
	assert.Equal(t, "a\nb", msg.Text())
	assert.Equal(t, "", msg.FirstText())
	assert.Equal(t, "hi", userText("hi").FirstText())
}

func TestNewIDs(t *testing.T) {
	assert.Len(t, NewChatID(), 10)
	id := NewMessageID()
	assert.Len(t, id, len("msg-")+14)
	assert.Equal(t, "msg-", id[:4])
	assert.NotEqual(t, NewMessageID(), NewMessageID())
}

func TestInsertMessages_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "user-1")

	msg := Message{Role: RoleAssistant, Parts: []Part{
		ReasoningPart("thinking"),
		TextPart("hello"),
		{Type: PartToolCall, ToolCallID: "c1", ToolName: "weather", Input: json.RawMessage(`{"location":"Tokyo"}`)},
		{Type: PartToolResult, ToolCallID: "c1", ToolName: "weather", Output: json.RawMessage(`{"temperature":25}`), IsError: false},
		{Type: PartFile, URL: "https://example.com/a.png", MediaType: "image/png", Filename: "a.png"},
		{Type: PartSource, SourceID: "s1", URL: "https://example.com", Title: "Example"},
	}}
	rows, err := InsertMessages(ctx, db, "chat-1", []Message{msg}, time.Now(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	stored, err := ListChatMessages(ctx, db, "chat-1", 30)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	got := stored[0].Payload()
	assert.Equal(t, rows[0].ID, got.ID)
	assert.Equal(t, msg.Role, got.Role)
	assert.Equal(t, msg.Parts, got.Parts)
}

func TestInsertMessages_Ordering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "user-1")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first, err := InsertMessages(ctx, db, "chat-1", []Message{userText("a"), userText("b"), userText("c")}, now, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, row := range first {
		assert.True(t, now.Add(time.Duration(i)*time.Millisecond).Equal(row.CreatedAt), "row %d", i)
	}

	// a clock that went backwards still yields later timestamps
	second, err := InsertMessages(ctx, db, "chat-1", []Message{userText("d"), userText("e")}, now.Add(-time.Hour), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, second[0].CreatedAt.After(first[2].CreatedAt))

	stored, err := ListChatMessages(ctx, db, "chat-1", 30)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	texts := make([]string, 0, len(stored))
	for i, row := range stored {
		texts = append(texts, row.Payload().Text())
		if i > 0 {
			assert.True(t, row.CreatedAt.After(stored[i-1].CreatedAt), "row %d not after previous", i)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, texts)

	ids := map[string]bool{}
	for _, row := range stored {
		ids[row.ID] = true
	}
	assert.Len(t, ids, 5)
}

func TestInsertMessages_SubMillisecondStep(t *testing.T) {
	db := newTestDB(t)
	createChat(t, db, "chat-1", "user-1")

	rows, err := InsertMessages(context.Background(), db, "chat-1", []Message{userText("a"), userText("b")}, time.Now(), time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, rows[1].CreatedAt.Sub(rows[0].CreatedAt))
}

func TestListChatMessages_Latest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "user-1")

	now := time.Now()
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		_, err := InsertMessages(ctx, db, "chat-1", []Message{userText(text)}, now, time.Millisecond)
		require.NoError(t, err)
	}

	rows, err := ListChatMessages(ctx, db, "chat-1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "3", rows[0].Payload().Text())
	assert.Equal(t, "5", rows[2].Payload().Text())
}

func TestChatOwnership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "alice")

	_, err := GetUserChat(ctx, db, "chat-1", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetUserChat(ctx, db, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	chat, err := GetUserChat(ctx, db, "chat-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatName, chat.Name)

	assert.ErrorIs(t, UpdateChatName(ctx, db, "chat-1", "bob", "stolen"), ErrNotFound)
	require.NoError(t, UpdateChatName(ctx, db, "chat-1", "alice", "Tokyo weather"))
	chat, err = GetChat(ctx, db, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Tokyo weather", chat.Name)

	rows, err := InsertMessages(ctx, db, "chat-1", []Message{userText("hi")}, time.Now(), time.Millisecond)
	require.NoError(t, err)
	_, err = GetUserChatMessage(ctx, db, rows[0].ID, "chat-1", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetUserChatMessage(ctx, db, rows[0].ID, "other-chat", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	row, err := GetUserChatMessage(ctx, db, rows[0].ID, "chat-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hi", row.Payload().Text())
}

func TestListUserChats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "old", "alice")
	time.Sleep(5 * time.Millisecond)
	createChat(t, db, "new", "alice")
	createChat(t, db, "other", "bob")

	chats, err := ListUserChats(ctx, db, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "new", chats[0].ID)
	assert.Equal(t, "old", chats[1].ID)
}

func TestUpdateAndDeleteChatMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "alice")
	rows, err := InsertMessages(ctx, db, "chat-1", []Message{userText("before")}, time.Now(), time.Millisecond)
	require.NoError(t, err)

	row := rows[0]
	require.NoError(t, UpdateChatMessage(ctx, db, &row, userText("after")))
	got, err := GetUserChatMessage(ctx, db, row.ID, "chat-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Payload().Text())
	assert.Equal(t, row.ID, got.Message.Data().ID)

	require.NoError(t, DeleteChatMessage(ctx, db, row.ID))
	assert.ErrorIs(t, DeleteChatMessage(ctx, db, row.ID), ErrNotFound)
}

func TestDeleteUserChat_Cascade(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "chat-1", "alice")
	_, err := InsertMessages(ctx, db, "chat-1", []Message{userText("a"), userText("b")}, time.Now(), time.Millisecond)
	require.NoError(t, err)

	assert.ErrorIs(t, DeleteUserChat(ctx, db, "chat-1", "bob"), ErrNotFound)
	require.NoError(t, DeleteUserChat(ctx, db, "chat-1", "alice"))

	var count int64
	require.NoError(t, db.Model(&ChatMessage{}).Where("chat_id = ?", "chat-1").Count(&count).Error)
	assert.Zero(t, count)
	assert.ErrorIs(t, DeleteUserChat(ctx, db, "chat-1", "alice"), ErrNotFound)
}

func TestDeleteEmptyChats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createChat(t, db, "empty", "alice")
	createChat(t, db, "used", "alice")
	_, err := InsertMessages(ctx, db, "used", []Message{userText("hi")}, time.Now(), time.Millisecond)
	require.NoError(t, err)

	deleted, err := DeleteEmptyChats(ctx, db, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = DeleteEmptyChats(ctx, db, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = GetChat(ctx, db, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetChat(ctx, db, "used")
	assert.NoError(t, err)
}

func TestPosts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, CreatePost(ctx, db, &Post{Title: "first", UserID: "alice"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, CreatePost(ctx, db, &Post{Title: "second", UserID: "bob"}))

	all, err := ListPosts(ctx, db, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Title)

	mine, err := ListPosts(ctx, db, "alice", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "first", mine[0].Title)
}
