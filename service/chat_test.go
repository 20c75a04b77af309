package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/model"
)

func TestGetOrCreateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, created, err := f.chats.GetOrCreateChat(ctx, "alice", "", "Plan a trip")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, chat.ID, 10)
	assert.Equal(t, model.DefaultChatName, chat.Name)

	again, created, err := f.chats.GetOrCreateChat(ctx, "alice", chat.ID, "Plan a trip")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, again.ID)

	_, _, err = f.chats.GetOrCreateChat(ctx, "bob", chat.ID, "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	f.background.Wait()
	assert.Equal(t, int32(1), f.titles.calls.Load())
}

func TestTitleFailureKeepsDefaultName(t *testing.T) {
	f := newFixture(t)
	f.titles.err = errors.New("model unavailable")
	ctx := context.Background()

	chat, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "hello")
	require.NoError(t, err)
	f.background.Wait()

	stored, err := f.chats.GetChat(ctx, chat.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatName, stored.Name)
}

func TestTitleDoesNotBlockCaller(t *testing.T) {
	f := newFixture(t)
	f.titles.release = make(chan struct{})
	ctx := context.Background()

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		_, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "hello")
		assert.NoError(t, err)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("GetOrCreateChat waited for the title")
	}

	close(f.titles.release)
	f.background.Wait()
	stored, err := f.chats.GetChat(ctx, "chat-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Tokyo Weather", stored.Name)
}

func TestListMessagesLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "")
	require.NoError(t, err)

	batch := make([]model.Message, 0, 40)
	for i := 0; i < 40; i++ {
		batch = append(batch, userMessage(fmt.Sprintf("m%d", i)))
	}
	_, err = f.chats.SaveMessages(ctx, "chat-1", "alice", batch)
	require.NoError(t, err)

	rows, err := f.chats.ListMessages(ctx, "chat-1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, rows, DefaultMessageLimit)
	assert.Equal(t, "m10", rows[0].Payload().Text())
	assert.Equal(t, "m39", rows[len(rows)-1].Payload().Text())

	rows, err = f.chats.ListMessages(ctx, "chat-1", "alice", MaxMessageLimit)
	require.NoError(t, err)
	assert.Len(t, rows, 40)

	for _, limit := range []int{-1, MaxMessageLimit + 1} {
		_, err = f.chats.ListMessages(ctx, "chat-1", "alice", limit)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "limit %d", limit)
	}

	_, err = f.chats.ListMessages(ctx, "chat-1", "bob", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "")
	require.NoError(t, err)

	_, err = f.chats.SaveMessages(ctx, "chat-1", "bob", []model.Message{userMessage("hi")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.chats.SaveMessages(ctx, "chat-1", "alice", nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.chats.SaveMessages(ctx, "chat-1", "alice", []model.Message{
		userMessage("ok"),
		{Role: model.RoleUser, Parts: []model.Part{{Type: model.PartFile}}},
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Messages[0], "messages[1]")
	assert.Zero(t, f.count(t, &model.ChatMessage{}))

	rows, err := f.chats.SaveMessages(ctx, "chat-1", "alice", []model.Message{userMessage("a"), userMessage("b")})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[1].CreatedAt.After(rows[0].CreatedAt))
}

func TestCreateAndUpdateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.chats.CreateChat(ctx, "alice", CreateChatInput{ID: "named", Name: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", chat.Name)

	_, err = f.chats.CreateChat(ctx, "bob", CreateChatInput{ID: "named"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	generated, err := f.chats.CreateChat(ctx, "alice", CreateChatInput{})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatName, generated.Name)
	assert.NotEmpty(t, generated.ID)

	name := "Shopping"
	updated, err := f.chats.UpdateChat(ctx, "named", "alice", UpdateChatInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Shopping", updated.Name)

	_, err = f.chats.UpdateChat(ctx, "named", "bob", UpdateChatInput{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	chats, err := f.chats.ListChats(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 2)
	assert.Zero(t, f.titles.calls.Load())
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "")
	require.NoError(t, err)
	_, err = f.chats.SaveMessages(ctx, "chat-1", "alice", []model.Message{userMessage("hi")})
	require.NoError(t, err)

	assert.ErrorIs(t, f.chats.DeleteChat(ctx, "chat-1", "bob"), ErrNotFound)
	require.NoError(t, f.chats.DeleteChat(ctx, "chat-1", "alice"))
	assert.Zero(t, f.count(t, &model.ChatMessage{}))

	_, err = f.chats.GetChat(ctx, "chat-1", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	messages, err := f.chats.GetMessages(ctx, "chat-1", "alice", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, messages)
	assert.ErrorIs(t, f.chats.DeleteChat(ctx, "chat-1", "alice"), ErrNotFound)
}

func TestMessageCRUDIsScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.chats.GetOrCreateChat(ctx, "alice", "chat-1", "")
	require.NoError(t, err)
	_, _, err = f.chats.GetOrCreateChat(ctx, "alice", "chat-2", "")
	require.NoError(t, err)
	rows, err := f.chats.SaveMessages(ctx, "chat-1", "alice", []model.Message{userMessage("original")})
	require.NoError(t, err)
	id := rows[0].ID

	got, err := f.chats.GetMessage(ctx, "chat-1", id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Payload().Text())

	_, err = f.chats.GetMessage(ctx, "chat-2", id, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.chats.GetMessage(ctx, "chat-1", id, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := f.chats.UpdateMessage(ctx, "chat-1", id, "alice", userMessage("edited"))
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Payload().Text())
	assert.Equal(t, id, updated.Payload().ID)

	_, err = f.chats.UpdateMessage(ctx, "chat-1", id, "bob", userMessage("hijack"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.chats.UpdateMessage(ctx, "chat-1", id, "alice", model.Message{Role: model.RoleUser})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, "chat-1", id, "bob"), ErrNotFound)
	require.NoError(t, f.chats.DeleteMessage(ctx, "chat-1", id, "alice"))
	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, "chat-1", id, "alice"), ErrNotFound)
}
