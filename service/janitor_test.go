package service

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/model"
	"relaychat/platform"
)

func TestJanitor_DeleteEmptyChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"empty", "used"} {
		_, _, err := f.chats.GetOrCreateChat(ctx, "alice", id, "")
		require.NoError(t, err)
	}
	_, err := f.chats.SaveMessages(ctx, "used", "alice", []model.Message{userMessage("hi")})
	require.NoError(t, err)

	j := NewJanitor(f.db, platform.NewDiscardLogger(), time.Hour)

	deleted, err := j.DeleteEmptyChats(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted, "fresh chats are kept")

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	deleted, err = j.DeleteEmptyChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.chats.GetChat(ctx, "empty", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.chats.GetChat(ctx, "used", "alice")
	assert.NoError(t, err)
}

func TestJanitor_Schedule(t *testing.T) {
	j := NewJanitor(newTestDB(t), platform.NewDiscardLogger(), time.Hour)
	c := cron.New()

	_, err := j.Schedule(c, "@every 1h")
	assert.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = j.Schedule(c, "not a schedule")
	assert.Error(t, err)
}
