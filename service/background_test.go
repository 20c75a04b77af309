package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relaychat/platform"
)

func TestBackground_RecoversPanics(t *testing.T) {
	b := NewBackground(platform.NewDiscardLogger(), time.Second)
	var ran atomic.Int32

	b.Go("panics", func(ctx context.Context) error {
		ran.Add(1)
		panic("boom")
	})
	b.Go("fails", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("failed")
	})
	b.Go("works", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	b.Wait()
	assert.Equal(t, int32(3), ran.Load())
}

func TestBackground_TaskTimeout(t *testing.T) {
	b := NewBackground(platform.NewDiscardLogger(), 20*time.Millisecond)
	var got atomic.Value

	b.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	})
	b.Wait()
	assert.ErrorIs(t, got.Load().(error), context.DeadlineExceeded)
}

func TestBackground_Shutdown(t *testing.T) {
	b := NewBackground(platform.NewDiscardLogger(), time.Minute)
	b.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded)

	idle := NewBackground(platform.NewDiscardLogger(), time.Minute)
	idle.Go("quick", func(ctx context.Context) error { return nil })
	assert.NoError(t, idle.Shutdown(context.Background()))
}
