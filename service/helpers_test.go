package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"relaychat/llm"
	"relaychat/model"
	"relaychat/platform"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := platform.InitDB(platform.DBConfig{
		Driver: "sqlite",
		DSN:    platform.SQLiteDSN(filepath.Join(t.TempDir(), "service.db")),
	}, platform.NewDiscardLogger())
	require.NoError(t, err)
	require.NoError(t, model.InstallDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type stubTitles struct {
	calls   atomic.Int32
	title   string
	err     error
	release chan struct{}
}

func (s *stubTitles) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.title, s.err
}

type fixture struct {
	db         *gorm.DB
	chats      *ChatService
	titles     *stubTitles
	background *Background
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	logger := platform.NewDiscardLogger()
	f := &fixture{
		db:         db,
		titles:     &stubTitles{title: "Tokyo Weather"},
		background: NewBackground(logger, 5*time.Second),
	}
	f.chats = NewChatService(db, logger, ChatServiceOptions{
		Titles:     f.titles,
		Background: f.background,
		Metrics:    platform.NewMetrics(),
	})
	t.Cleanup(f.background.Wait)
	return f
}

func (f *fixture) relay(provider llm.Provider, cfg RelayConfig) *Relay {
	return NewRelay(f.chats, provider, nil, platform.NewDiscardLogger(), platform.NewMetrics(), cfg)
}

func (f *fixture) count(t *testing.T, value any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(value).Count(&n).Error)
	return n
}

func userMessage(text string) model.Message {
	return model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart(text)}}
}

// scriptedProvider emits events in order and records the request it got.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []llm.Request
	ctxErrs  []error
	events   []llm.Event
	// before is called ahead of sending events[i] and may block.
	before func(i int)
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) <-chan llm.Event {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()

	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		for i, e := range p.events {
			if p.before != nil {
				p.before(i)
			}
			ch <- e
		}
	}()
	return ch
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

var errClientGone = errors.New("client gone")

// recordingWriter collects frames. It starts failing once failAfter frames were written, when
// failAfter is not negative.
type recordingWriter struct {
	mu        sync.Mutex
	frames    []Frame
	done      bool
	failAfter int
	onFrame   func(Frame)
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{failAfter: -1}
}

func (w *recordingWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter >= 0 && len(w.frames) >= w.failAfter {
		return errClientGone
	}
	w.frames = append(w.frames, f)
	if w.onFrame != nil {
		w.onFrame(f)
	}
	return nil
}

func (w *recordingWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter >= 0 && len(w.frames) >= w.failAfter {
		return errClientGone
	}
	w.done = true
	return nil
}

func (w *recordingWriter) types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	types := make([]string, 0, len(w.frames))
	for _, f := range w.frames {
		types = append(types, f.Type)
	}
	return types
}

func (w *recordingWriter) last() Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames[len(w.frames)-1]
}
