package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Background runs fire-and-forget tasks. Each task gets its own timeout and is detached from
// the request that spawned it; errors and panics are logged and never reach the caller.
type Background struct {
	wg      conc.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *logrus.Logger
}

func NewBackground(logger *logrus.Logger, timeout time.Duration) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{ctx: ctx, cancel: cancel, timeout: timeout, logger: logger}
}

func (b *Background) Go(name string, task func(ctx context.Context) error) {
	b.wg.Go(func() {
		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()

		start := time.Now()
		var err error
		if recovered := panics.Try(func() { err = task(ctx) }); recovered != nil {
			b.logger.WithField("task", name).Errorf("background task panicked, %s", recovered.AsError())
			return
		}
		if err != nil {
			b.logger.WithField("task", name).Warnf("background task failed, %s", err)
			return
		}
		b.logger.WithFields(logrus.Fields{"task": name, "cost": time.Since(start)}).Debug("background task finished")
	})
}

// Wait blocks until every spawned task returned.
func (b *Background) Wait() {
	b.wg.Wait()
}

// Shutdown waits for running tasks until ctx is done, then cancels them.
func (b *Background) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}
