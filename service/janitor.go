package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"relaychat/model"
)

const janitorTaskName = "scheduled task"

// Janitor removes chats that were created lazily but never received a message, which happens
// when a request fails between chat creation and saving the user message.
type Janitor struct {
	db     *gorm.DB
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewJanitor(db *gorm.DB, logger *logrus.Logger, ttl time.Duration) *Janitor {
	return &Janitor{db: db, logger: logger, ttl: ttl, now: time.Now}
}

func (j *Janitor) DeleteEmptyChats(ctx context.Context) (int64, error) {
	j.logger.Infof("[%s] Start scheduled task DeleteEmptyChats", janitorTaskName)
	startTime := time.Now()

	deleted, err := model.DeleteEmptyChats(ctx, j.db, j.now().Add(-j.ttl))
	if err != nil {
		j.logger.Warnf("[%s] delete empty chats error, %s", janitorTaskName, err)
		return 0, err
	}

	j.logger.Infof("[%s] Finished scheduled task DeleteEmptyChats, deleted %d chats, cost %v", janitorTaskName, deleted, time.Since(startTime))
	return deleted, nil
}

// Schedule registers the janitor on c using a standard cron spec or a descriptor such as
// "@every 1h".
func (j *Janitor) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = j.DeleteEmptyChats(ctx)
	})
}
