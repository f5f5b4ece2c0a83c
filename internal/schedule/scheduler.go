package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is a named unit of scheduled work. Run receives the scheduler's
// base context and should honor its cancellation.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

// CronScheduler drives the pipeline and reaper jobs on standard 5-field
// cron specs. A job that is still running when its next tick fires is
// skipped, not stacked, so a slow embedding drain cannot pile up passes.
type CronScheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[string]cron.EntryID),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job already scheduled: %s", name)
	}
	entryID, err := c.cron.AddFunc(spec, c.guarded(job))
	if err != nil {
		return fmt.Errorf("parse cron spec %q for job %s: %w", spec, name, err)
	}
	c.jobs[name] = entryID
	logutil.GetLogger(context.Background()).Info("job scheduled",
		zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop blocks until in-flight job invocations return.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) guarded(job Job) func() {
	var running atomic.Bool
	return func() {
		logger := logutil.GetLogger(context.Background()).With(zap.String("job", job.Name()))
		if !running.CompareAndSwap(false, true) {
			logger.Info("previous invocation still running, tick skipped")
			return
		}
		defer running.Store(false)

		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		logger.Info("job started")
		if err := job.Run(ctx); err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("job finished", zap.Duration("duration", time.Since(start)))
	}
}
