package feedback

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler runs jobs on cron specs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		ctx:  ctx,
		stop: cancel,
	}
}

// Add registers job under a standard five-field cron spec.
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddJob(spec, s.wrap(job))
	return err
}

func (s *Scheduler) wrap(job Job) cron.Job {
	name := job.Name()
	return cron.FuncJob(func() {
		start := time.Now()
		slog.Debug("job started", "job", name)
		if err := job.Run(s.ctx); err != nil {
			slog.Error("job failed", "job", name, "error", err)
		}
		slog.Debug("job finished", "job", name, "duration", time.Since(start))
	})
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
}
