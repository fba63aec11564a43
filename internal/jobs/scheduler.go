package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one housekeeping task
type Job struct {
	Name     string
	Schedule string // cron spec, e.g. "@every 1m"
	Run      func(ctx context.Context) error
}

// Scheduler runs housekeeping jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Add(job Job) error {
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", job.Schedule, job.Name, err)
	}

	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.run(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	return nil
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.log.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.log.Debug("scheduled job completed", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("housekeeping scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("housekeeping scheduler stopped")
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
