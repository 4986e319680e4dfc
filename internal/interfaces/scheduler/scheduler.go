package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Scheduler asks its job provider for a batch at each configured time of day
// and feeds the batch to a worker pool. A batch that is still being fetched
// when the next time comes around is not started twice.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   func(context.Context) ([]Job, error)
	now           func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu         sync.Mutex
	lastRunKey string
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
	JobProvider   func(context.Context) ([]Job, error)
}

const providerTimeout = 5 * time.Minute

// NewScheduler parses the schedule and builds the worker pool. Nothing runs
// until Start.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(config.ScheduleTimes))
	for _, timeStr := range config.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}
	if len(scheduleTimes) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workerPool:    NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize),
		scheduleTimes: scheduleTimes,
		runOnStartup:  config.RunOnStartup,
		jobProvider:   config.JobProvider,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the worker pool and the scheduling loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		log.Println("Scheduler: Running initial batch on startup")
		s.dispatch()
	}

	s.wg.Add(1)
	go s.loop()

	log.Printf("Scheduler started, next run at %s", s.NextRun().Format(time.RFC3339))
}

// loop sleeps until the next scheduled time instead of polling.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		wait := time.Until(s.NextRun())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if at := s.now(); s.shouldRun(at) {
				log.Printf("Scheduler: Triggered at %s", at.Format("15:04"))
				s.dispatch()
			}
		}
	}
}

// shouldRun reports whether at falls on a scheduled minute that has not run
// yet. Timer wake-ups a little early or late inside the minute collapse into
// one run.
func (s *Scheduler) shouldRun(at time.Time) bool {
	key := at.Format("2006-01-02T15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRunKey == key {
		return false
	}
	for _, st := range s.scheduleTimes {
		if at.Hour() == st.Hour && at.Minute() == st.Minute {
			s.lastRunKey = key
			return true
		}
	}
	return false
}

// dispatch fetches and submits one batch in the background unless a batch
// is already being fetched.
func (s *Scheduler) dispatch() {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("Scheduler: Previous batch still being prepared, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runJobs()
	}()
}

func (s *Scheduler) runJobs() {
	if s.jobProvider == nil {
		log.Println("Scheduler: No job provider configured")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, providerTimeout)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Printf("Scheduler: Failed to fetch jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Printf("Scheduler: Submitting %d job(s) to worker pool", len(jobs))
	s.workerPool.SubmitBatch(jobs)
}

// Shutdown stops scheduling, waits up to timeout for in-flight batch
// preparation, then drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
	log.Println("Scheduler: Shutdown complete")
}

// TriggerNow runs one batch immediately in the background.
func (s *Scheduler) TriggerNow() {
	log.Println("Scheduler: Manual trigger")
	s.dispatch()
}

// NextRun returns the next scheduled run time.
func (s *Scheduler) NextRun() time.Time {
	return nextScheduledTime(s.now(), s.scheduleTimes)
}

func nextScheduledTime(now time.Time, times []ScheduleTime) time.Time {
	var next time.Time
	for _, st := range times {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
