package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	key   string
	runs  *atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Execute(ctx context.Context) error {
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Key() string         { return j.key }
func (j *countingJob) Description() string { return "counting job" }

type MockSweeper struct {
	SweepFunc func(ctx context.Context) (int64, error)
}

func (m *MockSweeper) Sweep(ctx context.Context) (int64, error) {
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx)
	}
	return 0, nil
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"03:00", ScheduleTime{3, 0}, false},
		{"23:59", ScheduleTime{23, 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewScheduler_RequiresTimes(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{WorkerCount: 1}); err == nil {
		t.Error("NewScheduler() expected error without schedule times")
	}
	if _, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"7am"}, WorkerCount: 1}); err == nil {
		t.Error("NewScheduler() expected error for invalid schedule time")
	}
}

func TestShouldRun_OncePerMinute(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"03:00"}, WorkerCount: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	at := time.Date(2026, 3, 1, 3, 0, 10, 0, time.UTC)
	if !s.shouldRun(at) {
		t.Fatal("expected run at 03:00")
	}
	if s.shouldRun(at.Add(20 * time.Second)) {
		t.Error("expected a single run within the same minute")
	}
	if s.shouldRun(at.Add(time.Minute)) {
		t.Error("did not expect a run at 03:01")
	}
	if !s.shouldRun(at.AddDate(0, 0, 1)) {
		t.Error("expected a run the next day")
	}
}

func TestNextScheduledTime(t *testing.T) {
	times := []ScheduleTime{{15, 0}, {3, 0}}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if got := nextScheduledTime(now, times); !got.Equal(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("next = %v, want 15:00 today", got)
	}

	late := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	if got := nextScheduledTime(late, times); !got.Equal(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("next = %v, want 03:00 tomorrow", got)
	}
}

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	pool := NewWorkerPool(2, 0, 10)
	pool.Start()

	var runs atomic.Int32
	jobs := []Job{
		&countingJob{key: "a", runs: &runs},
		&countingJob{key: "b", runs: &runs, err: errors.New("boom")},
		&countingJob{key: "c", runs: &runs},
	}
	pool.SubmitBatch(jobs)
	pool.Shutdown()

	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	pool.Start()

	var runs atomic.Int32
	block := make(chan struct{})
	first := &countingJob{key: "first", runs: &runs, block: block}
	if err := pool.Submit(first); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	// Wait until the worker has taken the first job off the queue.
	deadline := time.Now().Add(2 * time.Second)
	for len(pool.jobs) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := pool.Submit(&countingJob{key: "second", runs: &runs}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if err := pool.Submit(&countingJob{key: "third", runs: &runs}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}

	close(block)
	pool.Shutdown()

	if err := pool.Submit(&countingJob{key: "late", runs: &runs}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after shutdown error = %v, want ErrPoolClosed", err)
	}
}

func TestScheduler_RunOnStartupSweeps(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	sweeper := &MockSweeper{
		SweepFunc: func(ctx context.Context) (int64, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				close(done)
			}
			return 4, nil
		},
	}

	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"03:00"},
		WorkerCount:   1,
		QueueSize:     4,
		RunOnStartup:  true,
		JobProvider:   SweepJobProvider(sweeper),
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	s.Start()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run on startup")
	}
	s.Shutdown(time.Second)
}

func TestLinkTokenSweepJob_Error(t *testing.T) {
	job := NewLinkTokenSweepJob(&MockSweeper{
		SweepFunc: func(ctx context.Context) (int64, error) {
			return 0, errors.New("db down")
		},
	})

	if err := job.Execute(context.Background()); err == nil {
		t.Error("Execute() expected error")
	}
	if job.Key() != "link_tokens" {
		t.Errorf("Key() = %q", job.Key())
	}
}

func TestTriggerNow_SkipsWhileBatchPreparing(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int32

	s, err := NewScheduler(SchedulerConfig{
		ScheduleTimes: []string{"03:00"},
		WorkerCount:   1,
		QueueSize:     1,
		JobProvider: func(ctx context.Context) ([]Job, error) {
			fetches.Add(1)
			<-release
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	s.TriggerNow()
	deadline := time.Now().Add(2 * time.Second)
	for fetches.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.TriggerNow()

	close(release)
	s.Shutdown(time.Second)

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestNextRun_UsesClock(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{ScheduleTimes: []string{"03:00", "15:30"}, WorkerCount: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC) }

	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if got := s.NextRun(); !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestWorkerPool_RejectsDuplicateKey(t *testing.T) {
	pool := NewWorkerPool(1, 0, 4)
	pool.Start()

	var runs atomic.Int32
	block := make(chan struct{})
	if err := pool.Submit(&countingJob{key: "link_tokens", runs: &runs, block: block}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if err := pool.Submit(&countingJob{key: "link_tokens", runs: &runs}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Submit() error = %v, want ErrDuplicate", err)
	}

	close(block)
	pool.Shutdown()

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}
