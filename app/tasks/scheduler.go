package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/robfig/cron/v3"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var (
	ErrTaskActive     = errors.New("task already queued or running")
	ErrMaxRunsReached = errors.New("maximum number of runs reached")
)

const defaultTaskTimeout = 30 * time.Minute

type Options struct {
	WorkerCount   int
	Schedule      string // cron expression for runs over due feeds
	RetrySchedule string // cron expression for retry passes, empty disables them
	MaxRuns       int    // scheduled runs before Done is closed, 0 = unlimited
	TaskTimeout   time.Duration
}

type Scheduler struct {
	runner     PipelineRunner
	configs    FeedConfigSource
	states     FeedStateReader
	opts       Options
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	taskQueue  chan TaskInterface
	mu         sync.Mutex
	active     map[string]bool
	runsQueued int
	runsDone   int
	done       chan struct{}
	doneOnce   sync.Once
}

func NewScheduler(runner PipelineRunner, configs FeedConfigSource, states FeedStateReader, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.WorkerCount < 1 {
		opts.WorkerCount = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}

	return &Scheduler{
		runner:    runner,
		configs:   configs,
		states:    states,
		opts:      opts,
		cron:      cron.New(cron.WithLocation(time.Local)),
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan TaskInterface, 300),
		active:    make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Start registers the cron jobs, starts the workers and queues a retry pass
// and a run over every enabled feed.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Schedule, s.enqueueDueFeeds); err != nil {
		return fmt.Errorf("invalid schedule '%s': %w", s.opts.Schedule, err)
	}
	if s.opts.RetrySchedule != "" {
		if _, err := s.cron.AddFunc(s.opts.RetrySchedule, s.enqueueRetry); err != nil {
			return fmt.Errorf("invalid retry schedule '%s': %w", s.opts.RetrySchedule, err)
		}
	}

	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()
	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

// Done is closed once MaxRuns scheduled runs have finished
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) Health() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"status":         "healthy",
		"workers":        s.opts.WorkerCount,
		"queue_size":     len(s.taskQueue),
		"active_tasks":   len(s.active),
		"runs_completed": s.runsDone,
	}
}

// EnqueueTask queues a task unless a task with the same key is already
// queued or running.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := task.GetKey()
	if s.active[key] {
		return fmt.Errorf("%w: %s", ErrTaskActive, key)
	}

	isRun := task.GetType() == TaskTypeRun
	if isRun && s.opts.MaxRuns > 0 && s.runsQueued >= s.opts.MaxRuns {
		return ErrMaxRunsReached
	}

	if err := s.enqueue(task); err != nil {
		return err
	}

	s.active[key] = true
	if isRun {
		s.runsQueued++
	}

	return nil
}

func (s *Scheduler) enqueue(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// release frees the key of a finished task and counts finished runs
func (s *Scheduler) release(task TaskInterface) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, task.GetKey())

	if task.GetType() != TaskTypeRun {
		return
	}
	s.runsDone++
	if s.opts.MaxRuns > 0 && s.runsDone >= s.opts.MaxRuns {
		s.doneOnce.Do(func() {
			slog.Info("Maximum number of runs reached", "runs", s.runsDone)
			close(s.done)
		})
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	if err := s.EnqueueTask(NewRetryTask(s.runner)); err != nil {
		slog.Warn("Failed to enqueue RetryTask", "error", err)
	}

	feedConfigs := s.configs.GetEnabledList()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
		return
	}

	if err := s.EnqueueTask(NewRunTask(feedConfigs, s.runner)); err != nil {
		slog.Warn("Failed to enqueue RunTask", "error", err)
	}
}

func (s *Scheduler) enqueueDueFeeds() {
	feedConfigs := s.configs.GetEnabledList()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
		return
	}

	now := time.Now().UTC()
	var due []*feed.Config
	for _, feedConfig := range feedConfigs {
		if s.isDue(feedConfig, now) {
			due = append(due, feedConfig)
		}
	}

	if len(due) == 0 {
		slog.Debug("No feeds due for refresh")
		return
	}

	err := s.EnqueueTask(NewRunTask(due, s.runner))
	switch {
	case err == nil:
		slog.Debug("Run enqueued", "feeds", len(due))
	case errors.Is(err, ErrTaskActive):
		slog.Debug("Previous run still in progress, skipping", "feeds", len(due))
	case errors.Is(err, ErrMaxRunsReached):
		slog.Debug("Run limit reached, skipping")
	default:
		slog.Warn("Failed to enqueue RunTask", "error", err)
	}
}

func (s *Scheduler) enqueueRetry() {
	err := s.EnqueueTask(NewRetryTask(s.runner))
	if err != nil && !errors.Is(err, ErrTaskActive) {
		slog.Warn("Failed to enqueue RetryTask", "error", err)
	}
}

// isDue reports whether the feed's refresh interval has passed since its
// last fetch attempt
func (s *Scheduler) isDue(feedConfig *feed.Config, now time.Time) bool {
	interval := feedConfig.Settings.GetRefreshInterval()
	if interval <= 0 {
		return true
	}

	state, err := s.states.GetState(s.ctx, feedConfig.Name)
	if errors.Is(err, database.ErrNotFound) {
		return true
	}
	if err != nil {
		slog.Warn("Failed to get feed state, skipping", "feed", feedConfig.Name, "error", err)
		return false
	}

	if state.LastAttemptAt == nil {
		return true
	}

	nextFetchAt := state.LastAttemptAt.Add(interval)
	if nextFetchAt.After(now) {
		slog.Debug("Feed not due for refresh yet", "feed", feedConfig.Name, "next_fetch_at", nextFetchAt)
		return false
	}

	return true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.TaskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.release(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() || s.ctx.Err() != nil {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		s.release(task)
		return
	}

	task.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	// The task keeps its key while waiting, so duplicates stay refused.
	// Called from a worker, so Add never races Stop's Wait.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			s.release(task)
		case <-timer.C:
			if retryErr := s.enqueue(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
				s.release(task)
			}
		}
	}()
}
