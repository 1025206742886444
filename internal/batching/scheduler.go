package batching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"asahi/internal/domain"
	"asahi/internal/provider"
)

// Scheduler errors.
var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// SchedulerConfig controls the flush loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	MaxBatchSize int
	MinBatchSize int
	MaxWaitMs    int
	StopTimeout  time.Duration
}

// SchedulerMetrics tracks scheduler activity via atomics.
type SchedulerMetrics struct {
	BatchesFlushed    int64
	RequestsBatched   int64
	IndividualRetries int64
	RetryFailures     int64
}

// Scheduler drains the queue in the background, flushing groups when
// they fill, expire, or approach their deadline.
type Scheduler struct {
	mu        sync.Mutex
	isRunning bool

	cfg        SchedulerConfig
	queue      *Queue
	executor   provider.Executor
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	// OnBatch, when set, observes every dispatched batch size.
	OnBatch func(group string, size int)

	metrics SchedulerMetrics
}

// NewScheduler builds a scheduler over the queue and executor.
func NewScheduler(cfg SchedulerConfig, queue *Queue, executor provider.Executor) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Scheduler{cfg: cfg, queue: queue, executor: executor}
}

// Enqueue admits a request into its batch group and returns the handle
// the caller blocks on.
func (s *Scheduler) Enqueue(group string, req domain.QueuedRequest) (*Handle, error) {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return nil, domain.Wrap(domain.ErrBatching, "cannot enqueue", ErrNotRunning)
	}

	h := newHandle()
	if err := s.queue.Enqueue(group, req, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Start launches the background worker. A second start is rejected.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrAlreadyRunning
	}
	s.isRunning = true
	s.shutdownCh = make(chan struct{})

	s.wg.Add(1)
	go s.run()

	slog.Info("batch scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"max_batch_size", s.cfg.MaxBatchSize,
		"min_batch_size", s.cfg.MinBatchSize)
	return nil
}

// Stop halts the worker, joins it up to the stop timeout, then drains
// whatever is still queued via individual execution so no handle is
// left unresolved.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.shutdownCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("batch scheduler worker did not stop in time")
	}

	s.drain()
	slog.Info("batch scheduler stopped")
}

// Metrics returns a snapshot of scheduler counters.
func (s *Scheduler) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		BatchesFlushed:    atomic.LoadInt64(&s.metrics.BatchesFlushed),
		RequestsBatched:   atomic.LoadInt64(&s.metrics.RequestsBatched),
		IndividualRetries: atomic.LoadInt64(&s.metrics.IndividualRetries),
		RetryFailures:     atomic.LoadInt64(&s.metrics.RetryFailures),
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch scheduler tick panicked, draining queue", "panic", r)
			s.drain()
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick flushes every group that meets a trigger. A failure in one
// group never blocks another.
func (s *Scheduler) tick() {
	for _, group := range s.queue.AllGroups() {
		size := s.queue.GroupSize(group)
		if size == 0 {
			continue
		}

		switch {
		case size >= s.cfg.MaxBatchSize:
		case s.queue.HasExpired(group):
		case size >= s.cfg.MinBatchSize &&
			float64(s.queue.OldestAgeMs(group)) > 0.7*float64(s.cfg.MaxWaitMs):
		default:
			continue
		}

		s.flush(group)
	}
}

func (s *Scheduler) flush(group string) {
	batch := s.queue.GetBatch(group, s.cfg.MaxBatchSize)
	if len(batch) == 0 {
		return
	}

	atomic.AddInt64(&s.metrics.BatchesFlushed, 1)
	atomic.AddInt64(&s.metrics.RequestsBatched, int64(len(batch)))
	if s.OnBatch != nil {
		s.OnBatch(group, len(batch))
	}

	reqs := make([]domain.QueuedRequest, len(batch))
	for i, item := range batch {
		reqs[i] = item.req
	}

	results, err := s.executor.Execute(context.Background(), reqs)
	if err != nil {
		slog.Warn("batch execution failed, retrying individually",
			"group", group, "size", len(batch), "error", err)
		s.retryIndividually(batch)
		return
	}

	for i, item := range batch {
		if i < len(results) {
			item.handle.resolve(Outcome{Result: results[i]})
			continue
		}
		item.handle.resolve(Outcome{Err: domain.E(domain.ErrBatching,
			fmt.Sprintf("batch returned %d results for %d requests", len(results), len(batch)))})
	}
}

// retryIndividually isolates a batch failure: each request gets one
// solo attempt, and only its own failure is surfaced to it.
func (s *Scheduler) retryIndividually(batch []queued) {
	for _, item := range batch {
		atomic.AddInt64(&s.metrics.IndividualRetries, 1)
		results, err := s.executor.Execute(context.Background(), []domain.QueuedRequest{item.req})
		if err != nil || len(results) == 0 {
			atomic.AddInt64(&s.metrics.RetryFailures, 1)
			if err == nil {
				err = fmt.Errorf("empty result on individual retry")
			}
			item.handle.resolve(Outcome{Err: domain.Wrap(domain.ErrProvider,
				fmt.Sprintf("request %s failed after batch retry", item.req.ID), err)})
			continue
		}
		item.handle.resolve(Outcome{Result: results[0]})
	}
}

// drain executes everything still queued, one request at a time.
func (s *Scheduler) drain() {
	for _, group := range s.queue.AllGroups() {
		for {
			batch := s.queue.GetBatch(group, s.cfg.MaxBatchSize)
			if len(batch) == 0 {
				break
			}
			s.retryIndividually(batch)
		}
	}
}
