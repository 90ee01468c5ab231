package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs deferred work off a single timer. All pending tasks live
// in one min-heap ordered by due time; one goroutine sleeps until the head
// is due and fires each due task in its own goroutine. This replaces
// per-task timers and polling loops, so thousands of scheduled delivery
// attempts cost one timer and no idle wakeups.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks taskHeap
	seq   uint64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
}

type task struct {
	at        time.Time
	seq       uint64
	run       func()
	cancelled atomic.Bool
}

// idleWait bounds how long the loop sleeps when nothing is queued.
const idleWait = time.Minute

func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the timer loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	s.logger.Info("Scheduler started")
	return nil
}

// Stop cancels the loop and waits for it and all in-flight tasks to finish.
// Tasks still queued are dropped; tasks already running complete.
func (s *Scheduler) Stop() {
	s.cancel()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Schedule queues fn to run at the given time. The returned cancel func
// prevents the run if it has not started yet; calling it later is a no-op.
// Scheduling after Stop is a no-op.
func (s *Scheduler) Schedule(at time.Time, fn func()) (cancel func()) {
	t := &task{at: at, run: fn}
	if s.ctx.Err() != nil {
		return func() {}
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	heap.Push(&s.tasks, t)
	newHead := s.tasks[0] == t
	s.mu.Unlock()

	if newHead {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return func() { t.cancelled.Store(true) }
}

// After queues fn to run after the given delay.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	return s.Schedule(time.Now().Add(d), fn)
}

// Every runs fn at the given interval until the returned stop func is
// called. Ticks do not overlap less than interval apart; the next tick is
// armed after fn returns.
func (s *Scheduler) Every(interval time.Duration, fn func()) (stop func()) {
	var (
		mu        sync.Mutex
		stopped   bool
		cancelCur func()
	)

	var arm func()
	arm = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped || s.ctx.Err() != nil {
			return
		}
		cancelCur = s.Schedule(time.Now().Add(interval), func() {
			fn()
			arm()
		})
	}
	arm()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if cancelCur != nil {
			cancelCur()
		}
	}
}

// Pending reports how many tasks are queued, cancelled ones included until
// they surface at the heap head.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		due, wait := s.collectDue(time.Now())
		for _, t := range due {
			s.launch(t)
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// collectDue pops every task due at or before now and returns how long the
// loop may sleep before the next head comes due.
func (s *Scheduler) collectDue(now time.Time) ([]*task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*task
	for s.tasks.Len() > 0 {
		head := s.tasks[0]
		if head.cancelled.Load() {
			heap.Pop(&s.tasks)
			continue
		}
		if head.at.After(now) {
			break
		}
		heap.Pop(&s.tasks)
		due = append(due, head)
	}

	wait := idleWait
	if s.tasks.Len() > 0 {
		if d := s.tasks[0].at.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return due, wait
}

func (s *Scheduler) launch(t *task) {
	if t.cancelled.Load() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduled task panicked", zap.Any("panic", r))
			}
		}()
		t.run()
	}()
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
