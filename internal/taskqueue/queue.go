// Package taskqueue implements C10: a priority task queue with exponential
// backoff-with-jitter retries and a dead-letter path (spec.md §4.10).
// Retry-delay math is grounded on original_source's src/api/async_tasks.py
// RetryPolicy.get_delay (base*exponential^attempt capped at max, times a
// 0.5-1.0 jitter factor); the priority ordering itself needs
// (priority desc, next-run asc, enqueue-seq asc), which that file's
// separate-queue-per-priority scheme can't express (it has no notion of a
// future next-run time), so this is a container/heap min-heap instead — no
// ecosystem priority-queue library appeared anywhere in the retrieved pack,
// so the heap itself is a narrowly-scoped stdlib structure (see
// DESIGN.md); the worker pool driving it uses golang.org/x/sync/errgroup,
// already part of the corpus's dependency surface via this package's
// sibling cache package's singleflight use.
package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy mirrors original_source's RetryPolicy: exponential backoff
// with a 50-100% jitter multiplier, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt >= p.MaxAttempts {
		return 0
	}
	d := float64(p.BaseDelay) * pow(p.ExponentialBase, attempt)
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(d * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Handler executes one task's payload. Handlers must be idempotent
// (spec.md §4.10 "at-least-once ... task payloads must be idempotent").
type Handler func(ctx context.Context, payload any) error

// entry wraps models.Task with the heap index container/heap needs; the
// domain type itself carries every field the ordering and retry logic use.
type entry struct {
	task      models.Task
	heapIndex int
}

// taskHeap orders by (priority desc, next-run asc, enqueue-seq asc)
// exactly as spec.md §4.10 specifies.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.NextRun.Equal(b.NextRun) {
		return a.NextRun.Before(b.NextRun)
	}
	return a.EnqueueSeq < b.EnqueueSeq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is spec.md §4.10's priority task queue plus a fixed worker pool.
type Queue struct {
	logger  *zap.Logger
	handler map[string]Handler
	policy  RetryPolicy

	mu       sync.Mutex
	heap     taskHeap
	byID     map[uuid.UUID]*entry
	seq      uint64
	notEmpty chan struct{}

	deadLetters []models.Task
}

func New(logger *zap.Logger, policy RetryPolicy) *Queue {
	q := &Queue{
		logger:   logger,
		handler:  make(map[string]Handler),
		policy:   policy,
		byID:     make(map[uuid.UUID]*entry),
		notEmpty: make(chan struct{}, 1),
	}
	heap.Init(&q.heap)
	return q
}

// RegisterHandler binds a task kind to the function that executes it.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler[kind] = h
}

var ErrAlreadyQueued = errors.New("taskqueue: task id already queued")
var ErrNotQueued = errors.New("taskqueue: task not queued or already running")

// Enqueue is spec.md §4.10's enqueue(task).
func (q *Queue) Enqueue(id uuid.UUID, kind string, payload any, priority models.TaskPriority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byID[id]; exists {
		return ErrAlreadyQueued
	}
	q.seq++
	e := &entry{task: models.Task{
		ID: id, Kind: kind, Payload: payload, Priority: priority,
		MaxAttempts: q.policy.MaxAttempts, NextRun: time.Now(), EnqueueSeq: q.seq, Status: models.TaskQueued,
	}}
	heap.Push(&q.heap, e)
	q.byID[id] = e
	q.signal()
	return nil
}

// Cancel is spec.md §4.10's cancel(task-id): only queued tasks (not
// currently running) can be cancelled.
func (q *Queue) Cancel(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok || e.task.Status != models.TaskQueued {
		return ErrNotQueued
	}
	heap.Remove(&q.heap, e.heapIndex)
	delete(q.byID, id)
	return nil
}

// Stats is spec.md §4.10's stats(): counts by status and priority.
type Stats struct {
	ByStatus   map[models.TaskStatus]int
	ByPriority map[models.TaskPriority]int
	DeadCount  int
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{ByStatus: make(map[models.TaskStatus]int), ByPriority: make(map[models.TaskPriority]int)}
	for _, e := range q.byID {
		s.ByStatus[e.task.Status]++
		s.ByPriority[e.task.Priority]++
	}
	s.DeadCount = len(q.deadLetters)
	return s
}

// DeadLetters returns a copy of every task that has exhausted its retry
// budget, a convenience beyond spec.md's bare stats() (SPEC_FULL.md C.4).
func (q *Queue) DeadLetters() []models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Task, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// nextReady pops the highest-priority ready task, or returns nil if the
// head hasn't reached its NextRun time yet.
func (q *Queue) nextReady(now time.Time) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	head := q.heap[0]
	if head.task.NextRun.After(now) {
		return nil
	}
	e := heap.Pop(&q.heap).(*entry)
	e.task.Status = models.TaskRunning
	return e
}

// requeueAfterFailure schedules a retry or moves the task to dead
// (spec.md §4.10 "On failure, schedule a retry using per-task backoff
// ... until max_attempts, after which the task moves to dead").
func (q *Queue) requeueAfterFailure(e *entry, cause error) DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.task.Attempt++
	e.task.LastError = cause.Error()
	delay := q.policy.delay(e.task.Attempt)
	if e.task.Attempt >= e.task.MaxAttempts || delay == 0 {
		e.task.Status = models.TaskDead
		delete(q.byID, e.task.ID)
		q.deadLetters = append(q.deadLetters, e.task)
		return DeadLetterEvent{Task: e.task, Fired: true}
	}

	e.task.Status = models.TaskQueued
	e.task.NextRun = time.Now().Add(delay)
	heap.Push(&q.heap, e)
	q.signal()
	return DeadLetterEvent{}
}

// DeadLetterEvent is emitted when a task exhausts its retry budget.
type DeadLetterEvent struct {
	Task  models.Task
	Fired bool
}

// Run drives numWorkers goroutines pulling ready tasks until ctx is
// cancelled (spec.md §5's "fixed pool of workers pulls the next ready
// task"). onDeadLetter is invoked for every task that exhausts its
// retries. Run blocks until ctx is done and all in-flight tasks return.
func (q *Queue) Run(ctx context.Context, numWorkers int, onDeadLetter func(DeadLetterEvent)) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			return q.workerLoop(ctx, onDeadLetter)
		})
	}
	return g.Wait()
}

func (q *Queue) workerLoop(ctx context.Context, onDeadLetter func(DeadLetterEvent)) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.notEmpty:
		case <-ticker.C: // wakes for delayed retries whose NextRun has arrived
		}

		for {
			e := q.nextReady(time.Now())
			if e == nil {
				break
			}
			q.execute(ctx, e, onDeadLetter)
		}
	}
}

func (q *Queue) execute(ctx context.Context, e *entry, onDeadLetter func(DeadLetterEvent)) {
	q.mu.Lock()
	h, ok := q.handler[e.task.Kind]
	q.mu.Unlock()
	if !ok {
		q.logger.Warn("taskqueue: no handler registered", zap.String("kind", e.task.Kind))
		ev := q.requeueAfterFailure(e, errors.New("no handler registered"))
		if ev.Fired && onDeadLetter != nil {
			onDeadLetter(ev)
		}
		return
	}

	err := h(ctx, e.task.Payload)
	if err == nil {
		q.mu.Lock()
		e.task.Status = models.TaskDone
		delete(q.byID, e.task.ID)
		q.mu.Unlock()
		return
	}

	q.logger.Warn("taskqueue: task failed", zap.String("id", e.task.ID.String()), zap.String("kind", e.task.Kind), zap.Error(err))
	ev := q.requeueAfterFailure(e, err)
	if ev.Fired && onDeadLetter != nil {
		onDeadLetter(ev)
	}
}
