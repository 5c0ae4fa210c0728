package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPriorityOrdering(t *testing.T) {
	q := New(zap.NewNop(), DefaultRetryPolicy())
	low, crit, normal := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(low, "noop", nil, models.PriorityLow))
	require.NoError(t, q.Enqueue(crit, "noop", nil, models.PriorityCritical))
	require.NoError(t, q.Enqueue(normal, "noop", nil, models.PriorityNormal))

	require.Equal(t, crit, q.nextReady(time.Now()).task.ID)
	require.Equal(t, normal, q.nextReady(time.Now()).task.ID)
	require.Equal(t, low, q.nextReady(time.Now()).task.ID)
}

func TestEnqueueSeqBreaksTiesWithinSamePriority(t *testing.T) {
	q := New(zap.NewNop(), DefaultRetryPolicy())
	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(a, "noop", nil, models.PriorityNormal))
	require.NoError(t, q.Enqueue(b, "noop", nil, models.PriorityNormal))

	require.Equal(t, a, q.nextReady(time.Now()).task.ID)
	require.Equal(t, b, q.nextReady(time.Now()).task.ID)
}

func TestCancelOnlyAffectsQueuedTasks(t *testing.T) {
	q := New(zap.NewNop(), DefaultRetryPolicy())
	a := uuid.New()
	require.NoError(t, q.Enqueue(a, "noop", nil, models.PriorityNormal))
	require.NoError(t, q.Cancel(a))
	require.Nil(t, q.nextReady(time.Now()))

	b := uuid.New()
	require.NoError(t, q.Enqueue(b, "noop", nil, models.PriorityNormal))
	running := q.nextReady(time.Now())
	require.NotNil(t, running)
	require.ErrorIs(t, q.Cancel(b), ErrNotQueued)
}

func TestRetryExhaustionMovesTaskToDead(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	q := New(zap.NewNop(), policy)
	a := uuid.New()
	require.NoError(t, q.Enqueue(a, "noop", nil, models.PriorityNormal))
	e := q.nextReady(time.Now())

	ev := q.requeueAfterFailure(e, errors.New("boom"))
	require.False(t, ev.Fired)
	require.Equal(t, models.TaskQueued, e.task.Status)

	time.Sleep(3 * time.Millisecond)
	e2 := q.nextReady(time.Now())
	require.NotNil(t, e2)
	ev2 := q.requeueAfterFailure(e2, errors.New("boom again"))
	require.True(t, ev2.Fired)
	require.Equal(t, models.TaskDead, ev2.Task.Status)
}

func TestRunDrainsQueueAndInvokesHandler(t *testing.T) {
	q := New(zap.NewNop(), DefaultRetryPolicy())
	var executed int64
	q.RegisterHandler("increment", func(ctx context.Context, payload any) error {
		atomic.AddInt64(&executed, 1)
		return nil
	})
	require.NoError(t, q.Enqueue(uuid.New(), "increment", nil, models.PriorityNormal))
	require.NoError(t, q.Enqueue(uuid.New(), "increment", nil, models.PriorityNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = q.Run(ctx, 2, nil)

	require.Equal(t, int64(2), atomic.LoadInt64(&executed))
}

func TestDeadLetterCallbackFires(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	q := New(zap.NewNop(), policy)
	q.RegisterHandler("fail", func(ctx context.Context, payload any) error {
		return errors.New("always fails")
	})
	require.NoError(t, q.Enqueue(uuid.New(), "fail", nil, models.PriorityNormal))

	var deadCount int64
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = q.Run(ctx, 1, func(ev DeadLetterEvent) { atomic.AddInt64(&deadCount, 1) })

	require.Equal(t, int64(1), atomic.LoadInt64(&deadCount))
	require.Len(t, q.DeadLetters(), 1)
}
