package operation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/operation"
	emailsvc "github.com/edupay/feeledger/services/email"
	"github.com/edupay/feeledger/tests"
)

func newTracker(t *testing.T) (*operation.Tracker, *testutil.Store, *emailsvc.ConsoleServiceMock) {
	conf := core.NewTestConfig()
	conf.NotifyEmail = "bursar@school.test"
	store := testutil.NewStore(t)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	return operation.NewTracker(store.Operations, testutil.NewLogger(conf), nil, mailSvc, conf), store, mailSvc
}

func okJob(summary operation.Summary) operation.Job {
	return func(context.Context, operation.Operation) (operation.Outcome, error) {
		return operation.Outcome{Summary: summary, Results: []operation.UnitResult{{ClassroomID: "c1", Summary: summary}}}, nil
	}
}

func TestTracker_Enqueue(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Enqueue(ctx, operation.Type("lol"), operation.Scope{}, operation.Options{})
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr))

	op, err := tracker.Enqueue(ctx, operation.TypeSync, operation.Scope{ClassroomID: "c1", TermID: "t1"}, operation.Options{})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusEnqueued, op.Status)
	assert.NotEmpty(t, op.ID)
	assert.Empty(t, op.Errors)

	_, err = tracker.Enqueue(ctx, operation.TypeFull, operation.Scope{ClassroomID: "c1"}, operation.Options{})
	assert.True(t, core.IsConflict(err))

	_, err = tracker.Enqueue(ctx, operation.TypeFull, operation.Scope{ClassroomID: "c2"}, operation.Options{})
	assert.NoError(t, err)
}

func TestTracker_Run(t *testing.T) {
	tracker, _, mailSvc := newTracker(t)
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		op, err := tracker.Enqueue(ctx, operation.TypeBackfill, operation.Scope{ClassroomID: "c1"}, operation.Options{})
		require.NoError(t, err)

		done := tracker.Run(ctx, op, okJob(operation.Summary{Created: 2, FeesBackfilled: 2}))
		assert.Equal(t, operation.StatusCompleted, done.Status)
		assert.Equal(t, 2, done.Summary.Created)
		assert.NotNil(t, done.StartedAt)
		assert.NotNil(t, done.FinishedAt)
		assert.Len(t, done.Results, 1)

		stored, err := tracker.Get(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, operation.StatusCompleted, stored.Status)

		// terminal operations never run again
		again := tracker.Run(ctx, stored, okJob(operation.Summary{Created: 99}))
		assert.Equal(t, operation.StatusCompleted, again.Status)
		assert.Equal(t, 2, again.Summary.Created)
	})

	t.Run("failed", func(t *testing.T) {
		op, err := tracker.Enqueue(ctx, operation.TypeFull, operation.Scope{ClassroomID: "c2"}, operation.Options{})
		require.NoError(t, err)

		done := tracker.Run(ctx, op, func(context.Context, operation.Operation) (operation.Outcome, error) {
			return operation.Outcome{}, errors.New("database unreachable")
		})
		assert.Equal(t, operation.StatusFailed, done.Status)
		assert.Equal(t, []string{"database unreachable"}, done.Errors)

		sent := mailSvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "Fee full operation failed", sent[0].Subject)
		assert.Equal(t, "bursar@school.test", sent[0].To[0].Address)
	})

	t.Run("failed keeps partial outcome", func(t *testing.T) {
		op, err := tracker.Enqueue(ctx, operation.TypeBackfill, operation.Scope{ClassroomID: "c4"}, operation.Options{})
		require.NoError(t, err)

		done := tracker.Run(ctx, op, func(context.Context, operation.Operation) (operation.Outcome, error) {
			partial := operation.Summary{Created: 5, FeesBackfilled: 5}
			return operation.Outcome{
				Summary: partial,
				Results: []operation.UnitResult{{ClassroomID: "c4", Summary: partial}},
				Errors:  []string{"JSS 4 / First Term 2024/2025: lock timeout"},
			}, errors.New("all 1 units failed")
		})
		assert.Equal(t, operation.StatusFailed, done.Status)
		assert.Equal(t, 5, done.Summary.Created)
		assert.Len(t, done.Results, 1)
		wantErrs := []string{"JSS 4 / First Term 2024/2025: lock timeout", "all 1 units failed"}
		assert.Equal(t, wantErrs, done.Errors)
		assert.Equal(t, wantErrs, done.Summary.Errors)

		stored, err := tracker.Get(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, stored.Summary.FeesBackfilled)
		assert.Equal(t, wantErrs, stored.Summary.Errors)
	})

	t.Run("panic", func(t *testing.T) {
		op, err := tracker.Enqueue(ctx, operation.TypeDeduplicate, operation.Scope{ClassroomID: "c3"}, operation.Options{})
		require.NoError(t, err)

		done := tracker.Run(ctx, op, func(context.Context, operation.Operation) (operation.Outcome, error) {
			panic("boom")
		})
		assert.Equal(t, operation.StatusFailed, done.Status)
		assert.Equal(t, []string{"panic: boom"}, done.Errors)
	})

	t.Run("scope is free once terminal", func(t *testing.T) {
		_, err := tracker.Enqueue(ctx, operation.TypeSync, operation.Scope{}, operation.Options{})
		assert.NoError(t, err)
	})
}

func TestTracker_List(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	for _, c := range []string{"c1", "c2", "c3"} {
		op, err := tracker.Enqueue(ctx, operation.TypeSync, operation.Scope{ClassroomID: c}, operation.Options{})
		require.NoError(t, err)
		if c != "c3" {
			tracker.Run(ctx, op, okJob(operation.Summary{}))
		}
		time.Sleep(time.Millisecond)
	}

	ops, err := tracker.List(ctx, operation.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, ops, 3)
	assert.Equal(t, "c3", ops[0].Scope.ClassroomID)

	ops, err = tracker.List(ctx, operation.QueryFilter{Status: operation.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	ops, err = tracker.List(ctx, operation.QueryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestTracker_Recover(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	enqueued, err := tracker.Enqueue(ctx, operation.TypeSync, operation.Scope{ClassroomID: "c1"}, operation.Options{})
	require.NoError(t, err)
	finished, err := tracker.Enqueue(ctx, operation.TypeSync, operation.Scope{ClassroomID: "c2"}, operation.Options{})
	require.NoError(t, err)
	tracker.Run(ctx, finished, okJob(operation.Summary{}))

	require.NoError(t, tracker.Recover(ctx))

	op, err := tracker.Get(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusFailed, op.Status)
	require.Len(t, op.Errors, 1)
	assert.Contains(t, op.Errors[0], "interrupted")
	assert.Equal(t, op.Errors, op.Summary.Errors)

	op, err = tracker.Get(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, op.Status)
}

func TestTracker_GetUnknown(t *testing.T) {
	tracker, _, _ := newTracker(t)
	_, err := tracker.Get(context.Background(), "nope")
	assert.Equal(t, operation.ErrNotFound, err)
}
