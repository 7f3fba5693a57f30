package syncqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/store"
)

type fakeTransport struct {
	applied []string
	fail    func(action *domain.PendingAction) error
}

func (f *fakeTransport) Apply(_ context.Context, action *domain.PendingAction) error {
	if f.fail != nil {
		if err := f.fail(action); err != nil {
			return err
		}
	}
	f.applied = append(f.applied, action.EntityID)
	return nil
}

func setupQueue(t *testing.T, transport Transport) (*Queue, *store.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	q := New(s, transport, logger)
	// Deterministic tests: backoff returns immediately.
	q.sleep = func(context.Context, time.Duration) error { return nil }
	return q, s
}

func enqueue(t *testing.T, q *Queue, entityID string) {
	t.Helper()
	_, err := q.Enqueue(context.Background(), domain.ActionUpdateTithe, entityID, nil)
	require.NoError(t, err)
}

func TestSyncDrainsInSubmissionOrder(t *testing.T) {
	transport := &fakeTransport{}
	q, _ := setupQueue(t, transport)
	ctx := context.Background()

	enqueue(t, q, "M001")
	enqueue(t, q, "M002")
	enqueue(t, q, "M003")

	require.NoError(t, q.SyncNow(ctx))
	assert.Equal(t, []string{"M001", "M002", "M003"}, transport.applied)

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncIdle, status.State)
	assert.Zero(t, status.Pending)
	assert.Empty(t, status.Message)
	assert.False(t, status.LastSyncAt.IsZero())
}

func TestEnqueueRejectsUnknownActionType(t *testing.T) {
	q, _ := setupQueue(t, &fakeTransport{})

	_, err := q.Enqueue(context.Background(), domain.ActionType("launch_rocket"), "M001", nil)
	assert.Error(t, err)
}

func TestFailedActionStaysQueuedWithError(t *testing.T) {
	transport := &fakeTransport{
		fail: func(action *domain.PendingAction) error {
			if action.EntityID == "M002" {
				return errors.New("remote rejected update")
			}
			return nil
		},
	}
	q, s := setupQueue(t, transport)
	ctx := context.Background()

	enqueue(t, q, "M001")
	enqueue(t, q, "M002")
	enqueue(t, q, "M003")

	require.NoError(t, q.SyncNow(ctx))

	// The bad action does not block the ones behind it.
	assert.Equal(t, []string{"M001", "M003"}, transport.applied)

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncError, status.State)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, "1 action(s) failed to sync", status.Message)

	var remaining []*domain.PendingAction
	for action, err := range s.Actions.List(ctx) {
		require.NoError(t, err)
		remaining = append(remaining, action)
	}
	require.Len(t, remaining, 1)
	assert.Equal(t, "M002", remaining[0].EntityID)
	assert.Equal(t, MaxRetries, remaining[0].RetryCount)
	assert.Contains(t, remaining[0].LastError, "remote rejected update")
}

func TestRetriesWithExponentialBackoff(t *testing.T) {
	attempts := 0
	transport := &fakeTransport{
		fail: func(*domain.PendingAction) error {
			attempts++
			if attempts < 3 {
				return errors.New("flaky")
			}
			return nil
		},
	}
	q, _ := setupQueue(t, transport)

	var backoffs []time.Duration
	q.sleep = func(_ context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	enqueue(t, q, "M001")
	require.NoError(t, q.SyncNow(context.Background()))

	assert.Equal(t, []string{"M001"}, transport.applied)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, backoffs)
}

func TestConfiguredRetryCeilingIsHonored(t *testing.T) {
	attempts := 0
	transport := &fakeTransport{
		fail: func(*domain.PendingAction) error {
			attempts++
			return errors.New("flaky")
		},
	}
	q, s := setupQueue(t, transport)
	ctx := context.Background()

	require.NoError(t, q.SetMaxRetries(1))
	enqueue(t, q, "M001")
	require.NoError(t, q.SyncNow(ctx))

	// A ceiling of one means one attempt, no backoff retries.
	assert.Equal(t, 1, attempts)

	var remaining []*domain.PendingAction
	for action, err := range s.Actions.List(ctx) {
		require.NoError(t, err)
		remaining = append(remaining, action)
	}
	require.Len(t, remaining, 1)
	assert.Equal(t, 1, remaining[0].RetryCount)
}

func TestRetryCeilingBelowOneIsRejected(t *testing.T) {
	q, _ := setupQueue(t, &fakeTransport{})

	assert.Error(t, q.SetMaxRetries(0))
	assert.Error(t, q.SetMaxRetries(-5))
}

func TestOfflineTransportStopsCycle(t *testing.T) {
	transport := &fakeTransport{
		fail: func(action *domain.PendingAction) error {
			if action.EntityID == "M002" {
				return ErrOffline
			}
			return nil
		},
	}
	q, _ := setupQueue(t, transport)
	ctx := context.Background()

	enqueue(t, q, "M001")
	enqueue(t, q, "M002")
	enqueue(t, q, "M003")

	require.NoError(t, q.SyncNow(ctx))

	// M003 was never attempted.
	assert.Equal(t, []string{"M001"}, transport.applied)

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncOffline, status.State)
	assert.Equal(t, 2, status.Pending)
}

func TestSyncSkippedWhileOffline(t *testing.T) {
	transport := &fakeTransport{}
	q, _ := setupQueue(t, transport)
	ctx := context.Background()

	enqueue(t, q, "M001")
	q.SetOnline(false)

	require.NoError(t, q.SyncNow(ctx))
	assert.Empty(t, transport.applied)

	// Back online, the queue drains.
	q.SetOnline(true)
	require.NoError(t, q.SyncNow(ctx))
	assert.Equal(t, []string{"M001"}, transport.applied)
}

func TestOverlappingSyncIsDropped(t *testing.T) {
	transport := &fakeTransport{}
	q, _ := setupQueue(t, transport)
	ctx := context.Background()

	enqueue(t, q, "M001")

	q.mu.Lock()
	q.inFlight = true
	q.mu.Unlock()

	require.NoError(t, q.SyncNow(ctx))
	assert.Empty(t, transport.applied)

	q.mu.Lock()
	q.inFlight = false
	q.mu.Unlock()

	require.NoError(t, q.SyncNow(ctx))
	assert.Equal(t, []string{"M001"}, transport.applied)
}

func TestQueueSurvivesReopen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	s, err := store.New(dir, logger)
	require.NoError(t, err)
	q := New(s, &fakeTransport{}, logger)
	q.sleep = func(context.Context, time.Duration) error { return nil }

	enqueue(t, q, "M001")
	enqueue(t, q, "M002")
	require.NoError(t, s.Close())

	s, err = store.New(dir, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	transport := &fakeTransport{}
	q = New(s, transport, logger)
	q.sleep = func(context.Context, time.Duration) error { return nil }

	require.NoError(t, q.SyncNow(context.Background()))
	assert.Equal(t, []string{"M001", "M002"}, transport.applied)
}
