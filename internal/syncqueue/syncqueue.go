// Package syncqueue drains locally recorded mutations to the remote
// management system when connectivity allows. Actions are durable, apply
// in submission order, and survive restarts; a dead remote never blocks
// local work.
package syncqueue

import (
	"context"
	"encoding/json/jsontext"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/store"
)

const (
	// MaxRetries is the default per-cycle attempt ceiling for one action.
	MaxRetries = 3

	// DefaultDebounce batches bursts of triggers into one cycle.
	DefaultDebounce = 2 * time.Second
)

// ErrOffline is returned by transports that detect lost connectivity.
// The cycle stops immediately and everything stays queued.
var ErrOffline = errors.New("remote unreachable")

// Transport applies one action against the remote system.
type Transport interface {
	Apply(ctx context.Context, action *domain.PendingAction) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, action *domain.PendingAction) error

func (f TransportFunc) Apply(ctx context.Context, action *domain.PendingAction) error {
	return f(ctx, action)
}

// Status is a point-in-time view of the queue.
type Status struct {
	State      domain.SyncState `json:"state"`
	Pending    int              `json:"pending"`
	Message    string           `json:"message,omitempty"`
	LastSyncAt time.Time        `json:"last_sync_at,omitzero"`
}

// Queue persists pending actions and drains them through a Transport.
type Queue struct {
	store     *store.Store
	transport Transport
	logger    *slog.Logger

	debounce   time.Duration
	maxRetries int
	// sleep is swapped out in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	state      domain.SyncState
	message    string
	lastSyncAt time.Time
	online     bool
	inFlight   bool

	trigger chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a queue draining into the given transport.
func New(s *store.Store, transport Transport, logger *slog.Logger) *Queue {
	return &Queue{
		store:      s,
		transport:  transport,
		logger:     logger,
		debounce:   DefaultDebounce,
		maxRetries: MaxRetries,
		sleep:      sleepCtx,
		state:      domain.SyncIdle,
		online:     true,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Enqueue records one action for later sync and nudges the worker.
func (q *Queue) Enqueue(ctx context.Context, actionType domain.ActionType, entityID string, payload jsontext.Value) (*domain.PendingAction, error) {
	if !actionType.Valid() {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}

	seq, err := q.store.NextActionSeq()
	if err != nil {
		return nil, fmt.Errorf("next action seq: %w", err)
	}

	action := &domain.PendingAction{
		ID:        store.ActionKey(seq),
		Seq:       seq,
		Type:      actionType,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := q.store.Actions.Create(ctx, action.ID, action); err != nil {
		return nil, fmt.Errorf("store action: %w", err)
	}

	q.Trigger()
	return action, nil
}

// SetDebounce overrides the quiet period before a triggered cycle runs.
// Non-positive values are ignored.
func (q *Queue) SetDebounce(d time.Duration) {
	if d > 0 {
		q.debounce = d
	}
}

// SetMaxRetries overrides the per-cycle attempt ceiling. A ceiling below
// one is a caller bug, not a tunable, so it is rejected outright.
func (q *Queue) SetMaxRetries(n int) error {
	if n < 1 {
		return fmt.Errorf("retry ceiling must be at least 1, got %d", n)
	}
	q.maxRetries = n
	return nil
}

// Trigger requests a sync cycle. Triggers while a cycle is pending or
// running coalesce into one.
func (q *Queue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// SetOnline flips connectivity. Going online triggers a drain; going
// offline stops the current cycle at the next action boundary.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	q.online = online
	if !online {
		q.state = domain.SyncOffline
	} else if q.state == domain.SyncOffline {
		q.state = domain.SyncIdle
	}
	q.mu.Unlock()

	if online {
		q.Trigger()
	}
}

// Status returns the queue's current state and depth.
func (q *Queue) Status(ctx context.Context) (*Status, error) {
	pending := 0
	for _, err := range q.store.Actions.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list actions: %w", err)
		}
		pending++
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return &Status{
		State:      q.state,
		Pending:    pending,
		Message:    q.message,
		LastSyncAt: q.lastSyncAt,
	}, nil
}

// Run drains the queue whenever triggered, until ctx is canceled.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.trigger:
			}

			// Let rapid-fire triggers settle before starting.
			if err := q.sleep(ctx, q.debounce); err != nil {
				return
			}

			if err := q.SyncNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Warn("sync cycle failed", "error", err)
			}
		}
	}()
}

// Close stops the worker.
func (q *Queue) Close() {
	close(q.done)
	q.wg.Wait()
}

// SyncNow runs one drain cycle synchronously. Overlapping calls are
// dropped; the running cycle will pick up any newly enqueued actions.
func (q *Queue) SyncNow(ctx context.Context) error {
	q.mu.Lock()
	if q.inFlight || !q.online {
		q.mu.Unlock()
		return nil
	}
	q.inFlight = true
	q.state = domain.SyncSyncing
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}()

	var actions []*domain.PendingAction
	for action, err := range q.store.Actions.List(ctx) {
		if err != nil {
			q.finish(domain.SyncError, fmt.Sprintf("failed to read queue: %v", err))
			return err
		}
		actions = append(actions, action)
	}

	failed := 0
	for _, action := range actions {
		q.mu.Lock()
		online := q.online
		q.mu.Unlock()
		if !online {
			q.finish(domain.SyncOffline, "went offline mid-sync")
			return nil
		}

		err := q.applyWithRetry(ctx, action)
		switch {
		case err == nil:
			if err := q.store.Actions.Delete(ctx, action.ID); err != nil {
				q.finish(domain.SyncError, fmt.Sprintf("failed to dequeue action: %v", err))
				return err
			}
		case errors.Is(err, ErrOffline):
			q.SetOnline(false)
			q.finish(domain.SyncOffline, "remote unreachable")
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			q.finish(domain.SyncIdle, "")
			return err
		default:
			// Exhausted its retries. Keep it queued with the error
			// recorded and move on so one bad action cannot wedge
			// everything behind it.
			failed++
			action.RetryCount = q.maxRetries
			action.LastError = err.Error()
			if err := q.store.Actions.Update(ctx, action.ID, action); err != nil {
				q.logger.Warn("failed to record action error", "action", action.ID, "error", err)
			}
		}
	}

	if failed > 0 {
		q.finish(domain.SyncError, fmt.Sprintf("%d action(s) failed to sync", failed))
	} else {
		q.finish(domain.SyncIdle, "")
	}
	return nil
}

// applyWithRetry attempts one action with exponential backoff. Offline
// and cancellation short-circuit immediately.
func (q *Queue) applyWithRetry(ctx context.Context, action *domain.PendingAction) error {
	var lastErr error
	for attempt := 0; attempt < q.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			if err := q.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		lastErr = q.transport.Apply(ctx, action)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrOffline) || errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		q.logger.Debug("action sync attempt failed",
			"action", action.ID,
			"type", action.Type,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	return lastErr
}

func (q *Queue) finish(state domain.SyncState, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// An explicit offline flip wins over whatever the cycle concluded.
	if q.state == domain.SyncOffline && state != domain.SyncOffline && !q.online {
		q.message = message
		return
	}
	q.state = state
	q.message = message
	q.lastSyncAt = time.Now()
}
