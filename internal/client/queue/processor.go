// Package queue buffers consumer operations while the client is offline
// and drains them once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/client/agent"
	"github.com/hookline/hookline/internal/client/storage"
	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
)

// Processor errors.
var (
	ErrSyncInProgress = errors.New("queue drain already in progress")
	ErrOffline        = errors.New("client is offline")
)

// DefaultMaxRetries bounds per-operation delivery attempts.
const DefaultMaxRetries = 3

// DefaultDrainInterval paces the periodic re-drain while operations remain.
const DefaultDrainInterval = 30 * time.Second

// Executor performs one queued operation against the server. A returned
// error counts as a failed attempt and the operation is retried up to its
// retry budget.
type Executor func(ctx context.Context, op *models.QueuedOperation) error

// FailedCallback observes operations that exhausted their retries.
type FailedCallback func(op *models.QueuedOperation)

// Processor drains the offline queue. Online state is owned by the
// caller (typically wired to the agent's state callbacks); a drain is
// gated on it and only one drain runs at a time.
type Processor struct {
	store      storage.OperationStorage
	executor   Executor
	logger     *slog.Logger
	clock      clock.Clock
	maxRetries int

	online   atomic.Bool
	draining atomic.Bool
	onFailed atomic.Pointer[FailedCallback]
	wake     chan struct{}
}

// New creates a processor. maxRetries <= 0 selects the default.
func New(store storage.OperationStorage, executor Executor, logger *slog.Logger, clk clock.Clock, maxRetries int) *Processor {
	if clk == nil {
		clk = clock.System()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Processor{
		store:      store,
		executor:   executor,
		logger:     logger,
		clock:      clk,
		maxRetries: maxRetries,
		wake:       make(chan struct{}, 1),
	}
}

// SetOnline flips the connectivity gate. The offline→online transition
// wakes the Run loop so queued operations replay immediately.
func (p *Processor) SetOnline(online bool) {
	was := p.online.Swap(online)
	if online && !was {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Bind wires the connectivity gate to the sync agent's state transitions
// and returns the unbind func. Pair it with a running Run loop: together
// they replay the queue on every reconnect.
func (p *Processor) Bind(a *agent.Agent) func() {
	return a.OnStateChange(func(state models.ConnState) {
		p.SetOnline(state == models.StateConnected)
	})
}

// Run drains the queue when the gate flips online and re-drains
// periodically while operations remain. Blocks until ctx is cancelled.
// interval <= 0 selects the default.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-p.clock.After(interval):
		}

		if !p.online.Load() {
			continue
		}

		pending, err := p.store.Len(ctx)
		if err != nil {
			p.logger.Error("Failed to check queue length", "error", err)
			continue
		}
		if pending == 0 {
			continue
		}

		if _, err := p.ProcessQueue(ctx); err != nil &&
			!errors.Is(err, ErrOffline) && !errors.Is(err, ErrSyncInProgress) {
			p.logger.Error("Queue drain failed", "error", err)
		}
	}
}

// Online reports the current connectivity gate.
func (p *Processor) Online() bool {
	return p.online.Load()
}

// OnFailed registers the observer for permanently failed operations.
func (p *Processor) OnFailed(cb FailedCallback) {
	p.onFailed.Store(&cb)
}

// Enqueue buffers an operation for later delivery. Lower priority values
// are serviced first; operations of equal priority keep FIFO order.
func (p *Processor) Enqueue(ctx context.Context, kind string, payload json.RawMessage, priority int) (*models.QueuedOperation, error) {
	op := &models.QueuedOperation{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
		MaxRetries: p.maxRetries,
		EnqueuedAt: p.clock.Now(),
	}

	if err := p.store.Enqueue(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}

	p.logger.Debug("Operation queued", "id", op.ID, "kind", kind, "priority", priority)
	return op, nil
}

// Result contains queue drain results
type Result struct {
	Processed int // operations delivered to the server
	Retried   int // failed attempts that stay queued for the next drain
	Failed    int // operations moved to the permanently failed set
}

// ProcessQueue drains the operations queued at the moment the drain
// starts. Operations enqueued mid-drain wait for the next pass. Returns
// ErrOffline when the gate is down and ErrSyncInProgress when another
// drain holds the flag.
func (p *Processor) ProcessQueue(ctx context.Context) (*Result, error) {
	if !p.online.Load() {
		return nil, ErrOffline
	}
	if !p.draining.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer p.draining.Store(false)

	// Snapshot first: the drain works a fixed set.
	ops, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued operations: %w", err)
	}

	p.logger.Info("Draining offline queue", "count", len(ops))

	result := &Result{}
	for _, op := range ops {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !p.online.Load() {
			p.logger.Warn("Went offline mid-drain, stopping",
				"processed", result.Processed, "remaining", len(ops)-result.Processed)
			return result, ErrOffline
		}

		p.processOne(ctx, op, result)
	}

	p.logger.Info("Queue drain finished",
		"processed", result.Processed, "retried", result.Retried, "failed", result.Failed)
	return result, nil
}

func (p *Processor) processOne(ctx context.Context, op *models.QueuedOperation, result *Result) {
	execErr := p.executor(ctx, op)
	if execErr == nil {
		if err := p.store.Remove(ctx, op.ID); err != nil {
			p.logger.Error("Failed to remove completed operation", "id", op.ID, "error", err)
		}
		result.Processed++
		return
	}

	op.RetryCount++
	op.LastError = execErr.Error()

	if op.RetryCount >= op.MaxRetries {
		p.logger.Error("Operation exhausted retries",
			"id", op.ID, "kind", op.Kind, "retries", op.RetryCount, "error", execErr)
		if err := p.store.MarkFailed(ctx, op); err != nil {
			p.logger.Error("Failed to move operation to failed set", "id", op.ID, "error", err)
		}
		result.Failed++

		if cb := p.onFailed.Load(); cb != nil {
			(*cb)(op)
		}
		return
	}

	p.logger.Warn("Operation failed, will retry",
		"id", op.ID, "kind", op.Kind, "attempt", op.RetryCount, "max_retries", op.MaxRetries, "error", execErr)
	if err := p.store.Update(ctx, op); err != nil {
		p.logger.Error("Failed to persist retry state", "id", op.ID, "error", err)
	}
	result.Retried++
}

// Failed returns the permanently failed operations awaiting acknowledgement.
func (p *Processor) Failed(ctx context.Context) ([]*models.QueuedOperation, error) {
	return p.store.ListFailed(ctx)
}

// Acknowledge removes a permanently failed operation after the consumer
// has inspected it.
func (p *Processor) Acknowledge(ctx context.Context, id string) error {
	return p.store.Acknowledge(ctx, id)
}

// PendingCount returns the number of queued operations.
func (p *Processor) PendingCount(ctx context.Context) (int, error) {
	return p.store.Len(ctx)
}
