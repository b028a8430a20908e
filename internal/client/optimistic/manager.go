// Package optimistic tracks speculative local updates until the
// authoritative event stream confirms them or their TTL reverts them.
package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
)

// Manager errors.
var (
	ErrUpdateNotFound   = errors.New("optimistic update not found")
	ErrAlreadyFinalized = errors.New("optimistic update already finalized")
)

// Defaults.
const (
	DefaultTTL           = 30 * time.Second
	DefaultSweepInterval = time.Second
)

// Callback observes a terminal transition of one update.
type Callback func(update *models.OptimisticUpdate)

// Manager owns the set of pending optimistic updates. Confirmation is
// keyed by correlation ID (the transaction hash of the expected event),
// expiry is handled by a periodic sweep on the injected clock. Each
// update reaches exactly one terminal state no matter how confirmation
// and expiry race.
type Manager struct {
	logger        *slog.Logger
	clock         clock.Clock
	ttl           time.Duration
	sweepInterval time.Duration

	mu            sync.Mutex
	updates       map[string]*models.OptimisticUpdate // by update ID
	byCorrelation map[string]string                   // correlation ID -> update ID
	onConfirm     map[int]Callback
	onRevert      map[int]Callback
	nextCBID      int
}

// New creates a manager. Zero ttl and sweepInterval select the defaults;
// a nil clk selects the system clock.
func New(logger *slog.Logger, clk clock.Clock, ttl, sweepInterval time.Duration) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Manager{
		logger:        logger,
		clock:         clk,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		updates:       make(map[string]*models.OptimisticUpdate),
		byCorrelation: make(map[string]string),
		onConfirm:     make(map[int]Callback),
		onRevert:      make(map[int]Callback),
	}
}

// OnConfirm registers a confirmation observer and returns its removal func.
func (m *Manager) OnConfirm(cb Callback) func() {
	return m.addCallback(m.onConfirm, cb)
}

// OnRevert registers a revert observer and returns its removal func.
// Reverts fire both for explicit Revert calls and TTL expiry.
func (m *Manager) OnRevert(cb Callback) func() {
	return m.addCallback(m.onRevert, cb)
}

func (m *Manager) addCallback(set map[int]Callback, cb Callback) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextCBID
	m.nextCBID++
	set[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(set, id)
		})
	}
}

// Apply records a new pending update. correlationID ties the update to the
// transaction hash whose event will confirm it; it may be empty for
// updates only ever finalized explicitly.
func (m *Manager) Apply(kind, correlationID string, payload json.RawMessage) *models.OptimisticUpdate {
	now := m.clock.Now()
	update := &models.OptimisticUpdate{
		ID:            uuid.New().String(),
		Kind:          kind,
		CorrelationID: correlationID,
		Payload:       payload,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	m.mu.Lock()
	m.updates[update.ID] = update
	if correlationID != "" {
		m.byCorrelation[correlationID] = update.ID
	}
	m.mu.Unlock()

	m.logger.Debug("Optimistic update applied",
		"id", update.ID, "kind", kind, "correlation_id", correlationID)
	return update
}

// Get returns the update with the given ID.
func (m *Manager) Get(id string) (*models.OptimisticUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	update, ok := m.updates[id]
	if !ok {
		return nil, ErrUpdateNotFound
	}
	return update, nil
}

// Pending returns the updates still awaiting a terminal state.
func (m *Manager) Pending() []*models.OptimisticUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]*models.OptimisticUpdate, 0, len(m.updates))
	for _, update := range m.updates {
		if update.Status() == models.StatusPending {
			pending = append(pending, update)
		}
	}
	return pending
}

// Confirm finalizes the update correlated with the given transaction hash.
// Returns ErrAlreadyFinalized when a revert (explicit or by expiry) won the
// race; the caller treats that as a late confirmation, not a failure.
func (m *Manager) Confirm(correlationID string) (*models.OptimisticUpdate, error) {
	m.mu.Lock()
	id, ok := m.byCorrelation[correlationID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: correlation %q", ErrUpdateNotFound, correlationID)
	}
	update := m.updates[id]
	m.mu.Unlock()

	if !update.Finalize(models.StatusConfirmed) {
		return update, ErrAlreadyFinalized
	}

	m.forget(update)
	m.logger.Debug("Optimistic update confirmed", "id", update.ID, "correlation_id", correlationID)
	m.notify(m.onConfirm, update)
	return update, nil
}

// Revert explicitly finalizes the update with the given ID as reverted.
func (m *Manager) Revert(id string) (*models.OptimisticUpdate, error) {
	m.mu.Lock()
	update, ok := m.updates[id]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrUpdateNotFound, id)
	}
	if !update.Finalize(models.StatusReverted) {
		return update, ErrAlreadyFinalized
	}

	m.forget(update)
	m.logger.Debug("Optimistic update reverted", "id", update.ID)
	m.notify(m.onRevert, update)
	return update, nil
}

// Run sweeps for expired pending updates until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.sweepInterval):
			m.Sweep()
		}
	}
}

// Sweep reverts every pending update whose TTL has elapsed and returns the
// number reverted.
func (m *Manager) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []*models.OptimisticUpdate
	for _, update := range m.updates {
		if update.Status() == models.StatusPending && update.Expired(now) {
			expired = append(expired, update)
		}
	}
	m.mu.Unlock()

	reverted := 0
	for _, update := range expired {
		if !update.Finalize(models.StatusReverted) {
			continue
		}
		m.forget(update)
		m.logger.Info("Optimistic update expired",
			"id", update.ID, "kind", update.Kind, "correlation_id", update.CorrelationID)
		m.notify(m.onRevert, update)
		reverted++
	}
	return reverted
}

func (m *Manager) forget(update *models.OptimisticUpdate) {
	m.mu.Lock()
	delete(m.updates, update.ID)
	if update.CorrelationID != "" {
		delete(m.byCorrelation, update.CorrelationID)
	}
	m.mu.Unlock()
}

func (m *Manager) notify(set map[int]Callback, update *models.OptimisticUpdate) {
	m.mu.Lock()
	callbacks := make([]Callback, 0, len(set))
	for _, cb := range set {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(update)
	}
}
