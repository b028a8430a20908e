// Package agent maintains the client's live connection to the broadcast
// server: connect/reconnect with capped jittered backoff, an explicit
// connection-status state machine and handler dispatch for incoming
// events and invalidations.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

// Agent errors.
var (
	ErrNotConnected = errors.New("agent is not connected")
	ErrBadState     = errors.New("connect is only valid from disconnected or error state")
	ErrClosed       = errors.New("agent is closed")
)

// Default reconnect parameters.
const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Config holds the connection parameters.
type Config struct {
	URL         string        // websocket endpoint, token included as query parameter
	BaseDelay   time.Duration // first reconnect delay, doubles per attempt
	MaxDelay    time.Duration // backoff ceiling
	MaxAttempts int           // reconnect attempts before the agent gives up
}

// StateCallback observes connection-state transitions.
type StateCallback func(state models.ConnState)

// Agent is the client sync agent. One agent per process context; it is
// explicitly constructed and passed by reference, never a package-level
// singleton. Connection failures surface through state callbacks, not
// panics or uncaught errors.
type Agent struct {
	cfg        Config
	dialer     Dialer
	clock      clock.Clock
	logger     *slog.Logger
	dispatcher *dispatcher
	rng        *rand.Rand

	mu            sync.Mutex
	state         models.ConnState
	conn          Conn
	stateSubs     map[int]StateCallback
	connectedSubs map[int]func()
	nextCBID      int
	closed        bool
}

// New creates an agent. A nil dialer selects the websocket transport and
// a nil clk the system clock.
func New(cfg Config, dialer Dialer, clk clock.Clock, logger *slog.Logger) *Agent {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Agent{
		cfg:           cfg,
		dialer:        dialer,
		clock:         clk,
		logger:        logger,
		dispatcher:    newDispatcher(logger),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		state:         models.StateDisconnected,
		stateSubs:     make(map[int]StateCallback),
		connectedSubs: make(map[int]func()),
	}
}

// State returns the current connection state.
func (a *Agent) State() models.ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnStateChange registers a state observer and returns its removal func.
func (a *Agent) OnStateChange(cb StateCallback) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextCBID
	a.nextCBID++
	a.stateSubs[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.stateSubs, id)
		})
	}
}

// OnConnected registers a hook invoked on every transition into the
// connected state, including after a reconnect. Consumers use it to
// resubmit their subscriptions: the agent does not silently remember and
// replay them, subscription ownership stays with the consumer.
func (a *Agent) OnConnected(cb func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextCBID
	a.nextCBID++
	a.connectedSubs[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.connectedSubs, id)
		})
	}
}

// Register adds a handler for one dispatch channel (a room key,
// ChannelInvalidate or ChannelStatus) and returns its removal func.
func (a *Agent) Register(channel string, h Handler) func() {
	return a.dispatcher.register(channel, h)
}

// Connect dials the server. Valid from the disconnected and error states;
// the ctx governs the connection's lifetime, cancelling it disconnects
// the agent.
func (a *Agent) Connect(ctx context.Context) error {
	// Check-and-transition under one lock: a concurrent Connect must see
	// the connecting state and fail the guard, not dial a second time.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.state != models.StateDisconnected && a.state != models.StateError {
		a.mu.Unlock()
		return fmt.Errorf("%w: current state %s", ErrBadState, a.state)
	}
	callbacks := a.setStateLocked(models.StateConnecting)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(models.StateConnecting)
	}

	conn, err := a.dialer.Dial(ctx, a.cfg.URL)
	if err != nil {
		a.setState(models.StateError)
		return fmt.Errorf("failed to connect: %w", err)
	}

	a.attach(ctx, conn)
	return nil
}

// Subscription is one consumer subscription: a locally registered handler
// plus the submitted server-side room membership.
type Subscription struct {
	agent  *Agent
	class  models.SubscriptionClass
	target string
	room   string
	remove func()
	once   sync.Once
}

// Room returns the room key of this subscription.
func (s *Subscription) Room() string {
	return s.room
}

// Unsubscribe removes the local handler and, if connected, requests room
// removal on the server. Idempotent.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var sendErr error
	s.once.Do(func() {
		s.remove()
		err := s.agent.send(ctx, api.ClientMessage{
			Type:   api.TypeUnsubscribe,
			RoomID: s.room,
		})
		if err != nil && !errors.Is(err, ErrNotConnected) {
			sendErr = err
		}
	})
	return sendErr
}

// Subscribe registers the handler for the (class, target) room and, when
// connected, submits the subscription to the server. If the agent is
// offline the handler is still registered; the consumer resubmits via
// Resubmit from its OnConnected hook.
func (a *Agent) Subscribe(ctx context.Context, class models.SubscriptionClass, target string, h Handler) (*Subscription, error) {
	if !models.ValidClass(string(class)) {
		return nil, fmt.Errorf("invalid subscription class %q", class)
	}

	room := models.RoomKey(class, target)
	sub := &Subscription{
		agent:  a,
		class:  class,
		target: target,
		room:   room,
		remove: a.dispatcher.register(room, h),
	}

	if err := a.Resubmit(ctx, class, target); err != nil && !errors.Is(err, ErrNotConnected) {
		sub.remove()
		return nil, err
	}

	return sub, nil
}

// Resubmit sends a subscribe request for an already-registered handler.
// Used by consumer OnConnected hooks after a reconnect.
func (a *Agent) Resubmit(ctx context.Context, class models.SubscriptionClass, target string) error {
	return a.send(ctx, api.ClientMessage{
		Type:   api.TypeSubscribe,
		Class:  string(class),
		Target: target,
	})
}

// Close tears the connection down and stops reconnection. The agent ends
// in the disconnected state.
func (a *Agent) Close() error {
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	a.setState(models.StateDisconnected)
	return nil
}

func (a *Agent) send(ctx context.Context, msg api.ClientMessage) error {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == models.StateConnected
	a.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// attach installs a fresh connection, enters the connected state and
// starts the read loop.
func (a *Agent) attach(ctx context.Context, conn Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.setState(models.StateConnected)
	a.notifyConnected()

	go a.readLoop(ctx, conn)
}

func (a *Agent) readLoop(ctx context.Context, conn Conn) {
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			if a.isClosed() || ctx.Err() != nil {
				a.setState(models.StateDisconnected)
				return
			}
			a.logger.Warn("Connection lost", "error", err)
			a.reconnect(ctx)
			return
		}

		// Dispatch runs inline: handlers are expected to be fast or to
		// off-load their own work.
		a.dispatcher.dispatch(msg)
	}
}

// reconnect retries with capped exponential backoff and jitter until it
// succeeds or the attempt budget is exhausted, which parks the agent in
// the terminal error state awaiting explicit caller action.
func (a *Agent) reconnect(ctx context.Context) {
	a.setState(models.StateReconnecting)

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(attempt, a.cfg.BaseDelay, a.cfg.MaxDelay, a.rng)

		select {
		case <-ctx.Done():
			a.setState(models.StateDisconnected)
			return
		case <-a.clock.After(delay):
		}

		if a.isClosed() {
			a.setState(models.StateDisconnected)
			return
		}

		conn, err := a.dialer.Dial(ctx, a.cfg.URL)
		if err != nil {
			a.logger.Debug("Reconnect attempt failed",
				"attempt", attempt, "max_attempts", a.cfg.MaxAttempts, "error", err)
			continue
		}

		a.logger.Info("Reconnected", "attempt", attempt)
		a.attach(ctx, conn)
		return
	}

	a.logger.Error("Reconnect attempts exhausted", "attempts", a.cfg.MaxAttempts)
	a.setState(models.StateError)
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Agent) setState(state models.ConnState) {
	a.mu.Lock()
	callbacks := a.setStateLocked(state)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(state)
	}
}

// setStateLocked transitions the state and snapshots the observers to
// invoke once the lock is released. Caller holds a.mu.
func (a *Agent) setStateLocked(state models.ConnState) []StateCallback {
	if a.state == state {
		return nil
	}
	a.state = state

	callbacks := make([]StateCallback, 0, len(a.stateSubs))
	for _, cb := range a.stateSubs {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

func (a *Agent) notifyConnected() {
	a.mu.Lock()
	callbacks := make([]func(), 0, len(a.connectedSubs))
	for _, cb := range a.connectedSubs {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
