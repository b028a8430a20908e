package agent

import (
	"log/slog"
	"sync"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

// Dispatch channels that are not room keys.
const (
	ChannelInvalidate = "invalidate"
	ChannelStatus     = "status"
)

// Handler consumes one server message. Handlers run inline on the
// delivery path and must be non-blocking or off-load their work.
type Handler func(msg api.ServerMessage)

// dispatcher is the typed handler registry: register returns a removal
// token, dispatch iterates a snapshot so handlers may unregister
// themselves without mutate-during-iterate hazards.
type dispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]map[int]Handler // channel -> id -> handler
	nextID   int
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// register adds a handler for one channel and returns its removal func.
// The removal func is idempotent.
func (d *dispatcher) register(channel string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++

	if d.handlers[channel] == nil {
		d.handlers[channel] = make(map[int]Handler)
	}
	d.handlers[channel][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.handlers[channel], id)
			if len(d.handlers[channel]) == 0 {
				delete(d.handlers, channel)
			}
		})
	}
}

// dispatch routes one server message to every handler registered for its
// channels. Each registration is one delivery: the same function
// registered on two matching channels runs twice, once per registration.
// Messages with no remaining handlers are silently discarded.
func (d *dispatcher) dispatch(msg api.ServerMessage) {
	channels := messageChannels(msg)
	if len(channels) == 0 {
		return
	}

	// Snapshot under the lock, run handlers outside it.
	var targets []Handler
	d.mu.Lock()
	for _, channel := range channels {
		for _, h := range d.handlers[channel] {
			targets = append(targets, h)
		}
	}
	d.mu.Unlock()

	for _, h := range targets {
		d.invoke(h, msg)
	}
}

// invoke isolates handler panics so one failing handler cannot prevent
// delivery to the others.
func (d *dispatcher) invoke(h Handler, msg api.ServerMessage) {
	defer func() {
		if err := recover(); err != nil {
			d.logger.Error("Handler panicked", "type", msg.Type, "error", err)
		}
	}()
	h(msg)
}

// messageChannels maps a server message to the dispatch channels it
// belongs to. Events fan out to their room keys; invalidations and status
// notices have dedicated channels.
func messageChannels(msg api.ServerMessage) []string {
	switch msg.Type {
	case api.TypeEvent:
		if msg.Event == nil {
			return nil
		}
		event := msg.Event
		channels := make([]string, 0, len(event.AffectedEntities)+2)
		channels = append(channels, models.RoomKey(models.ClassResource, event.Resource))
		for _, entity := range event.AffectedEntities {
			channels = append(channels, models.RoomKey(models.ClassEntity, entity))
		}
		channels = append(channels, models.RoomKey(models.ClassEventType, event.EventType))
		return channels
	case api.TypeInvalidate:
		return []string{ChannelInvalidate}
	case api.TypeStatusUpdate, api.TypeSubscriptionAck:
		return []string{ChannelStatus}
	}
	return nil
}
