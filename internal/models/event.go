package models

import (
	"encoding/json"
	"time"
)

// Well-known contract event types delivered by the chainhook provider.
const (
	EventTypePrint       = "print_event"
	EventTypeFTTransfer  = "ft_transfer_event"
	EventTypeSTXTransfer = "stx_transfer_event"
	EventTypeNFTTransfer = "nft_transfer_event"
)

// ResourceUnknown is recorded when a transaction carries no contract-call
// stack to read the entry-point contract from.
const ResourceUnknown = "unknown"

// NormalizedEvent is one canonical contract event produced by the
// normalizer from a raw chainhook delivery. TxHash is the idempotency key:
// the store never holds two events with the same hash. Events are immutable
// once written; they disappear only through reorg invalidation or the
// retention sweep.
type NormalizedEvent struct {
	Timestamp        time.Time       `json:"timestamp"`
	TxHash           string          `json:"tx_hash"`
	BlockHash        string          `json:"block_hash"`
	Resource         string          `json:"resource"`
	EventType        string          `json:"event_type"`
	Topic            string          `json:"topic,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	AffectedEntities []string        `json:"affected_entities"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	BlockHeight      uint64          `json:"block_height"`
	Success          bool            `json:"success"`
}

// Rooms returns every broadcast room this event belongs to: its resource,
// each affected entity, its event type and the global room. Order is
// deterministic (resource, entities in stored order, type, global).
func (e *NormalizedEvent) Rooms() []string {
	rooms := make([]string, 0, len(e.AffectedEntities)+3)
	rooms = append(rooms, RoomKey(ClassResource, e.Resource))
	for _, entity := range e.AffectedEntities {
		rooms = append(rooms, RoomKey(ClassEntity, entity))
	}
	rooms = append(rooms, RoomKey(ClassEventType, e.EventType))
	rooms = append(rooms, RoomGlobal)
	return rooms
}

// Clone returns a deep copy of the event.
func (e *NormalizedEvent) Clone() *NormalizedEvent {
	payload := make(json.RawMessage, len(e.Payload))
	copy(payload, e.Payload)

	entities := make([]string, len(e.AffectedEntities))
	copy(entities, e.AffectedEntities)

	var metadata map[string]any
	if e.Metadata != nil {
		metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			metadata[k] = v
		}
	}

	return &NormalizedEvent{
		Timestamp:        e.Timestamp,
		TxHash:           e.TxHash,
		BlockHash:        e.BlockHash,
		Resource:         e.Resource,
		EventType:        e.EventType,
		Topic:            e.Topic,
		Payload:          payload,
		AffectedEntities: entities,
		Metadata:         metadata,
		BlockHeight:      e.BlockHeight,
		Success:          e.Success,
	}
}
