package api

import (
	"encoding/json"
	"time"
)

// Message types sent by the consumer.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Message types sent by the server.
const (
	TypeEvent           = "event"
	TypeInvalidate      = "invalidate"
	TypeSubscriptionAck = "subscription_ack"
	TypeStatusUpdate    = "status_update"
)

// Subscription classes. The target is interpreted per class:
// a contract identifier, a principal address or a contract event type.
const (
	ClassResource  = "resource"
	ClassEntity    = "entity"
	ClassEventType = "event-type"
)

// ClientMessage is one message from a consumer to the server.
type ClientMessage struct {
	Type   string `json:"type"`
	Class  string `json:"class,omitempty"`   // subscribe
	Target string `json:"target,omitempty"`  // subscribe
	RoomID string `json:"room_id,omitempty"` // unsubscribe
}

// ServerMessage is one message from the server to a consumer. Exactly one
// of the optional payload fields is set, selected by Type.
type ServerMessage struct {
	Event   *Event   `json:"event,omitempty"`
	Ack     *Ack     `json:"ack,omitempty"`
	Status  *Status  `json:"status,omitempty"`
	Type    string   `json:"type"`
	Heights []uint64 `json:"heights,omitempty"` // invalidate
}

// Event is the wire form of a normalized contract event.
type Event struct {
	Payload          json.RawMessage `json:"payload"`
	TxHash           string          `json:"tx_hash"`
	BlockHash        string          `json:"block_hash"`
	Resource         string          `json:"resource"`
	EventType        string          `json:"event_type"`
	Topic            string          `json:"topic,omitempty"`
	AffectedEntities []string        `json:"affected_entities"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	BlockHeight      uint64          `json:"block_height"`
	Timestamp        int64           `json:"timestamp"`
	Success          bool            `json:"success"`
}

// Ack confirms a subscribe request and carries the room id the consumer
// can later unsubscribe with.
type Ack struct {
	Class  string `json:"class"`
	Target string `json:"target"`
	RoomID string `json:"room_id"`
}

// Status is an out-of-band notice from the server (e.g. slow-consumer
// warnings or shutdown announcements).
type Status struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}
