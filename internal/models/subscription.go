package models

import "time"

// SubscriptionClass says how a subscription target is interpreted.
type SubscriptionClass string

// Subscription classes.
const (
	ClassResource  SubscriptionClass = "resource"   // target is a contract identifier
	ClassEntity    SubscriptionClass = "entity"     // target is a principal address
	ClassEventType SubscriptionClass = "event-type" // target is a contract event type
)

// RoomGlobal is the room every connection implicitly belongs to.
// Invalidation messages are delivered through it unconditionally.
const RoomGlobal = "global"

// ValidClass reports whether s is a known subscription class.
func ValidClass(s string) bool {
	switch SubscriptionClass(s) {
	case ClassResource, ClassEntity, ClassEventType:
		return true
	}
	return false
}

// RoomKey derives the broadcast room name for a class/target pair.
func RoomKey(class SubscriptionClass, target string) string {
	return string(class) + ":" + target
}

// Subscription records one consumer's interest in a room.
// (Owner, Class, Target) is unique; repeated subscribe requests reactivate
// the existing row instead of creating a duplicate.
type Subscription struct {
	CreatedAt time.Time         `json:"created_at"`
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	Target    string            `json:"target"`
	Class     SubscriptionClass `json:"class"`
	Active    bool              `json:"active"`
}

// Room returns the broadcast room this subscription maps to.
func (s *Subscription) Room() string {
	return RoomKey(s.Class, s.Target)
}
