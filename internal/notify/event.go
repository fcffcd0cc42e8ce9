// Package notify fans lock-state transitions out to connected sessions.
package notify

import (
	"context"

	"github.com/covenant-app/covenant/internal/shared"
)

// Event is a lock-state transition for one resource.
type Event struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	IsLocked     bool   `json:"isLocked"`
	LockedBy     string `json:"lockedBy,omitempty"`
	LockedByID   string `json:"lockedById,omitempty"`
}

// Topic is the subscription key for the event's resource.
func (e Event) Topic() string {
	return shared.LockTopic(e.ResourceType, e.ResourceID)
}

// Message is the frame delivered to a session.
type Message struct {
	Event string  `json:"event"`
	Data  Payload `json:"data"`
}

// Payload is the client-visible lock state.
type Payload struct {
	IsLocked bool   `json:"isLocked"`
	LockedBy string `json:"lockedBy,omitempty"`
}

// Message renders the event as a session frame.
func (e Event) Message() Message {
	return Message{Event: e.Topic(), Data: Payload{IsLocked: e.IsLocked, LockedBy: e.LockedBy}}
}

// Publisher emits lock events to every process.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
