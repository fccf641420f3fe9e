package entity

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 领域事件类型
type EventKind string

const (
	EventBOMCreated          EventKind = "bom.created"
	EventBOMUpdated          EventKind = "bom.updated"
	EventBOMItemAdded        EventKind = "bom.item_added"
	EventBOMItemUpdated      EventKind = "bom.item_updated"
	EventBOMItemRemoved      EventKind = "bom.item_removed"
	EventBOMLocked           EventKind = "bom.locked"
	EventBOMUnlocked         EventKind = "bom.unlocked"
	EventBOMVersionCreated   EventKind = "bom.version_created"
	EventBOMVersionDisabled  EventKind = "bom.version_deactivated"
	EventProjectCreated      EventKind = "project.created"
	EventProjectUpdated      EventKind = "project.updated"
	EventProjectStatus       EventKind = "project.status_changed"
	EventProjectItemAdded    EventKind = "project.item_added"
	EventProjectItemRemoved  EventKind = "project.item_removed"
	EventProjectItemUpdated  EventKind = "project.item_updated"
	EventProjectItemStatus   EventKind = "project.item_status_changed"
	EventProjectItemQuantity EventKind = "project.item_quantity_changed"
	EventProjectItemAssigned EventKind = "project.item_assigned"
	EventProjectUserAssigned EventKind = "project.user_assigned"
	EventProjectProgress     EventKind = "project.progress_recalculated"
)

const (
	AggregateBOM     = "bom_structure"
	AggregateProject = "project"
)

// DomainEvent is an immutable record of one successful command.
type DomainEvent struct {
	ID            string            `json:"id"`
	Kind          EventKind         `json:"kind"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Version       int               `json:"version"`
	ItemIDs       []string          `json:"item_ids,omitempty"`
	ActorID       string            `json:"actor_id,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// EventQueue is the per-instance list of pending events. The zero value is ready to use.
type EventQueue struct {
	events []DomainEvent
}

func (q *EventQueue) record(e DomainEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	q.events = append(q.events, e)
}

// PendingEvents returns a copy of the queued events without clearing them.
func (q *EventQueue) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(q.events))
	copy(out, q.events)
	return out
}

// PullEvents drains the queue: the returned events are never returned again.
func (q *EventQueue) PullEvents() []DomainEvent {
	out := q.events
	q.events = nil
	return out
}
