package models

import "time"

// LifecycleEventType names what happened to a chain record.
type LifecycleEventType string

const (
	LifecycleEventCreated   LifecycleEventType = "created"
	LifecycleEventUpdated   LifecycleEventType = "updated"
	LifecycleEventFinalized LifecycleEventType = "finalized"
	LifecycleEventApproved  LifecycleEventType = "approved"
	LifecycleEventShared    LifecycleEventType = "shared"
)

// LifecycleEvent is emitted after a committed change for downstream notification.
type LifecycleEvent struct {
	ID         string             `json:"id"`
	Type       LifecycleEventType `json:"type"`
	Kind       RecordKind         `json:"kind"`
	RecordID   int64              `json:"record_id"`
	DrefID     int64              `json:"dref_id"`
	AppealCode *string            `json:"appeal_code,omitempty"`
	ActorID    string             `json:"actor_id"`
	Users      []string           `json:"users,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}
