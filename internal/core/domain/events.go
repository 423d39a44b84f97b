package domain

import "time"

// RegistryEventKind enumerates registry notifications.
type RegistryEventKind string

const (
	EventAdded   RegistryEventKind = "added"
	EventRemoved RegistryEventKind = "removed"
	EventRenamed RegistryEventKind = "renamed"
)

// RegistryEvent is emitted after a registry mutation commits.
type RegistryEvent struct {
	Kind       RegistryEventKind `json:"kind"`
	Registry   EndpointKind      `json:"registry"`
	ID         string            `json:"id"`
	PreviousID string            `json:"previous_id,omitempty"`
	Count      int               `json:"count"`
	At         time.Time         `json:"at"`
}
