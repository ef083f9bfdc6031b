package nats

import (
	"time"
)

// EntityType identifies which record an UpdateEvent describes.
type EntityType string

const (
	EntityEscrow EntityType = "escrow"
	EntityAsset  EntityType = "asset"
	EntityPool   EntityType = "pool"
)

// UpdateEvent represents a reconciliation update published to NATS.
// It is published to the subject "recon.{entity}.{id}" in JetStream and is
// how the notification subsystem and dashboards learn about state changes
// without polling the store.
type UpdateEvent struct {
	// Entity identifiers
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id"` // escrow PDA, asset mint, or pool token mint

	// What happened
	Kind      string `json:"kind"`   // the event kind that caused the change
	Change    string `json:"change"` // e.g. "funded", "owner-updated", "trade-recorded"
	Signature string `json:"signature"`

	// New state summary
	Status string `json:"status,omitempty"`
	Amount int64  `json:"amount,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}
