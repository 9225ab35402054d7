// Package model contains the domain models for the realtime event delivery system.
package model

import (
	"time"

	"github.com/google/uuid"
)

// tablePrefix is prepended to every table name. Kept in sync with the
// embedded migrations.
const tablePrefix = "realtime_"

// Role identifies the caller's role as established by the route layer.
// The library does not authenticate callers; it only evaluates policy
// against whatever role it is handed.
const (
	// RoleAdmin may manage channels and publish on any enabled channel.
	RoleAdmin = "admin"

	// RoleAuthenticated is any signed-in caller without administrative rights.
	RoleAuthenticated = "authenticated"
)

// Capability is a channel permission that can be checked for a caller.
type Capability string

const (
	// CapabilityJoin is the right to subscribe to a channel's live events.
	CapabilityJoin Capability = "join"

	// CapabilitySend is the right to publish client messages on a channel.
	CapabilitySend Capability = "send"
)

// Channel represents a named logical topic for realtime event delivery.
//
// The channel name doubles as the WebSocket room key and is embedded into
// persisted messages, so it is immutable after creation. Disabling a channel
// suppresses all delivery but does not reject future message inserts.
type Channel struct {
	ID          string    `json:"id" db:"id"`                  // Unique channel ID
	Name        string    `json:"name" db:"name"`              // Unique, immutable routing name
	Description string    `json:"description" db:"description"` // Channel purpose and details
	WebhookURLs []string  `json:"webhookUrls" db:"-"`          // Outbound delivery targets (system events only)
	Enabled     bool      `json:"enabled" db:"enabled"`        // Disabled channels deliver nothing
	PublicWrite bool      `json:"publicWrite" db:"public_write"` // Non-admin callers may send when true
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Channel.
func (c Channel) TableName() string {
	return tablePrefix + "channel"
}

// NewChannel creates a new enabled channel.
//
// Parameters:
//   - name: Unique routing name (e.g., "orders", "chat")
//   - description: Purpose and usage details for this channel
func NewChannel(name, description string) Channel {
	now := time.Now()
	return Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		WebhookURLs: nil,
		Enabled:     true,
		PublicWrite: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CanJoin reports whether a caller may subscribe to this channel's events.
// Any authenticated caller may join an enabled channel.
func (c Channel) CanJoin() bool {
	return c.Enabled
}

// CanSend reports whether a caller with the given role may publish client
// messages on this channel. Channels without public write accept sends only
// from administrative callers.
func (c Channel) CanSend(role string) bool {
	if !c.Enabled {
		return false
	}
	return c.PublicWrite || role == RoleAdmin
}

// Can evaluates a capability for the given role.
func (c Channel) Can(capability Capability, role string) bool {
	switch capability {
	case CapabilityJoin:
		return c.CanJoin()
	case CapabilitySend:
		return c.CanSend(role)
	default:
		return false
	}
}

// Touch updates the modification timestamp. Called by the channel service
// before persisting an update.
func (c *Channel) Touch() {
	c.UpdatedAt = time.Now()
}
