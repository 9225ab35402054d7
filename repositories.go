package realtime

import (
	"context"

	"github.com/coregx/realtime/model"
)

// MessageFilter represents query filtering options for persisted messages.
// Zero values mean "no filter" for the corresponding field.
type MessageFilter struct {
	ChannelName string           // Filter by channel name snapshot (empty = all channels)
	EventName   string           // Filter by event name (empty = all events)
	SenderType  model.SenderType // Filter by origin (empty = both)
	Limit       int              // Maximum rows returned (0 = repository default)
	Offset      int              // Rows skipped for pagination
}

// ChannelRepository defines the persistence interface for channel definitions.
//
// Implementations must be safe for concurrent use. Channel IDs are generated
// by the caller (model.NewChannel), so create and update are distinct
// operations rather than an upsert.
type ChannelRepository interface {
	// Load retrieves a channel by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Channel, error)

	// GetByName retrieves a channel by its unique routing name.
	// Returns ErrNoData if not found.
	GetByName(ctx context.Context, name string) (model.Channel, error)

	// List retrieves all channels ordered by name.
	// Returns an empty slice if none exist.
	List(ctx context.Context) ([]model.Channel, error)

	// Create persists a new channel.
	Create(ctx context.Context, ch model.Channel) (model.Channel, error)

	// Update persists changes to an existing channel.
	Update(ctx context.Context, ch model.Channel) (model.Channel, error)

	// Delete permanently removes a channel. Messages keep their channel name
	// snapshot; their channel_id reference is nulled by the schema.
	Delete(ctx context.Context, ch model.Channel) error
}

// MessageRepository defines the persistence interface for event records.
// A message is immutable after creation except for its delivery counters.
type MessageRepository interface {
	// Load retrieves a message by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Message, error)

	// Create persists a new message with zeroed delivery counters.
	Create(ctx context.Context, m model.Message) (model.Message, error)

	// List retrieves messages matching the filter, newest first.
	// Returns ErrNoData if nothing matches.
	List(ctx context.Context, filter MessageFilter) ([]model.Message, error)

	// Stats aggregates delivery accounting over messages matching the filter.
	Stats(ctx context.Context, filter MessageFilter) (model.MessageStats, error)

	// UpdateDeliveryStats writes the three delivery counters for a message in
	// a single atomic update. Calling it twice for the same id overwrites
	// (last-write-wins); it never accumulates.
	UpdateDeliveryStats(ctx context.Context, id string, stats model.DeliveryStats) error

	// DeleteOlderThan removes messages older than the given number of days.
	// Used for cleanup/archival operations. Returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, days int) (int, error)
}
