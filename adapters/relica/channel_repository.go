package relica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/coregx/realtime"
	"github.com/coregx/realtime/model"
	"github.com/coregx/relica"
)

// ChannelRepository implements realtime.ChannelRepository using Relica.
type ChannelRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewChannelRepository creates a new ChannelRepository with default table prefix.
func NewChannelRepository(sqlDB *sql.DB, driverName string) *ChannelRepository {
	return &ChannelRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "realtime_"}
}

// NewChannelRepositoryWithPrefix creates a new ChannelRepository with custom table prefix.
func NewChannelRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *ChannelRepository {
	return &ChannelRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *ChannelRepository) tableName() string {
	return r.tablePrefix + "channel"
}

// channelRow is the storage shape of a channel. The webhook URL list is
// stored as a JSON array in a text column so the schema stays portable
// across PostgreSQL, MySQL and SQLite.
type channelRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	WebhookURLs string    `db:"webhook_urls"`
	Enabled     bool      `db:"enabled"`
	PublicWrite bool      `db:"public_write"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toChannelRow(ch model.Channel) (channelRow, error) {
	urls := ch.WebhookURLs
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return channelRow{}, err
	}
	return channelRow{
		ID:          ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
		WebhookURLs: string(encoded),
		Enabled:     ch.Enabled,
		PublicWrite: ch.PublicWrite,
		CreatedAt:   ch.CreatedAt,
		UpdatedAt:   ch.UpdatedAt,
	}, nil
}

func (row channelRow) toModel() (model.Channel, error) {
	var urls []string
	if row.WebhookURLs != "" {
		if err := json.Unmarshal([]byte(row.WebhookURLs), &urls); err != nil {
			return model.Channel{}, err
		}
	}
	return model.Channel{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		WebhookURLs: urls,
		Enabled:     row.Enabled,
		PublicWrite: row.PublicWrite,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// Load retrieves a channel by ID.
func (r *ChannelRepository) Load(ctx context.Context, id string) (model.Channel, error) {
	var row channelRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, realtime.ErrNoData
	}
	if err != nil {
		return model.Channel{}, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to load channel", err)
	}
	ch, err := row.toModel()
	if err != nil {
		return model.Channel{}, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to decode webhook URLs", err)
	}
	return ch, nil
}

// GetByName retrieves a channel by its unique routing name.
func (r *ChannelRepository) GetByName(ctx context.Context, name string) (model.Channel, error) {
	var row channelRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("name = ?", name).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, realtime.ErrNoData
	}
	if err != nil {
		return model.Channel{}, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to load channel by name", err)
	}
	ch, err := row.toModel()
	if err != nil {
		return model.Channel{}, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to decode webhook URLs", err)
	}
	return ch, nil
}

// List retrieves all channels ordered by name.
func (r *ChannelRepository) List(ctx context.Context) ([]model.Channel, error) {
	var rows []channelRow
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		OrderBy("name ASC").
		All(&rows)
	if err != nil {
		return nil, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to list channels", err)
	}

	channels := make([]model.Channel, 0, len(rows))
	for _, row := range rows {
		ch, err := row.toModel()
		if err != nil {
			return nil, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to decode webhook URLs", err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// Create persists a new channel.
func (r *ChannelRepository) Create(ctx context.Context, ch model.Channel) (model.Channel, error) {
	row, err := toChannelRow(ch)
	if err != nil {
		return ch, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to encode webhook URLs", err)
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
		return ch, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to insert channel", err)
	}
	return ch, nil
}

// Update persists changes to an existing channel.
func (r *ChannelRepository) Update(ctx context.Context, ch model.Channel) (model.Channel, error) {
	row, err := toChannelRow(ch)
	if err != nil {
		return ch, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to encode webhook URLs", err)
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
		return ch, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to update channel", err)
	}
	return ch, nil
}

// Delete permanently removes a channel. The message table's foreign key
// nulls channel_id on dependent rows.
func (r *ChannelRepository) Delete(ctx context.Context, ch model.Channel) error {
	row, err := toChannelRow(ch)
	if err != nil {
		return realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to encode webhook URLs", err)
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to delete channel", err)
	}
	return nil
}
