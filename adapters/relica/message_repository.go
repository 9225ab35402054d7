package relica

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/coregx/realtime"
	"github.com/coregx/realtime/model"
	"github.com/coregx/relica"
)

// defaultListLimit bounds unfiltered history queries.
const defaultListLimit = 100

// MessageRepository implements realtime.MessageRepository using Relica.
type MessageRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewMessageRepository creates a new MessageRepository with default table prefix.
func NewMessageRepository(sqlDB *sql.DB, driverName string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "realtime_"}
}

// NewMessageRepositoryWithPrefix creates a new MessageRepository with custom table prefix.
func NewMessageRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *MessageRepository) tableName() string {
	return r.tablePrefix + "message"
}

// filterClause converts a MessageFilter into a WHERE expression and its
// arguments. Returns an empty expression when the filter is empty.
func filterClause(filter realtime.MessageFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.ChannelName != "" {
		conds = append(conds, "channel_name = ?")
		args = append(args, filter.ChannelName)
	}
	if filter.EventName != "" {
		conds = append(conds, "event_name = ?")
		args = append(args, filter.EventName)
	}
	if filter.SenderType != "" {
		conds = append(conds, "sender_type = ?")
		args = append(args, string(filter.SenderType))
	}

	return strings.Join(conds, " AND "), args
}

// Load retrieves a message by ID.
func (r *MessageRepository) Load(ctx context.Context, id string) (model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return msg, realtime.ErrNoData
	}
	if err != nil {
		return msg, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to load message", err)
	}
	return msg, nil
}

// Create persists a new message with zeroed delivery counters.
func (r *MessageRepository) Create(ctx context.Context, m model.Message) (model.Message, error) {
	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
	if err != nil {
		return m, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to insert message", err)
	}
	return m, nil
}

// List retrieves messages matching the filter, newest first.
func (r *MessageRepository) List(ctx context.Context, filter realtime.MessageFilter) ([]model.Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := r.db.WithContext(ctx).Select("*").From(r.tableName())
	if expr, args := filterClause(filter); expr != "" {
		q = q.Where(expr, args...)
	}

	// Offset is applied after the fetch; the window stays bounded by
	// limit+offset so unpaginated queries cost the same as before.
	var messages []model.Message
	err := q.OrderBy("created_at DESC").
		Limit(int64(limit + filter.Offset)).
		All(&messages)
	if err != nil {
		return nil, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to list messages", err)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(messages) {
			messages = nil
		} else {
			messages = messages[filter.Offset:]
		}
	}
	if len(messages) == 0 {
		return nil, realtime.ErrNoData
	}
	return messages, nil
}

// Stats aggregates delivery accounting over messages matching the filter.
func (r *MessageRepository) Stats(ctx context.Context, filter realtime.MessageFilter) (model.MessageStats, error) {
	var stats model.MessageStats
	expr, args := filterClause(filter)

	count := func(column string, extra string, out *int) error {
		q := r.db.WithContext(ctx).Select(column).From(r.tableName())
		switch {
		case expr != "" && extra != "":
			q = q.Where(expr+" AND "+extra, args...)
		case expr != "":
			q = q.Where(expr, args...)
		case extra != "":
			q = q.Where(extra)
		}
		return q.One(out)
	}

	if err := count("COUNT(*)", "", &stats.TotalCount); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to count messages", err)
	}
	if err := count("COUNT(*)", "sender_type = 'system'", &stats.SystemCount); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to count system messages", err)
	}
	if err := count("COUNT(*)", "sender_type = 'client'", &stats.ClientCount); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to count client messages", err)
	}
	if err := count("COALESCE(SUM(ws_audience_count), 0)", "", &stats.WSAudienceTotal); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to sum ws audience", err)
	}
	if err := count("COALESCE(SUM(wh_audience_count), 0)", "", &stats.WHAudienceTotal); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to sum wh audience", err)
	}
	if err := count("COALESCE(SUM(wh_delivered_count), 0)", "", &stats.WHDeliveredTotal); err != nil {
		return stats, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to sum wh delivered", err)
	}

	return stats, nil
}

// UpdateDeliveryStats writes the three delivery counters in a single UPDATE.
// Last write wins; counters are never accumulated across calls.
func (r *MessageRepository) UpdateDeliveryStats(ctx context.Context, id string, stats model.DeliveryStats) error {
	_, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"ws_audience_count":  stats.WSAudienceCount,
			"wh_audience_count":  stats.WHAudienceCount,
			"wh_delivered_count": stats.WHDeliveredCount,
		}).
		Where("id = ?", id).
		Execute()

	if err != nil {
		return realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to update delivery stats", err)
	}

	return nil
}

// DeleteOlderThan removes messages older than the given number of days.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	var messages []model.Message
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("created_at < ?", cutoff).
		All(&messages)
	if err != nil {
		return 0, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to find outdated messages", err)
	}

	deleted := 0
	for i := range messages {
		if err := r.db.WithContext(ctx).Model(&messages[i]).Table(r.tableName()).Delete(); err != nil {
			return deleted, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to delete outdated message", err)
		}
		deleted++
	}
	return deleted, nil
}
