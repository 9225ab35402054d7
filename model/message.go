package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SenderType identifies the origin of a message.
type SenderType string

const (
	// SenderSystem marks events emitted by the storage engine's change notifications.
	SenderSystem SenderType = "system"

	// SenderClient marks events published explicitly by an end user.
	SenderClient SenderType = "client"
)

// Message represents one delivered (or attempted) event on a channel.
//
// A message is immutable once created except for its three delivery counters,
// which the dispatch path that produced the message writes exactly once.
// ChannelName is a snapshot, not a live reference, so historical events stay
// legible after a channel is removed.
type Message struct {
	ID               string         `json:"id" db:"id"`
	ChannelID        sql.NullString `json:"channelID" db:"channel_id"`      // Null once the channel is gone
	ChannelName      string         `json:"channelName" db:"channel_name"`  // Snapshot of the name at emit time
	EventName        string         `json:"eventName" db:"event_name"`
	Payload          string         `json:"payload" db:"payload"`           // JSON text, passed through unreinterpreted
	SenderType       SenderType     `json:"senderType" db:"sender_type"`
	WSAudienceCount  int            `json:"wsAudienceCount" db:"ws_audience_count"`
	WHAudienceCount  int            `json:"whAudienceCount" db:"wh_audience_count"`
	WHDeliveredCount int            `json:"whDeliveredCount" db:"wh_delivered_count"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Message.
func (m Message) TableName() string {
	return tablePrefix + "message"
}

// NewMessage creates a new message with zeroed delivery counters.
//
// Parameters:
//   - channelID: ID of the channel the event occurred on
//   - channelName: Name snapshot embedded into the record
//   - eventName: Event identifier (e.g., "order.created")
//   - payload: JSON-encoded event payload
//   - sender: SenderSystem or SenderClient
func NewMessage(channelID, channelName, eventName, payload string, sender SenderType) Message {
	return Message{
		ID:          uuid.NewString(),
		ChannelID:   sql.NullString{String: channelID, Valid: channelID != ""},
		ChannelName: channelName,
		EventName:   eventName,
		Payload:     payload,
		SenderType:  sender,
		CreatedAt:   time.Now(),
	}
}

// ApplyDeliveryStats folds a dispatch result into the message counters.
func (m *Message) ApplyDeliveryStats(stats DeliveryStats) {
	m.WSAudienceCount = stats.WSAudienceCount
	m.WHAudienceCount = stats.WHAudienceCount
	m.WHDeliveredCount = stats.WHDeliveredCount
}

// DeliveryStats aggregates the outcome of one dispatch attempt.
// It is transient; the dispatcher folds it into the Message record.
type DeliveryStats struct {
	WSAudienceCount  int `json:"wsAudienceCount"`  // Room members at broadcast time, not confirmed receipts
	WHAudienceCount  int `json:"whAudienceCount"`  // Webhook URLs attempted
	WHDeliveredCount int `json:"whDeliveredCount"` // Webhook URLs answering 2xx within the timeout
}

// MessageStats aggregates persisted messages for operational tooling.
type MessageStats struct {
	TotalCount       int `json:"totalCount"`
	SystemCount      int `json:"systemCount"`
	ClientCount      int `json:"clientCount"`
	WSAudienceTotal  int `json:"wsAudienceTotal"`
	WHAudienceTotal  int `json:"whAudienceTotal"`
	WHDeliveredTotal int `json:"whDeliveredTotal"`
}
