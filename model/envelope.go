package model

import (
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Envelope is the structured event carried by a storage-engine change
// notification. The source inserts the message row first and notifies after,
// so MessageID always refers to an existing row by the time an envelope is
// handled.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	EventName   string          `json:"event_name"`
	Payload     json.RawMessage `json:"payload"`
}

// Validate checks the envelope's required fields.
func (e Envelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MessageID, validation.Required),
		validation.Field(&e.ChannelID, validation.Required),
		validation.Field(&e.ChannelName, validation.Required),
		validation.Field(&e.EventName, validation.Required),
	)
}

// ParseEnvelope decodes and validates a raw notification payload.
// The payload field is kept as raw JSON and never reinterpreted.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
