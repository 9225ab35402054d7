package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coregx/realtime/model"
)

// MessageService provides read access to the persisted event history and
// the write path for system-originated events.
//
// System events are inserted through RecordSystemEvent; the database emits
// the corresponding change notification, which the ChangeListener picks up
// and dispatches. The service never dispatches directly, so a system event
// is delivered exactly once even when several server instances share the
// database.
type MessageService struct {
	messageRepo MessageRepository
	channelRepo ChannelRepository
	logger      Logger
}

// MessageServiceOption is a function that configures a MessageService.
type MessageServiceOption func(*MessageService) error

// NewMessageService creates a new MessageService with the provided options.
//
// Required options:
//   - WithMessageRepositories: message and channel repositories
//   - WithMessageServiceLogger: logger instance
func NewMessageService(opts ...MessageServiceOption) (*MessageService, error) {
	s := &MessageService{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply message service option", err)
		}
	}

	// Validate required dependencies
	if s.messageRepo == nil || s.channelRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "repositories are required (use WithMessageRepositories)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithMessageServiceLogger)")
	}

	return s, nil
}

// WithMessageRepositories sets the required repositories.
func WithMessageRepositories(messageRepo MessageRepository, channelRepo ChannelRepository) MessageServiceOption {
	return func(s *MessageService) error {
		if messageRepo == nil {
			return fmt.Errorf("messageRepo cannot be nil")
		}
		if channelRepo == nil {
			return fmt.Errorf("channelRepo cannot be nil")
		}
		s.messageRepo = messageRepo
		s.channelRepo = channelRepo
		return nil
	}
}

// WithMessageServiceLogger sets the logger instance.
func WithMessageServiceLogger(logger Logger) MessageServiceOption {
	return func(s *MessageService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// List returns persisted messages matching the filter, newest first.
// Returns an empty slice if nothing matches (not an error).
func (s *MessageService) List(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	messages, err := s.messageRepo.List(ctx, filter)
	if err != nil {
		if IsNoData(err) {
			return []model.Message{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list messages", err)
	}
	return messages, nil
}

// Get retrieves a single message by ID.
func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	if id == "" {
		return nil, NewError(ErrCodeValidation, "message ID is required")
	}

	msg, err := s.messageRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("message not found: %s", id), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load message", err)
	}

	return &msg, nil
}

// Stats returns aggregate counts over messages matching the filter.
func (s *MessageService) Stats(ctx context.Context, filter MessageFilter) (model.MessageStats, error) {
	stats, err := s.messageRepo.Stats(ctx, filter)
	if err != nil {
		return model.MessageStats{}, NewErrorWithCause(ErrCodeDatabase, "failed to compute message stats", err)
	}
	return stats, nil
}

// RecordSystemEvent persists a system-originated event on the named channel.
// Delivery happens asynchronously: the insert fires the database change
// notification, and whichever listener holds the notification connection
// fans the event out.
//
// The channel must exist; a disabled channel still accepts events (they are
// persisted for history but dropped at dispatch time).
func (s *MessageService) RecordSystemEvent(ctx context.Context, channelName, eventName string, payload json.RawMessage) (*model.Message, error) {
	if channelName == "" {
		return nil, NewError(ErrCodeValidation, "channel name is required")
	}
	if eventName == "" {
		return nil, NewError(ErrCodeValidation, "event name is required")
	}

	ch, err := s.channelRepo.GetByName(ctx, channelName)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", channelName), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	msg := model.NewMessage(ch.ID, ch.Name, eventName, string(payload), model.SenderSystem)
	msg, err = s.messageRepo.Create(ctx, msg)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save message", err)
	}

	s.logger.Debugf("system event recorded: id=%s channel=%s event=%s", msg.ID, ch.Name, eventName)

	return &msg, nil
}

// UpdateDeliveryStats records the audience and delivery counters observed
// for a dispatched message. Last write wins.
func (s *MessageService) UpdateDeliveryStats(ctx context.Context, messageID string, stats model.DeliveryStats) error {
	if messageID == "" {
		return NewError(ErrCodeValidation, "message ID is required")
	}
	if err := s.messageRepo.UpdateDeliveryStats(ctx, messageID, stats); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to update delivery stats", err)
	}
	return nil
}

// Cleanup deletes messages older than the given number of days and returns
// the number of rows removed.
func (s *MessageService) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, NewError(ErrCodeValidation, "days must be positive")
	}

	n, err := s.messageRepo.DeleteOlderThan(ctx, days)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to delete old messages", err)
	}

	if n > 0 {
		s.logger.Infof("message cleanup: removed=%d days=%d", n, days)
	}
	return n, nil
}
