package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/realtime/model"
	"github.com/coregx/realtime/webhook"
)

// WebhookSender delivers one event to a set of URLs concurrently and reports
// per-URL outcomes. Implemented by webhook.Sender; kept as an interface so
// tests can substitute a fake transport.
type WebhookSender interface {
	SendToAll(ctx context.Context, urls []string, event webhook.Event) []webhook.Delivery
}

// Dispatcher fans one event out to the two delivery transports and reports
// aggregate delivery counts.
//
// Two entry points share the fan-out logic:
//   - Dispatch: system-originated events arriving via change notifications.
//     Broadcasts to the WebSocket room and delivers to all configured
//     webhook URLs concurrently.
//   - Publish: client-originated messages. Permission-checked, persisted,
//     then broadcast to the WebSocket room only. Webhooks never fire for
//     client messages so end users cannot trigger arbitrary outbound HTTP.
//
// The WebSocket broadcast and the webhook fan-out for one event run
// concurrently with each other; they share no mutable state beyond the
// counters merged into the returned DeliveryStats. Once fan-out begins it
// runs to completion; there is no mid-flight cancellation.
//
// Thread safety: safe for concurrent use.
type Dispatcher struct {
	channelRepo         ChannelRepository
	messageRepo         MessageRepository
	registry            ConnectionRegistry
	webhooks            WebhookSender
	logger              Logger
	notificationService NotificationService
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher) error

// NewDispatcher creates a new Dispatcher with the provided options.
//
// Required options:
//   - WithDispatcherRepositories: channel and message repositories
//   - WithDispatcherRegistry: live connection registry
//   - WithDispatcherWebhookSender: webhook delivery transport
//   - WithDispatcherLogger: logger instance
//
// Example:
//
//	dispatcher, err := realtime.NewDispatcher(
//	    realtime.WithDispatcherRepositories(channelRepo, messageRepo),
//	    realtime.WithDispatcherRegistry(hub),
//	    realtime.WithDispatcherWebhookSender(webhook.NewSender()),
//	    realtime.WithDispatcherLogger(logger),
//	)
func NewDispatcher(opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		notificationService: &NoOpNotificationService{},
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply dispatcher option", err)
		}
	}

	// Validate required dependencies
	if d.channelRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "ChannelRepository is required (use WithDispatcherRepositories)")
	}
	if d.messageRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageRepository is required (use WithDispatcherRepositories)")
	}
	if d.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "ConnectionRegistry is required (use WithDispatcherRegistry)")
	}
	if d.webhooks == nil {
		return nil, NewError(ErrCodeConfiguration, "WebhookSender is required (use WithDispatcherWebhookSender)")
	}
	if d.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithDispatcherLogger)")
	}

	return d, nil
}

// WithDispatcherRepositories sets the required repository dependencies.
func WithDispatcherRepositories(channelRepo ChannelRepository, messageRepo MessageRepository) DispatcherOption {
	return func(d *Dispatcher) error {
		if channelRepo == nil {
			return fmt.Errorf("channelRepo cannot be nil")
		}
		if messageRepo == nil {
			return fmt.Errorf("messageRepo cannot be nil")
		}
		d.channelRepo = channelRepo
		d.messageRepo = messageRepo
		return nil
	}
}

// WithDispatcherRegistry sets the live connection registry.
func WithDispatcherRegistry(registry ConnectionRegistry) DispatcherOption {
	return func(d *Dispatcher) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		d.registry = registry
		return nil
	}
}

// WithDispatcherWebhookSender sets the webhook delivery transport.
func WithDispatcherWebhookSender(sender WebhookSender) DispatcherOption {
	return func(d *Dispatcher) error {
		if sender == nil {
			return fmt.Errorf("webhook sender cannot be nil")
		}
		d.webhooks = sender
		return nil
	}
}

// WithDispatcherLogger sets the logger instance.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		d.logger = logger
		return nil
	}
}

// WithDispatcherNotifications sets an optional operational alert service.
// Default is NoOpNotificationService.
func WithDispatcherNotifications(service NotificationService) DispatcherOption {
	return func(d *Dispatcher) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		d.notificationService = service
		return nil
	}
}

// Dispatch fans a system-originated event out to the channel's WebSocket room
// and all of its webhook URLs, returning aggregate delivery counts.
//
// The audience count is read from the registry before broadcasting: WebSocket
// delivery is fire-and-forget and unacknowledged, so members-at-broadcast-time
// is the honest number. Webhook deliveries run concurrently with the
// broadcast; a failed target is reported in the counts, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, env model.Envelope, ch model.Channel) (model.DeliveryStats, error) {
	if !ch.Enabled {
		return model.DeliveryStats{}, NewError(ErrCodeChannelDisabled, fmt.Sprintf("channel disabled: %s", ch.Name))
	}

	room := ch.Name
	stats := model.DeliveryStats{
		WSAudienceCount: d.registry.RoomSize(room),
		WHAudienceCount: len(ch.WebhookURLs),
	}

	var wg sync.WaitGroup
	if len(ch.WebhookURLs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := d.webhooks.SendToAll(ctx, ch.WebhookURLs, webhook.Event{
				MessageID: env.MessageID,
				Channel:   ch.Name,
				EventName: env.EventName,
				Payload:   env.Payload,
			})
			for _, res := range results {
				if res.Success {
					stats.WHDeliveredCount++
					continue
				}
				d.logger.Warnf("webhook delivery failed: channel=%s url=%s status=%d err=%v",
					ch.Name, res.URL, res.StatusCode, res.Err)
				if err := d.notificationService.NotifyWebhookFailure(ctx, ch, res); err != nil {
					d.logger.Warnf("failed to send webhook failure notification: %v", err)
				}
			}
		}()
	}

	d.registry.BroadcastToRoom(room, env.EventName, env.Payload)
	wg.Wait()

	d.logger.Debugf("dispatched event: channel=%s event=%s ws_audience=%d wh_delivered=%d/%d",
		ch.Name, env.EventName, stats.WSAudienceCount, stats.WHDeliveredCount, stats.WHAudienceCount)

	return stats, nil
}

// PublishRequest represents a client-originated publish.
type PublishRequest struct {
	ChannelName string          // Channel to publish on
	EventName   string          // Event identifier (e.g., "msg")
	Payload     json.RawMessage // Arbitrary JSON payload
	CallerID    string          // Caller identity, for audit logging only
	CallerRole  string          // Caller role, evaluated against channel policy
}

// Validate checks the publish request's required fields.
func (r PublishRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChannelName, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.EventName, validation.Required, validation.Length(1, 128)),
	)
}

// PublishResult represents the outcome of a successful client publish.
type PublishResult struct {
	MessageID string              // Created message ID
	Stats     model.DeliveryStats // Counters as written to the message row
}

// Publish handles a client-originated message: permission check, message
// insert, WebSocket-only broadcast, then the counter write-back.
//
// A permission denial returns an UNAUTHORIZED error value without persisting
// or delivering anything; use IsUnauthorized to distinguish it from faults.
// WHAudienceCount and WHDeliveredCount are always zero for client messages,
// even on channels with webhook URLs configured.
func (d *Dispatcher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid publish request", err)
	}

	ch, err := d.channelRepo.GetByName(ctx, req.ChannelName)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", req.ChannelName), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	if !ch.CanSend(req.CallerRole) {
		return nil, NewError(ErrCodeUnauthorized, fmt.Sprintf("caller may not send on channel: %s", req.ChannelName))
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	msg := model.NewMessage(ch.ID, ch.Name, req.EventName, string(payload), model.SenderClient)
	msg, err = d.messageRepo.Create(ctx, msg)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save message", err)
	}

	stats := model.DeliveryStats{WSAudienceCount: d.registry.RoomSize(ch.Name)}
	d.registry.BroadcastToRoom(ch.Name, req.EventName, payload)

	if err := d.messageRepo.UpdateDeliveryStats(ctx, msg.ID, stats); err != nil {
		d.logger.Errorf("failed to record delivery stats for message %s: %v", msg.ID, err)
	}

	d.logger.Infof("client message published: channel=%s event=%s caller=%s message=%s ws_audience=%d",
		ch.Name, req.EventName, req.CallerID, msg.ID, stats.WSAudienceCount)

	return &PublishResult{MessageID: msg.ID, Stats: stats}, nil
}
