package realtime

import (
	"context"

	"github.com/coregx/realtime/model"
	"github.com/coregx/realtime/webhook"
)

// NotificationService defines an optional interface for operational alerts
// about delivery-system events (listener exhaustion, webhook failures).
//
// Implementations might send emails, Slack messages, or page an on-call
// rotation. The default is a no-op.
type NotificationService interface {
	// NotifyListenerDown is called when the change listener has exhausted its
	// reconnect attempts and will stay down until re-initialized externally.
	NotifyListenerDown(ctx context.Context, attempts int) error

	// NotifyWebhookFailure is called for each webhook target that failed
	// during a dispatch. Informational; the delivery is not retried.
	NotifyWebhookFailure(ctx context.Context, channel model.Channel, delivery webhook.Delivery) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when operational alerts are not needed.
type NoOpNotificationService struct{}

// NotifyListenerDown does nothing.
func (n *NoOpNotificationService) NotifyListenerDown(_ context.Context, _ int) error {
	return nil
}

// NotifyWebhookFailure does nothing.
func (n *NoOpNotificationService) NotifyWebhookFailure(_ context.Context, _ model.Channel, _ webhook.Delivery) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs alerts.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyListenerDown logs the terminal listener condition.
func (n *LoggingNotificationService) NotifyListenerDown(_ context.Context, attempts int) error {
	n.logger.Errorf("change listener down after %d reconnect attempts; external re-initialization required", attempts)
	return nil
}

// NotifyWebhookFailure logs a failed webhook target.
func (n *LoggingNotificationService) NotifyWebhookFailure(_ context.Context, channel model.Channel, delivery webhook.Delivery) error {
	n.logger.Warnf("webhook delivery failed: channel=%s url=%s status=%d err=%v",
		channel.Name, delivery.URL, delivery.StatusCode, delivery.Err)
	return nil
}
