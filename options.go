package realtime

import (
	"fmt"

	"github.com/coregx/realtime/backoff"
)

// ListenerOption is a function that configures a ChangeListener.
// Used with the Options Pattern for flexible service construction.
//
// Example:
//
//	listener, err := realtime.NewChangeListener(
//	    realtime.WithListenerConnect(pglisten.Connector(dsn)),
//	    realtime.WithListenerDispatcher(dispatcher),
//	    realtime.WithListenerRepositories(channelRepo, messageRepo),
//	    realtime.WithListenerLogger(logger),
//	)
type ListenerOption func(*ChangeListener) error

// WithListenerConnect sets the dedicated connection factory.
// The factory must return a fresh, non-pooled connection on every call.
//
// This is a required option for NewChangeListener.
func WithListenerConnect(connect ConnectFunc) ListenerOption {
	return func(l *ChangeListener) error {
		if connect == nil {
			return fmt.Errorf("connect cannot be nil")
		}
		l.connect = connect
		return nil
	}
}

// WithListenerDispatcher sets the event dispatcher invoked for every
// successfully parsed notification.
//
// This is a required option for NewChangeListener.
func WithListenerDispatcher(dispatcher *Dispatcher) ListenerOption {
	return func(l *ChangeListener) error {
		if dispatcher == nil {
			return fmt.Errorf("dispatcher cannot be nil")
		}
		l.dispatcher = dispatcher
		return nil
	}
}

// WithListenerRepositories sets the repository dependencies used for channel
// lookup and the delivery-stats write-back.
//
// This is a required option for NewChangeListener.
func WithListenerRepositories(channelRepo ChannelRepository, messageRepo MessageRepository) ListenerOption {
	return func(l *ChangeListener) error {
		if channelRepo == nil {
			return fmt.Errorf("channelRepo cannot be nil")
		}
		if messageRepo == nil {
			return fmt.Errorf("messageRepo cannot be nil")
		}
		l.channelRepo = channelRepo
		l.messageRepo = messageRepo
		return nil
	}
}

// WithListenerLogger sets the logger instance.
//
// This is a required option for NewChangeListener.
func WithListenerLogger(logger Logger) ListenerOption {
	return func(l *ChangeListener) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		l.logger = logger
		return nil
	}
}

// WithListenerTopic sets the notification topic to subscribe to.
// This is an optional configuration - default is DefaultTopic.
// The topic must match the one the storage engine's trigger notifies on.
func WithListenerTopic(topic string) ListenerOption {
	return func(l *ChangeListener) error {
		if topic == "" {
			return fmt.Errorf("topic cannot be empty")
		}
		l.topic = topic
		return nil
	}
}

// WithListenerBackoff sets a custom reconnect strategy.
// This is an optional configuration - default is backoff.DefaultStrategy().
//
// Use this option to customize the base delay, the exponential multiplier,
// the delay cap, and the attempt budget.
func WithListenerBackoff(strategy backoff.Strategy) ListenerOption {
	return func(l *ChangeListener) error {
		if strategy.MaxAttempts <= 0 {
			return fmt.Errorf("backoff MaxAttempts must be > 0, got %d", strategy.MaxAttempts)
		}
		if strategy.BaseDelay <= 0 {
			return fmt.Errorf("backoff BaseDelay must be > 0, got %v", strategy.BaseDelay)
		}
		l.strategy = strategy
		return nil
	}
}

// WithListenerNotifications sets an optional operational alert service.
// This is an optional configuration - default is NoOpNotificationService.
//
// The service is called when the listener exhausts its reconnect budget,
// which requires external intervention to recover from.
func WithListenerNotifications(service NotificationService) ListenerOption {
	return func(l *ChangeListener) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		l.notificationService = service
		return nil
	}
}
