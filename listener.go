package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/realtime/backoff"
	"github.com/coregx/realtime/model"
)

// DefaultTopic is the notification topic the storage engine's trigger
// publishes change envelopes on.
const DefaultTopic = "realtime_events"

// Notification is one raw change notification received from the storage engine.
type Notification struct {
	Topic   string // Topic the notification arrived on
	Payload string // Raw envelope JSON
}

// ListenerConn is a dedicated subscription connection to the storage engine.
// It must not be drawn from a shared pool: the subscription holds the
// connection open indefinitely and would otherwise starve request-serving
// queries.
//
// Implementations close the Notifications channel when the connection is
// lost or closed; that is the only loss signal the listener relies on.
type ListenerConn interface {
	// Listen subscribes the connection to a notification topic.
	Listen(topic string) error

	// Notifications returns the channel notifications arrive on. The channel
	// is closed when the connection dies or Close is called.
	Notifications() <-chan Notification

	// Close tears down the connection. Idempotent.
	Close() error
}

// ConnectFunc opens a fresh dedicated ListenerConn. Called on every
// (re)connect attempt so each attempt gets a clean connection.
type ConnectFunc func(ctx context.Context) (ListenerConn, error)

// ListenerState is the connection lifecycle state of the change listener.
type ListenerState string

const (
	// StateDisconnected means no live subscription; a reconnect may be pending.
	StateDisconnected ListenerState = "disconnected"

	// StateConnecting means a connection attempt is in flight.
	StateConnecting ListenerState = "connecting"

	// StateListening means the subscription is live and notifications flow.
	StateListening ListenerState = "listening"

	// StateClosed is terminal: Close was called and no auto-reconnect happens.
	StateClosed ListenerState = "closed"
)

// ChangeListener holds the single live subscription to the storage engine's
// change-notification topic and turns each notification into a dispatch.
//
// Lifecycle: Disconnected → Connecting → Listening → Disconnected (on error
// or clean end), with Closed as a distinct terminal state entered only via
// Close. From Disconnected, reconnects are scheduled with exponential
// backoff; at most one reconnect timer is pending at a time, and a successful
// reconnect resets the attempt counter. When the attempt budget is exhausted
// the listener logs the terminal condition and stays Disconnected until
// Initialize is called externally. It does not keep retrying at the maximum
// interval, so a supervisor gets an unambiguous signal instead of an
// endlessly flapping connection.
//
// Notifications are processed one at a time per connection; a malformed
// payload or a failed dispatch never stops the loop.
//
// Thread safety: safe for concurrent use. Construct one instance per process
// and own it from the application's startup/shutdown sequence.
type ChangeListener struct {
	mu       sync.Mutex
	state    ListenerState
	conn     ListenerConn
	attempts int
	timer    *time.Timer

	connect             ConnectFunc
	topic               string
	strategy            backoff.Strategy
	dispatcher          *Dispatcher
	channelRepo         ChannelRepository
	messageRepo         MessageRepository
	logger              Logger
	notificationService NotificationService
}

// NewChangeListener creates a new ChangeListener with the provided options.
//
// Required options:
//   - WithListenerConnect: dedicated connection factory
//   - WithListenerDispatcher: event dispatcher
//   - WithListenerRepositories: channel and message repositories
//   - WithListenerLogger: logger instance
//
// Optional options:
//   - WithListenerTopic: notification topic (default: DefaultTopic)
//   - WithListenerBackoff: reconnect strategy (default: backoff.DefaultStrategy())
//   - WithListenerNotifications: operational alert service
//
// The listener starts Disconnected; call Initialize to begin listening.
func NewChangeListener(opts ...ListenerOption) (*ChangeListener, error) {
	l := &ChangeListener{
		state:               StateDisconnected,
		topic:               DefaultTopic,
		strategy:            backoff.DefaultStrategy(),
		notificationService: &NoOpNotificationService{},
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply listener option", err)
		}
	}

	// Validate required dependencies
	if l.connect == nil {
		return nil, NewError(ErrCodeConfiguration, "ConnectFunc is required (use WithListenerConnect)")
	}
	if l.dispatcher == nil {
		return nil, NewError(ErrCodeConfiguration, "Dispatcher is required (use WithListenerDispatcher)")
	}
	if l.channelRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "ChannelRepository is required (use WithListenerRepositories)")
	}
	if l.messageRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageRepository is required (use WithListenerRepositories)")
	}
	if l.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithListenerLogger)")
	}

	return l, nil
}

// Initialize opens the dedicated connection and subscribes to the topic.
// It is the external entry point that also revives a listener whose reconnect
// budget was exhausted: the attempt counter is reset before connecting.
// Calling Initialize while already listening or connecting is a no-op.
//
// A failed attempt schedules an automatic reconnect and returns the error.
func (l *ChangeListener) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateListening || l.state == StateConnecting {
		return nil
	}

	l.stopTimerLocked()
	l.attempts = 0
	return l.connectLocked(ctx)
}

// connectLocked performs one connection attempt. Caller holds l.mu.
func (l *ChangeListener) connectLocked(ctx context.Context) error {
	l.state = StateConnecting

	conn, err := l.connect(ctx)
	if err != nil {
		l.state = StateDisconnected
		l.logger.Errorf("failed to open listen connection: %v", err)
		l.scheduleReconnectLocked()
		return NewErrorWithCause(ErrCodeDatabase, "failed to open listen connection", err)
	}

	if err := conn.Listen(l.topic); err != nil {
		_ = conn.Close()
		l.state = StateDisconnected
		l.logger.Errorf("failed to subscribe to topic %s: %v", l.topic, err)
		l.scheduleReconnectLocked()
		return NewErrorWithCause(ErrCodeDatabase, "failed to subscribe to notification topic", err)
	}

	l.conn = conn
	l.state = StateListening
	l.attempts = 0
	l.logger.Infof("change listener subscribed: topic=%s", l.topic)

	go l.readLoop(conn)
	return nil
}

// readLoop drains one connection's notifications until its channel closes.
// Runs outside the lock; one loop per live connection.
func (l *ChangeListener) readLoop(conn ListenerConn) {
	for n := range conn.Notifications() {
		l.handleNotification(context.Background(), n)
	}

	// Channel closed: the connection died or was closed.
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed || l.conn != conn {
		return
	}

	l.conn = nil
	l.state = StateDisconnected
	l.logger.Warnf("change listener connection lost: topic=%s", l.topic)
	l.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. Caller holds l.mu.
// Scheduling is idempotent: a pending timer is never replaced or duplicated.
func (l *ChangeListener) scheduleReconnectLocked() {
	if l.timer != nil {
		return
	}

	if l.strategy.Exhausted(l.attempts) {
		l.logger.Errorf("change listener exhausted %d reconnect attempts; staying disconnected until re-initialized", l.attempts)
		if err := l.notificationService.NotifyListenerDown(context.Background(), l.attempts); err != nil {
			l.logger.Warnf("failed to send listener-down notification: %v", err)
		}
		return
	}

	delay := l.strategy.Delay(l.attempts)
	l.attempts++
	l.logger.Warnf("scheduling listener reconnect in %v (attempt %d/%d)", delay, l.attempts, l.strategy.MaxAttempts)

	l.timer = time.AfterFunc(delay, l.retryConnect)
}

// retryConnect is the reconnect timer callback.
func (l *ChangeListener) retryConnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timer = nil
	if l.state == StateClosed || l.state == StateListening {
		return
	}

	// A failed attempt schedules the next one itself.
	_ = l.connectLocked(context.Background())
}

// handleNotification parses one notification envelope and drives the full
// dispatch path: channel lookup, fan-out, then the counter write-back onto
// the message row the source inserted before notifying.
func (l *ChangeListener) handleNotification(ctx context.Context, n Notification) {
	env, err := model.ParseEnvelope([]byte(n.Payload))
	if err != nil {
		// Dropped, not retried: the source transmitted it exactly once and a
		// retry would need re-emission from the source.
		l.logger.Errorf("dropping notification: %v",
			NewErrorWithCause(ErrCodeMalformedEvent, "unparseable notification payload", err))
		return
	}

	ch, err := l.channelRepo.Load(ctx, env.ChannelID)
	if err != nil {
		if IsNoData(err) {
			l.logger.Debugf("dropping event for unknown channel: id=%s name=%s event=%s",
				env.ChannelID, env.ChannelName, env.EventName)
			return
		}
		l.logger.Errorf("failed to load channel %s: %v", env.ChannelID, err)
		return
	}

	if !ch.Enabled {
		l.logger.Debugf("dropping event for disabled channel: %s event=%s", ch.Name, env.EventName)
		return
	}

	stats, err := l.dispatcher.Dispatch(ctx, env, ch)
	if err != nil {
		l.logger.Errorf("dispatch failed for message %s: %v", env.MessageID, err)
		return
	}

	if err := l.messageRepo.UpdateDeliveryStats(ctx, env.MessageID, stats); err != nil {
		l.logger.Errorf("failed to record delivery stats for message %s: %v", env.MessageID, err)
	}
}

// Close cancels any pending reconnect, closes the connection, and moves the
// listener to the terminal Closed state. Unlike Disconnected, Closed never
// auto-reconnects; a closed listener can still be revived with Initialize.
func (l *ChangeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopTimerLocked()
	l.state = StateClosed

	if l.conn != nil {
		err := l.conn.Close()
		l.conn = nil
		return err
	}
	return nil
}

// stopTimerLocked cancels a pending reconnect timer. Caller holds l.mu.
func (l *ChangeListener) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// IsHealthy reports whether the subscription is live.
func (l *ChangeListener) IsHealthy() bool {
	return l.State() == StateListening
}

// State returns the current lifecycle state.
func (l *ChangeListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
