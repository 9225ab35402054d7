// Package pglisten provides the PostgreSQL LISTEN/NOTIFY implementation of
// the realtime ListenerConn interface.
//
// It is built on lib/pq's low-level ListenerConn rather than pq.Listener:
// the high-level listener reconnects on its own, which would fight the
// ChangeListener's explicit reconnect state machine. Here a lost connection
// simply closes the notification channel and the ChangeListener decides
// what happens next.
//
// Example usage:
//
//	listener, err := realtime.NewChangeListener(
//	    realtime.WithListenerConnect(pglisten.Connector(dsn)),
//	    realtime.WithListenerDispatcher(dispatcher),
//	    realtime.WithListenerRepositories(repos.Channel, repos.Message),
//	    realtime.WithListenerLogger(logger),
//	)
package pglisten

import (
	"context"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/coregx/realtime"
)

// Conn wraps a dedicated lib/pq listener connection. It is never drawn from
// a pool: LISTEN pins the connection for the lifetime of the subscription.
type Conn struct {
	conn *pq.ListenerConn

	mu     sync.Mutex
	closed bool

	raw chan *pq.Notification
	out chan realtime.Notification
}

// Connect opens a fresh dedicated listener connection to the database
// described by dsn (a lib/pq connection string or postgres:// URL).
func Connect(_ context.Context, dsn string) (*Conn, error) {
	raw := make(chan *pq.Notification, 32)

	pqConn, err := pq.NewListenerConn(dsn, raw)
	if err != nil {
		return nil, realtime.NewErrorWithCause(realtime.ErrCodeDatabase, "failed to open listener connection", err)
	}

	c := &Conn{
		conn: pqConn,
		raw:  raw,
		out:  make(chan realtime.Notification, 32),
	}
	go c.pump()

	return c, nil
}

// Connector returns a ConnectFunc bound to the given DSN, for wiring into
// realtime.WithListenerConnect.
func Connector(dsn string) realtime.ConnectFunc {
	return func(ctx context.Context) (realtime.ListenerConn, error) {
		return Connect(ctx, dsn)
	}
}

// pump converts lib/pq notifications into realtime notifications. lib/pq
// closes the raw channel when the connection dies, which closes out and
// signals loss to the ChangeListener.
func (c *Conn) pump() {
	defer close(c.out)
	for n := range c.raw {
		if n == nil {
			// lib/pq emits nil after connection loss on some paths
			continue
		}
		c.out <- realtime.Notification{
			Topic:   n.Channel,
			Payload: n.Extra,
		}
	}
}

// Listen subscribes the connection to a notification topic.
func (c *Conn) Listen(topic string) error {
	ok, err := c.conn.Listen(topic)
	if err != nil {
		return realtime.NewErrorWithCause(realtime.ErrCodeDatabase,
			fmt.Sprintf("LISTEN %s failed", topic), err)
	}
	if !ok {
		return realtime.NewError(realtime.ErrCodeDatabase,
			fmt.Sprintf("LISTEN %s not executed, connection busy", topic))
	}
	return nil
}

// Notifications returns the channel notifications arrive on. The channel is
// closed when the connection dies or Close is called.
func (c *Conn) Notifications() <-chan realtime.Notification {
	return c.out
}

// Close tears down the connection. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
