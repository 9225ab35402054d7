// Package hub provides the WebSocket room registry for the realtime server.
// It implements realtime.ConnectionRegistry on top of gorilla/websocket.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coregx/realtime"
	"github.com/coregx/realtime/model"
)

// Tunable timing constants (aligned with gorilla/websocket chat example pattern)
const (
	pongWait   = 75 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	readLimit   = 4 * 1024 // Subscribe-only sockets; inbound frames are control traffic
	sendBufSize = 32
)

// frame is the JSON shape pushed to subscribed clients.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	id   string
	room string
	conn *websocket.Conn
	send chan frame
}

// Hub tracks room membership and fans broadcast frames out to per-client
// buffered channels. Slow clients drop frames rather than block the
// dispatch path.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*client
	logger realtime.Logger
}

// New creates an empty hub.
func New(logger realtime.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*client),
		logger: logger,
	}
}

// BroadcastToRoom sends an event to every connection currently subscribed to
// the room. Never blocks on slow consumers.
func (h *Hub) BroadcastToRoom(room, eventName string, payload json.RawMessage) {
	f := frame{Event: eventName, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		select {
		case c.send <- f:
		default:
			// Drop frame for this client to avoid backpressure
			h.logger.Warnf("ws client %s in room %s too slow, frame dropped", c.id, room)
		}
	}
}

// RoomSize returns the number of connections currently subscribed to the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.room] == nil {
		h.rooms[c.room] = make(map[string]*client)
	}
	h.rooms[c.room][c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[c.room]; ok {
		if _, ok := members[c.id]; ok {
			delete(members, c.id)
			close(c.send)
			if len(members) == 0 {
				delete(h.rooms, c.room)
			}
		}
	}
}

// CloseAll disconnects every client. Called on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		for id, c := range members {
			close(c.send)
			_ = c.conn.Close()
			delete(members, id)
		}
		delete(h.rooms, room)
	}
}

// Handler upgrades HTTP requests to WebSocket subscriptions. The room is the
// channel name taken from the URL path; join permission is checked against
// the channel policy before the upgrade.
type Handler struct {
	Hub      *Hub
	Channels *realtime.ChannelService
	Logger   realtime.Logger
	Upgrader websocket.Upgrader
}

// ServeHTTP handles GET /realtime/{channel}.
//
// The caller role is taken from the X-Caller-Role header; session handling
// belongs to whatever fronts this server.
func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelName := r.PathValue("channel")
	if channelName == "" {
		http.Error(w, "channel name required", http.StatusBadRequest)
		return
	}

	role := r.Header.Get("X-Caller-Role")
	if role == "" {
		role = model.RoleAuthenticated
	}

	allowed, err := s.Channels.CheckPermission(r.Context(), channelName, model.CapabilityJoin, role)
	if err != nil {
		if realtime.IsNoData(err) {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		s.Logger.Errorf("join permission check failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "join denied", http.StatusForbidden)
		return
	}

	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warnf("ws upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		room: channelName,
		conn: conn,
		send: make(chan frame, sendBufSize),
	}
	s.Hub.register(c)
	s.Logger.Debugf("ws client %s joined room %s", c.id, c.room)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump pushes frames and pings to one client.
func (s *Handler) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection to process pongs and detect closure.
// Subscriptions are receive-only; inbound data frames are discarded.
func (s *Handler) readPump(c *client) {
	defer func() {
		s.Hub.unregister(c)
		_ = c.conn.Close()
		s.Logger.Debugf("ws client %s left room %s", c.id, c.room)
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
