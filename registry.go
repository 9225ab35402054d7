package realtime

import "encoding/json"

// ConnectionRegistry is the narrow contract the dispatcher has on the live
// WebSocket connection layer. The registry owns room membership; this library
// only reads room sizes and asks for broadcasts, treating the registry as a
// capability rather than an owned resource.
//
// Broadcast is fire-and-forget: WebSocket peers never acknowledge receipt,
// so the audience count is read before broadcasting.
type ConnectionRegistry interface {
	// BroadcastToRoom sends an event to every connection currently subscribed
	// to the room. Must not block on slow consumers.
	BroadcastToRoom(room, eventName string, payload json.RawMessage)

	// RoomSize returns the number of connections currently subscribed to the room.
	RoomSize(room string) int
}
