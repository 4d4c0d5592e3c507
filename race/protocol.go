package race

import "encoding/json"

// Wire protocol for the realtime room server. Event names and payload field
// names match the original socket.io protocol, so existing web clients can
// speak to this server unchanged.

// Client → server events.
const (
	EventCreateRoom   = "createRoom"
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventClientAction = "client:action"
	EventHostState    = "host:state"
)

// Server → client events.
const (
	EventRoomCreated = "room:created"
	EventRoomJoined  = "room:joined"
	EventRoomUpdate  = "room:update"
	EventRoomError   = "room:error"
	EventRoomClosed  = "room:closed"
	EventRoomAction  = "room:action"
	EventStateSync   = "state:sync"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, v any) (Envelope, error) {
	env := Envelope{Event: event}
	if v == nil {
		return env, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

// RoomPlayer is a room membership record. ID is the transport-level identity
// of a live connection, not a stable player identity across reconnects.
type RoomPlayer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AvatarID string `json:"avatarId,omitempty"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	AvatarID string `json:"avatarId,omitempty"`
}

type JoinRoomRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	AvatarID string `json:"avatarId,omitempty"`
}

// RoomCreated acknowledges a createRoom request to the new host.
type RoomCreated struct {
	Code   string     `json:"code"`
	Player RoomPlayer `json:"player"`
}

// RoomJoined acknowledges a joinRoom request to the new guest.
type RoomJoined struct {
	Code   string     `json:"code"`
	Player RoomPlayer `json:"player"`
}

// RoomUpdate carries the full membership list, host first.
type RoomUpdate struct {
	Code    string       `json:"code"`
	Players []RoomPlayer `json:"players"`
}

// ActionEnvelope is the {type, payload} shape carried inside client:action.
type ActionEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomAction is a relayed guest intent, delivered to the room's host only.
type RoomAction struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}
