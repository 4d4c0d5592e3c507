package race

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler receives server events dispatched by a RoomClient's read loop.
// RoomAction is only ever delivered to the host; StateSync only to guests.
type Handler interface {
	OnRoomCreated(RoomCreated)
	OnRoomJoined(RoomJoined)
	OnRoomUpdate(RoomUpdate)
	OnRoomError(message string)
	OnRoomClosed()
	OnRoomAction(RoomAction)
	OnStateSync(Snapshot)
	OnDisconnect(err error)
}

// RoomClient speaks the room protocol over a websocket connection. Writes are
// serialized through a send channel pump; inbound events are decoded on the
// read loop and handed to the Handler.
type RoomClient struct {
	conn    *websocket.Conn
	handler Handler
	send    chan Envelope
	done    chan struct{}
	once    sync.Once
}

// Dial connects to a room server's websocket endpoint, e.g.
// ws://host:port/worldrace/ws.
func Dial(ctx context.Context, url string, handler Handler) (*RoomClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &RoomClient{
		conn:    conn,
		handler: handler,
		send:    make(chan Envelope, 8),
		done:    make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

func (c *RoomClient) CreateRoom(name, avatarID string) error {
	return c.emit(EventCreateRoom, CreateRoomRequest{Name: name, AvatarID: avatarID})
}

func (c *RoomClient) JoinRoom(code, name, avatarID string) error {
	return c.emit(EventJoinRoom, JoinRoomRequest{Code: code, Name: name, AvatarID: avatarID})
}

func (c *RoomClient) LeaveRoom() error {
	return c.emit(EventLeaveRoom, nil)
}

// SendAction forwards an intent to the room's host. RoomClient therefore
// satisfies Forwarder for guest sessions.
func (c *RoomClient) SendAction(in Intent) error {
	env, err := EncodeIntent(in)
	if err != nil {
		return err
	}
	return c.emit(EventClientAction, env)
}

// SendState broadcasts the host's authoritative snapshot.
func (c *RoomClient) SendState(snap Snapshot) error {
	return c.emit(EventHostState, snap)
}

func (c *RoomClient) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

func (c *RoomClient) emit(event string, v any) error {
	env, err := newEnvelope(event, v)
	if err != nil {
		return err
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errors.New("room client closed")
	}
}

func (c *RoomClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *RoomClient) readPump() {
	defer c.Close()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// closed on purpose, not a transport failure
			default:
				c.handler.OnDisconnect(err)
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *RoomClient) dispatch(env Envelope) {
	switch env.Event {
	case EventRoomCreated:
		var p RoomCreated
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.OnRoomCreated(p)
		}
	case EventRoomJoined:
		var p RoomJoined
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.OnRoomJoined(p)
		}
	case EventRoomUpdate:
		var p RoomUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.OnRoomUpdate(p)
		}
	case EventRoomError:
		var message string
		if json.Unmarshal(env.Data, &message) == nil {
			c.handler.OnRoomError(message)
		}
	case EventRoomClosed:
		c.handler.OnRoomClosed()
	case EventRoomAction:
		var p RoomAction
		if json.Unmarshal(env.Data, &p) == nil {
			c.handler.OnRoomAction(p)
		}
	case EventStateSync:
		var snap Snapshot
		if json.Unmarshal(env.Data, &snap) == nil {
			c.handler.OnStateSync(snap)
		}
	default:
		// ignore unknown events
	}
}
