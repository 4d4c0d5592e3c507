// Race Around The World realtime relay
//
// Two players race between world locations, answering trivia at each stop.
// The server never simulates the game: the first member of a room (the host)
// runs the authoritative session on its own client, and the server only
// manages room membership and relays messages between the two peers.
//
// Protocol, per connection:
// - createRoom {name} → caller becomes host of a fresh 5-char room code
// - joinRoom {code, name} → caller becomes guest; at most 2 players per room
// - client:action {type, payload} → forwarded verbatim to the room's host
// - host:state GameSnapshot → forwarded to every other member, host-only
// - leaveRoom / disconnect → guest departure keeps the room open; host
//   departure closes the room and evicts everyone
//
// All room mutations run on a single event-loop goroutine, so no per-room
// locking is needed.

package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/worldrace/race"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan race.Envelope
}

type connEvent struct {
	client *client
	env    race.Envelope
}

// RoomManager owns the registry and all live connections. Every mutating
// operation funnels through run's select loop and executes to completion
// before the next is handled.
type RoomManager struct {
	registry *Registry
	clients  map[string]*client

	register chan *client
	unreg    chan *client
	events   chan connEvent
}

func newRoomManager() *RoomManager {
	return &RoomManager{
		registry: newRegistry(),
		clients:  make(map[string]*client),
		register: make(chan *client),
		unreg:    make(chan *client),
		events:   make(chan connEvent),
	}
}

func (rm *RoomManager) run(ctx context.Context, cfg *Config) {
	for {
		select {
		case <-ctx.Done():
			for _, c := range rm.clients {
				close(c.send)
				_ = c.conn.Close()
			}
			rm.clients = make(map[string]*client)
			return

		case c := <-rm.register:
			rm.clients[c.id] = c

		case c := <-rm.unreg:
			if _, ok := rm.clients[c.id]; ok {
				rm.removeFromRoom(cfg, c)
				delete(rm.clients, c.id)
				close(c.send)
			}

		case ev := <-rm.events:
			rm.handleEvent(cfg, ev)
		}
	}
}

func (rm *RoomManager) handleEvent(cfg *Config, ev connEvent) {
	switch ev.env.Event {
	case race.EventCreateRoom:
		rm.createRoom(cfg, ev.client, ev.env.Data)
	case race.EventJoinRoom:
		rm.joinRoom(cfg, ev.client, ev.env.Data)
	case race.EventLeaveRoom:
		logf(cfg, "ROOMS: %s requested to leave their room", ev.client.id)
		rm.removeFromRoom(cfg, ev.client)
	case race.EventClientAction:
		rm.relayAction(cfg, ev.client, ev.env.Data)
	case race.EventHostState:
		rm.relayState(cfg, ev.client, ev.env.Data)
	}
}

// push queues an outbound envelope. A client whose buffer is full can't keep
// up; closing its socket lets the read pump unregister it cleanly.
func (rm *RoomManager) push(c *client, env race.Envelope) {
	select {
	case c.send <- env:
	default:
		_ = c.conn.Close()
	}
}

func (rm *RoomManager) emit(c *client, event string, v any) {
	env := race.Envelope{Event: event}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		env.Data = data
	}
	rm.push(c, env)
}

func (rm *RoomManager) sendError(c *client, message string) {
	rm.emit(c, race.EventRoomError, message)
}

func (rm *RoomManager) createRoom(cfg *Config, c *client, data json.RawMessage) {
	var req race.CreateRoomRequest
	_ = json.Unmarshal(data, &req)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		rm.sendError(c, "Please provide a display name.")
		logf(cfg, "ROOMS: %s attempted to create a room without a valid name", c.id)
		return
	}

	// A caller already in a room moves out of it first.
	if _, ok := rm.registry.RoomOf(c.id); ok {
		rm.removeFromRoom(cfg, c)
	}

	now := time.Now()
	code := rm.registry.NewCode()
	player := race.RoomPlayer{
		ID:       c.id,
		Name:     name,
		AvatarID: req.AvatarID,
		Role:     race.RoleHost,
		JoinedAt: now.UnixMilli(),
	}
	room := &Room{
		Code:      code,
		HostID:    c.id,
		Players:   map[string]race.RoomPlayer{c.id: player},
		CreatedAt: now,
	}

	rm.registry.Put(room)
	rm.registry.Link(c.id, code)

	rm.emit(c, race.EventRoomCreated, race.RoomCreated{Code: code, Player: player})
	rm.emit(c, race.EventRoomUpdate, race.RoomUpdate{Code: code, Players: room.playerList()})

	logf(cfg, "ROOMS: %s created room %s as %q", c.id, code, name)
	rm.logRooms(cfg)
}

func (rm *RoomManager) joinRoom(cfg *Config, c *client, data json.RawMessage) {
	var req race.JoinRoomRequest
	_ = json.Unmarshal(data, &req)

	code := normalizeCode(req.Code)
	room, ok := rm.registry.Get(code)
	if code == "" || !ok {
		rm.sendError(c, "Room not found. Double-check the code.")
		logf(cfg, "ROOMS: %s failed to join room %q: not found", c.id, code)
		return
	}

	if len(room.Players) >= maxPlayers {
		rm.sendError(c, "This room is already full.")
		logf(cfg, "ROOMS: %s tried to join room %s: room full", c.id, code)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		rm.sendError(c, "Please provide a display name.")
		logf(cfg, "ROOMS: %s attempted to join room %s without a valid name", c.id, code)
		return
	}

	player := race.RoomPlayer{
		ID:       c.id,
		Name:     name,
		AvatarID: req.AvatarID,
		Role:     race.RoleGuest,
		JoinedAt: time.Now().UnixMilli(),
	}
	room.Players[c.id] = player
	rm.registry.Link(c.id, code)

	rm.emit(c, race.EventRoomJoined, race.RoomJoined{Code: code, Player: player})
	rm.broadcastUpdate(room)

	logf(cfg, "ROOMS: %s joined room %s as %q", c.id, code, name)
	rm.logRooms(cfg)
}

// removeFromRoom handles explicit leaves and transport disconnects
// identically. Host departure tears the whole room down; there is no host
// migration.
func (rm *RoomManager) removeFromRoom(cfg *Config, c *client) {
	room, ok := rm.registry.RoomOf(c.id)
	if !ok {
		return
	}

	delete(room.Players, c.id)
	rm.registry.Unlink(c.id)

	if room.HostID == c.id {
		for id := range room.Players {
			if member, ok := rm.clients[id]; ok {
				rm.emit(member, race.EventRoomClosed, nil)
			}
			rm.registry.Unlink(id)
			delete(room.Players, id)
		}
		rm.registry.Remove(room.Code)
		logf(cfg, "ROOMS: host %s closed room %s", c.id, room.Code)
		rm.logRooms(cfg)
		return
	}

	rm.broadcastUpdate(room)
	logf(cfg, "ROOMS: %s left room %s", c.id, room.Code)
	rm.logRooms(cfg)
}

func (rm *RoomManager) broadcastUpdate(room *Room) {
	update := race.RoomUpdate{Code: room.Code, Players: room.playerList()}
	for id := range room.Players {
		if member, ok := rm.clients[id]; ok {
			rm.emit(member, race.EventRoomUpdate, update)
		}
	}
}

// relayAction forwards a guest intent verbatim to the room's host, tagged
// with the sender. Dropped silently if the sender has no room or the host
// connection is already gone.
func (rm *RoomManager) relayAction(cfg *Config, c *client, data json.RawMessage) {
	room, ok := rm.registry.RoomOf(c.id)
	if !ok {
		return
	}
	host, ok := rm.clients[room.HostID]
	if !ok {
		return
	}

	payload, err := json.Marshal(race.RoomAction{From: c.id, Payload: data})
	if err != nil {
		return
	}
	rm.push(host, race.Envelope{Event: race.EventRoomAction, Data: payload})

	logf(cfg, "RELAY: action from %s to host %s in room %s", c.id, room.HostID, room.Code)
}

// relayState forwards the host's snapshot to every other member. The payload
// is relayed as raw JSON; the server never interprets game state. A sender
// that is not the recorded host is ignored, so a guest cannot spoof
// authoritative state.
func (rm *RoomManager) relayState(cfg *Config, c *client, data json.RawMessage) {
	room, ok := rm.registry.RoomOf(c.id)
	if !ok || room.HostID != c.id {
		return
	}

	for id := range room.Players {
		if id == c.id {
			continue
		}
		if member, ok := rm.clients[id]; ok {
			rm.push(member, race.Envelope{Event: race.EventStateSync, Data: data})
		}
	}

	logf(cfg, "RELAY: host %s broadcast state for room %s", c.id, room.Code)
}

func (rm *RoomManager) logRooms(cfg *Config) {
	codes := rm.registry.Codes()
	if len(codes) == 0 {
		logf(cfg, "ROOMS: active rooms: none")
		return
	}
	logf(cfg, "ROOMS: active rooms: %s", strings.Join(codes, ", "))
}

func (c *client) readPump(rm *RoomManager) {
	defer func() {
		rm.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var env race.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case race.EventCreateRoom, race.EventJoinRoom, race.EventLeaveRoom,
			race.EventClientAction, race.EventHostState:
			rm.events <- connEvent{client: c, env: env}
		default:
			// ignore unknown events
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func serveRoomSocket(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan race.Envelope, 8),
		}

		rm.register <- c
		logf(cfg, "ROOMS: %s connected from %s", c.id, realIP(r))

		go c.writePump()
		c.readPump(rm)
	}
}

// qrHandler serves a PNG QR code for joining a room, pointing at the client
// page with the room code attached.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := normalizeCode(ps.ByName("code"))
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	url := scheme + "://" + r.Host + "/?join=" + code

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerRaceServer sets up the realtime endpoints:
//   - $path/ws        → room protocol websocket
//   - $path/qr/:code  → PNG QR code for joining a room
func registerRaceServer(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) {
	rm := newRoomManager()
	go rm.run(ctx, cfg)

	mux.GET(cfg.prefix+path+"/ws", serveRoomSocket(cfg, rm))
	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler)
}
