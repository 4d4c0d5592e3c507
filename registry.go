package main

import (
	"crypto/rand"
	"sort"
	"strings"
	"time"

	"github.com/Seednode/worldrace/race"
)

// roomCodeAlphabet skips characters that read ambiguously when shared out
// loud or on a screen (0/O, 1/I).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	roomCodeLength = 5
	maxPlayers     = 2
)

// Room ties a code to its members. The host connection owns the room: its
// departure destroys the room outright, while a departing guest leaves the
// room open for a replacement.
type Room struct {
	Code      string
	HostID    string
	Players   map[string]race.RoomPlayer
	CreatedAt time.Time
}

// playerList returns the members host-first, the order clients render the
// lobby in.
func (r *Room) playerList() []race.RoomPlayer {
	list := make([]race.RoomPlayer, 0, len(r.Players))
	for _, p := range r.Players {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Role != list[j].Role {
			return list[i].Role == race.RoleHost
		}
		return list[i].JoinedAt < list[j].JoinedAt
	})

	return list
}

// Registry is pure bookkeeping for room codes and connection membership. It
// does no locking of its own; the room manager's event loop is the only
// mutator.
type Registry struct {
	rooms map[string]*Room
	conns map[string]string // connection ID -> room code
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (reg *Registry) Put(room *Room) {
	reg.rooms[room.Code] = room
}

func (reg *Registry) Get(code string) (*Room, bool) {
	room, ok := reg.rooms[normalizeCode(code)]
	return room, ok
}

func (reg *Registry) Remove(code string) {
	delete(reg.rooms, code)
}

func (reg *Registry) Link(connID, code string) {
	reg.conns[connID] = code
}

func (reg *Registry) Unlink(connID string) {
	delete(reg.conns, connID)
}

// RoomOf resolves the room a connection currently belongs to, if any.
func (reg *Registry) RoomOf(connID string) (*Room, bool) {
	code, ok := reg.conns[connID]
	if !ok {
		return nil, false
	}
	room, ok := reg.rooms[code]
	return room, ok
}

func (reg *Registry) Codes() []string {
	codes := make([]string, 0, len(reg.rooms))
	for code := range reg.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NewCode generates a crypto-random room code not currently in use. The
// alphabet size makes collisions rare enough that retrying is effectively
// free.
func (reg *Registry) NewCode() string {
	for {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}
