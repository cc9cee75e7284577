package realtime

import (
	"strings"
	"sync"
)

const roomSep = "_"

// RoomID is the conversation room of two users. Either side derives the same
// id without coordination.
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomSep + b
}

// PersonalRoom is the room every connection of userID joins on connect.
func PersonalRoom(userID string) string { return userID }

// ParticipantsOf splits a conversation room id. ok is false for anything
// RoomID could not have produced.
func ParticipantsOf(roomID string) (a, b string, ok bool) {
	a, b, found := strings.Cut(roomID, roomSep)
	if !found || a == "" || b == "" || strings.Contains(b, roomSep) || b < a {
		return "", "", false
	}
	return a, b, true
}

// Rooms tracks which live connections have joined which room. Rooms exist
// only while they have members.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Conn
	byConn map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[string]*Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(c *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[roomID] = members
	}
	members[c.id] = c
	joined, ok := r.byConn[c.id]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c.id] = joined
	}
	joined[roomID] = struct{}{}
}

func (r *Rooms) Leave(c *Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.id, roomID)
}

// LeaveAll drops every membership of c.
func (r *Rooms) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.byConn[c.id] {
		r.leaveLocked(c.id, roomID)
	}
	delete(r.byConn, c.id)
}

func (r *Rooms) leaveLocked(connID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

func (r *Rooms) Members(roomID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// HasUser reports whether any connection of userID is in the room.
func (r *Rooms) HasUser(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[roomID] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// Joined lists the rooms c is a member of.
func (r *Rooms) Joined(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn[c.id]))
	for roomID := range r.byConn[c.id] {
		out = append(out, roomID)
	}
	return out
}
