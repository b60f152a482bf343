package registry

import "github.com/jdelgado/rps-backend/internal/types"

type Status int

const (
	StatusActive Status = iota
	StatusPendingReconnect
)

// Participant binds a live connection to the username and room it plays in.
type Participant struct {
	ConnID   string
	Username string
	RoomID   string
	Status   Status
	Outbox   chan types.ServerMessage
}

type nameKey struct {
	username string
	room     string
}

// Registry is the single source of truth for who is online and where. It is
// owned by the hub and only ever touched from the hub goroutine, so it
// carries no locking. The (username, room) index is maintained incrementally
// so reconnect detection is a lookup, not a scan.
type Registry struct {
	byConn map[string]*Participant
	byName map[nameKey]string
	byRoom map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		byConn: make(map[string]*Participant),
		byName: make(map[nameKey]string),
		byRoom: make(map[string]map[string]struct{}),
	}
}

// Register inserts or overwrites the entry for p.ConnID. A username holds at
// most one entry per room: an existing binding for (username, room) under a
// different connection is evicted.
func (r *Registry) Register(p *Participant) {
	if old, ok := r.byConn[p.ConnID]; ok {
		r.unindex(old)
	}
	key := nameKey{p.Username, p.RoomID}
	if prev, ok := r.byName[key]; ok && prev != p.ConnID {
		r.Remove(prev)
	}
	r.byConn[p.ConnID] = p
	r.byName[key] = p.ConnID
	conns := r.byRoom[p.RoomID]
	if conns == nil {
		conns = make(map[string]struct{})
		r.byRoom[p.RoomID] = conns
	}
	conns[p.ConnID] = struct{}{}
}

// ByConn returns the participant bound to connID, or nil.
func (r *Registry) ByConn(connID string) *Participant {
	return r.byConn[connID]
}

// FindByUsername returns the participant a username holds in a room, or nil.
func (r *Registry) FindByUsername(username, room string) *Participant {
	connID, ok := r.byName[nameKey{username, room}]
	if !ok {
		return nil
	}
	return r.byConn[connID]
}

func (r *Registry) Remove(connID string) {
	p, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	r.unindex(p)
}

// Occupancy reports how many participants are bound to a room, counting
// seats held open by a pending reconnect.
func (r *Registry) Occupancy(room string) int {
	return len(r.byRoom[room])
}

// PurgeRoom drops every entry bound to a room. Idempotent.
func (r *Registry) PurgeRoom(room string) {
	for connID := range r.byRoom[room] {
		p := r.byConn[connID]
		delete(r.byConn, connID)
		if p != nil {
			delete(r.byName, nameKey{p.Username, p.RoomID})
		}
	}
	delete(r.byRoom, room)
}

func (r *Registry) unindex(p *Participant) {
	key := nameKey{p.Username, p.RoomID}
	if r.byName[key] == p.ConnID {
		delete(r.byName, key)
	}
	if conns, ok := r.byRoom[p.RoomID]; ok {
		delete(conns, p.ConnID)
		if len(conns) == 0 {
			delete(r.byRoom, p.RoomID)
		}
	}
}
