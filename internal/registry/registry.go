// Package registry is the single source of truth for who is connected and
// to which rooms. It owns two derived indices (user to connections, room to
// connections) which are mutated together under one lock so that readers can
// never observe them out of step with a connection's own room set.
package registry

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// sendBufferLength is the depth of each connection's outbound queue. A
// receiver that falls this far behind starts losing frames (at-most-once
// delivery, never blocking the sender).
const sendBufferLength = 256

// DefaultRoom returns the name of a user's protected personal room. Every
// connection joins it on registration and cannot leave it; it is the target
// for "notify this specific user".
func DefaultRoom(userID string) string {
	return "user_" + userID
}

// Connection represents one live duplex session. It is created and owned by
// the handler serving the websocket; the registry only references it. The
// rooms set is mutated exclusively by the registry under its lock.
type Connection struct {
	ID            string
	UserID        string
	EstablishedAt time.Time

	// Buffered channel of outbound frames. The connection's write pump is
	// the only reader; the registry closes it on unregister.
	send chan []byte

	rooms map[string]bool

	stats *Stats
}

// NewConnection returns a Connection ready to be registered.
func NewConnection(id, userID string) *Connection {
	return &Connection{
		ID:            id,
		UserID:        userID,
		EstablishedAt: time.Now(),
		send:          make(chan []byte, sendBufferLength),
		rooms:         make(map[string]bool),
		stats:         NewStats(),
	}
}

// Outbound returns the channel the connection's write pump must drain. It is
// closed when the connection is unregistered.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Stats returns the connection's traffic statistics.
func (c *Connection) Stats() *Stats {
	return c.stats
}

// TrySend queues a frame without blocking. It returns false if the
// connection's buffer is full, i.e. the peer is too slow or effectively
// dead; callers treat that as one fewer delivered.
func (c *Connection) TrySend(data []byte) (ok bool) {

	// send on a closed channel panics; a connection can be unregistered
	// concurrently with a fan-out that snapshotted it moments earlier
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Registry indexes live connections by user and by room. All mutations are
// applied atomically with respect to both indices; reads return
// copy-on-read snapshots so fan-out never holds the lock across a send.
type Registry struct {
	mu sync.Mutex

	connections map[string]*Connection            // id -> connection
	byUser      map[string]map[string]*Connection // user id -> id -> connection
	byRoom      map[string]map[string]*Connection // room name -> id -> connection
}

// New returns a pointer to an initialised Registry
func New() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		byRoom:      make(map[string]map[string]*Connection),
	}
}

// Register adds the connection to the user index and joins it to the user's
// default room. Each connection is registered exactly once, immediately
// after successful authentication.
func (r *Registry) Register(c *Connection) {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[c.ID] = c

	if _, ok := r.byUser[c.UserID]; !ok {
		r.byUser[c.UserID] = make(map[string]*Connection)
	}
	r.byUser[c.UserID][c.ID] = c

	r.joinLocked(c, DefaultRoom(c.UserID))

	connectionsActive.Inc()

	log.WithFields(log.Fields{"connection_id": c.ID, "user_id": c.UserID}).Debug("connection registered")
}

// Unregister removes the connection from every room it was in and from the
// user index, then closes its outbound channel. Unregistering an id that is
// not present is a no-op, so concurrent teardown paths are safe.
func (r *Registry) Unregister(id string) {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return
	}

	for room := range c.rooms {
		r.leaveLocked(c, room)
	}

	delete(r.byUser[c.UserID], id)
	if len(r.byUser[c.UserID]) == 0 {
		delete(r.byUser, c.UserID)
	}

	delete(r.connections, id)

	close(c.send)

	connectionsActive.Dec()

	log.WithFields(log.Fields{"connection_id": id, "user_id": c.UserID}).Debug("connection unregistered")
}

// Join adds the connection to a room; a repeat join is a no-op. Joining on
// behalf of an unregistered id is ignored.
func (r *Registry) Join(id, room string) {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return
	}

	r.joinLocked(c, room)
}

// Leave removes the connection from a room; leaving a room it is not in is a
// no-op. The user's default room is protected and attempts to leave it are
// silently ignored.
func (r *Registry) Leave(id, room string) {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return
	}

	if room == DefaultRoom(c.UserID) {
		log.WithFields(log.Fields{"connection_id": id, "room": room}).Debug("ignoring attempt to leave default room")
		return
	}

	r.leaveLocked(c, room)
}

func (r *Registry) joinLocked(c *Connection, room string) {

	if c.rooms[room] {
		return
	}

	c.rooms[room] = true

	if _, ok := r.byRoom[room]; !ok {
		r.byRoom[room] = make(map[string]*Connection)
	}
	r.byRoom[room][c.ID] = c
}

func (r *Registry) leaveLocked(c *Connection, room string) {

	if !c.rooms[room] {
		return
	}

	delete(c.rooms, room)

	delete(r.byRoom[room], c.ID)
	if len(r.byRoom[room]) == 0 {
		delete(r.byRoom, room)
	}
}

// MembersOf returns a point-in-time snapshot of a room's connections.
// Members can disconnect between snapshot and use; senders must tolerate
// that (TrySend fails cleanly on a closed connection).
func (r *Registry) MembersOf(room string) []*Connection {

	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]*Connection, 0, len(r.byRoom[room]))
	for _, c := range r.byRoom[room] {
		members = append(members, c)
	}
	return members
}

// ConnectionsOf returns a snapshot of a user's connections; zero length
// means offline, more than one means multiple tabs or devices.
func (r *Registry) ConnectionsOf(userID string) []*Connection {

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	return conns
}

// RoomsOf returns a sorted snapshot of the rooms a connection is in, for
// acks that let the client resynchronise its mirrored set.
func (r *Registry) RoomsOf(id string) []string {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return []string{}
	}

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether the connection is currently in the room.
func (r *Registry) IsMember(id, room string) bool {

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false
	}
	return c.rooms[room]
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {

	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.connections)
}
