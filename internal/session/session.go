/*
   session is a websocket client that automatically reconnects
   Copyright (C) 2026 Sieve Lab <dev@sievelab.io>

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as
   published by the Free Software Foundation, either version 3 of the
   License, or (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package session manages one logical client connection to a pulse relay.
// The session owns at most one transport at a time, reconnects with bounded
// backoff after unexpected closures, silently rejoins its mirrored room set
// after every reconnect, and exposes a publish/subscribe surface to UI code.
package session

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/wire"
)

// State represents the session's connection state.
type State int

// Session states
const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Handler receives inbound frames. Handlers run synchronously with respect
// to frame arrival, in arrival order.
type Handler func(wire.Response)

// RetryConfig represents the parameters for when to retry to connect
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration
}

// DefaultMaxAttempts is the reconnect budget before the session gives up
// and waits for an explicit Connect.
const DefaultMaxAttempts = 5

const writeWait = 10 * time.Second

// Session is a client of the relay's websocket endpoint. All its operations
// are fire-and-forget from the caller's perspective; completion and failure
// are observed through state and subscribed handlers.
type Session struct {
	URL         string // ws(s)://host/ws
	MaxAttempts int
	Retry       RetryConfig

	// OnStateChange, if set, observes every state transition. Set it
	// before calling Connect.
	OnStateChange func(State)

	mu         sync.Mutex
	state      State
	attempts   int
	credential string
	rooms      map[string]bool
	handlers   map[string][]*handlerEntry
	conn       *websocket.Conn
	boff       *backoff.Backoff

	// generation invalidates callbacks from transports that were
	// superseded by a later Connect or Disconnect
	generation int

	// at most one pending reconnect timer; always stopped before re-arming
	timer *time.Timer
}

type handlerEntry struct {
	fn Handler
}

// New returns a Session for the given websocket URL with default retry
// policy (the delay between attempts is non-decreasing, bounded above).
func New(url string) *Session {
	return &Session{
		URL:         url,
		MaxAttempts: DefaultMaxAttempts,
		Retry: RetryConfig{
			Factor: 2,
			Min:    time.Second,
			Max:    10 * time.Second,
			Jitter: false,
		},
		rooms:    make(map[string]bool),
		handlers: make(map[string][]*handlerEntry),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts since the last good
// connection.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Rooms returns the mirrored room set that will be rejoined on reconnect.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Connect opens the transport with the given credential. It is a no-op when
// already connecting or connected. A session that previously exhausted its
// reconnect budget starts afresh.
func (s *Session) Connect(credential string) {

	s.mu.Lock()

	if s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		return
	}

	s.credential = credential
	s.attempts = 0
	s.boff = &backoff.Backoff{
		Min:    s.Retry.Min,
		Max:    s.Retry.Max,
		Factor: s.Retry.Factor,
		Jitter: s.Retry.Jitter,
	}
	s.generation++
	gen := s.generation
	s.stopTimer()

	notify := s.setState(Connecting)
	s.mu.Unlock()
	notify()

	go s.dial(gen)
}

// Disconnect closes the session deliberately: any in-flight attempt or
// pending retry is cancelled, the transport is closed with a normal-closure
// code, and the mirrored rooms and registered handlers are cleared.
func (s *Session) Disconnect() {

	s.mu.Lock()

	s.generation++ // suppress callbacks from any half-open transport
	s.attempts = s.MaxAttempts
	s.stopTimer()

	if s.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			log.WithField("error", err).Debug("error writing close message")
		}
		s.conn.Close()
		s.conn = nil
	}

	s.rooms = make(map[string]bool)
	s.handlers = make(map[string][]*handlerEntry)

	notify := s.setState(Disconnected)
	s.mu.Unlock()
	notify()
}

// JoinRoom adds the room to the mirrored set and, when connected, sends the
// join frame. While offline the intent is retained and replayed on the next
// successful connect.
func (s *Session) JoinRoom(name string) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[name] = true

	if s.state == Connected {
		s.writeMessage(wire.Message{Type: wire.JoinRoom, Room: name})
	}
}

// LeaveRoom removes the room from the mirrored set and, when connected,
// sends the leave frame.
func (s *Session) LeaveRoom(name string) {

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, name)

	if s.state == Connected {
		s.writeMessage(wire.Message{Type: wire.LeaveRoom, Room: name})
	}
}

// Send transmits an arbitrary message when connected; it is silently dropped
// otherwise (best-effort, like every other send).
func (s *Session) Send(m wire.Message) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Connected {
		s.writeMessage(m)
	}
}

// Subscribe registers a handler for frames matching key. Keys are a frame
// type (e.g. "notification"), "*" for all frames, or "room:<name>" for
// frames scoped to a room. The returned function unsubscribes; both are safe
// to call at any time, including from within a handler.
func (s *Session) Subscribe(key string, fn Handler) func() {

	entry := &handlerEntry{fn: fn}

	s.mu.Lock()
	s.handlers[key] = append(s.handlers[key], entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.handlers[key]
		for i, e := range entries {
			if e == entry {
				s.handlers[key] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// setState mutates the state and returns the notification to run once the
// lock is released. Caller must hold mu.
func (s *Session) setState(st State) func() {

	if s.state == st {
		return func() {}
	}

	s.state = st
	cb := s.OnStateChange

	log.WithField("state", st).Debug("session state change")

	if cb == nil {
		return func() {}
	}
	return func() { cb(st) }
}

// stopTimer cancels any pending reconnect. Caller must hold mu.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// writeMessage sends one frame on the live transport. Caller must hold mu,
// which also serialises writers on the websocket.
func (s *Session) writeMessage(m wire.Message) {

	if s.conn == nil {
		return
	}

	data, err := json.Marshal(m)
	if err != nil {
		log.WithField("error", err).Error("dropping unmarshallable message")
		return
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.WithField("error", err).Error("write deadline error")
		return
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.WithField("error", err).Info("error writing to conn")
	}
}

// dial attempts to open the transport once. Outcomes are ignored if the
// generation has moved on (Disconnect or a fresh Connect happened meanwhile).
func (s *Session) dial(gen int) {

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	s.mu.Lock()
	url := s.URL + "?token=" + s.credential
	s.mu.Unlock()

	conn, _, err := dialer.Dial(url, nil)

	s.mu.Lock()

	if gen != s.generation {
		// superseded while dialling; nobody wants this transport
		if err == nil {
			conn.Close()
		}
		s.mu.Unlock()
		return
	}

	if err != nil {
		log.WithField("error", err).Info("dial failed")
		notify := s.retryOrFail(gen)
		s.mu.Unlock()
		notify()
		return
	}

	s.conn = conn
	s.attempts = 0
	s.boff.Reset()

	notify := s.setState(Connected)

	// idempotent rejoin: the server treats repeat joins as no-ops
	for room := range s.rooms {
		s.writeMessage(wire.Message{Type: wire.JoinRoom, Room: room})
	}

	s.mu.Unlock()
	notify()

	go s.readLoop(conn, gen)
}

// readLoop delivers inbound frames to handlers in arrival order, then drives
// the reconnect decision when the transport closes.
func (s *Session) readLoop(conn *websocket.Conn, gen int) {

	var closeErr error

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}

		var frame wire.Response
		if err := json.Unmarshal(data, &frame); err != nil {
			log.WithField("error", err).Warn("ignoring undecodable frame")
			continue
		}

		s.dispatch(frame)
	}

	conn.Close()

	s.mu.Lock()

	if gen != s.generation {
		// a newer transport or a deliberate disconnect owns the state now
		s.mu.Unlock()
		return
	}

	s.conn = nil

	var notify func()

	switch {
	case websocket.IsCloseError(closeErr, websocket.CloseNormalClosure):
		notify = s.setState(Disconnected)

	case websocket.IsCloseError(closeErr, websocket.ClosePolicyViolation):
		// authentication rejection; retrying with the same credential
		// cannot succeed
		notify = s.terminalFailure("connection rejected: authentication failed")

	default:
		notify = s.retryOrFail(gen)
	}

	s.mu.Unlock()
	notify()
}

// retryOrFail schedules the next reconnect attempt, or gives up once the
// budget is exhausted. Caller must hold mu.
func (s *Session) retryOrFail(gen int) func() {

	if s.attempts >= s.MaxAttempts {
		return s.terminalFailure("connection lost: retry limit reached")
	}

	s.attempts++
	delay := s.boff.Duration()

	log.WithFields(log.Fields{"attempt": s.attempts, "delay": delay}).Info("scheduling reconnect")

	s.stopTimer()
	s.timer = time.AfterFunc(delay, func() {

		s.mu.Lock()
		if gen != s.generation || s.state != Connecting {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.dial(gen)
	})

	return s.setState(Connecting)
}

// terminalFailure moves the session to its error state and surfaces a single
// user-visible notification; automatic retries stop until the owner calls
// Connect again. Caller must hold mu.
func (s *Session) terminalFailure(message string) func() {

	notify := s.setState(Errored)

	frame := wire.Response{
		Type:    wire.Error,
		Message: message,
		Data: map[string]interface{}{
			"level":        string(wire.LevelError),
			"notification": true,
		},
	}

	return func() {
		notify()
		s.dispatch(frame)
	}
}

// dispatch invokes handlers matching the frame. The handler set is
// snapshotted before invocation so handlers may subscribe or unsubscribe
// without corrupting the iteration.
func (s *Session) dispatch(frame wire.Response) {

	keys := []string{string(frame.Type), "*"}
	if frame.Room != "" {
		keys = append(keys, "room:"+frame.Room)
	}

	s.mu.Lock()
	var snapshot []*handlerEntry
	for _, key := range keys {
		snapshot = append(snapshot, s.handlers[key]...)
	}
	s.mu.Unlock()

	for _, entry := range snapshot {
		entry.fn(frame)
	}
}
