// Package dispatch translates application-level notification events into
// wire frames and delivers them through the registry. Application event
// sources (upload pipelines, screening jobs, operators) use this API; they
// never touch the registry directly.
package dispatch

import (
	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/registry"
	"github.com/sievelab/pulse/internal/wire"
)

// Dispatcher fans notifications out to connections. Delivery is best-effort
// at-most-once: a dead or slow recipient is skipped and logged, never
// aborting delivery to the rest of a room or broadcast.
type Dispatcher struct {
	registry *registry.Registry
}

// New returns a Dispatcher delivering via the given registry.
func New(r *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// NotifyUser sends an identical notification frame to every connection the
// user currently has, via the user's default room. It returns false, without
// error, if the user has no connections; callers may then persist the
// notification elsewhere.
func (d *Dispatcher) NotifyUser(userID, message string, level wire.Level, payload map[string]interface{}) bool {

	conns := d.registry.ConnectionsOf(userID)
	if len(conns) == 0 {
		return false
	}

	frame := wire.NewNotification(message, level, payload, registry.DefaultRoom(userID))

	return d.deliver(conns, frame, "user") > 0
}

// NotifyRoom sends a notification frame to every member of the room at call
// time, returning the number of connections actually written to.
func (d *Dispatcher) NotifyRoom(room, message string, level wire.Level, payload map[string]interface{}) int {

	frame := wire.NewNotification(message, level, payload, room)

	return d.deliver(d.registry.MembersOf(room), frame, "room")
}

// Broadcast sends a notification frame to every registered connection,
// returning the number of connections actually written to.
func (d *Dispatcher) Broadcast(message string, level wire.Level, payload map[string]interface{}) int {

	frame := wire.NewNotification(message, level, payload, "")

	return d.deliver(d.registry.All(), frame, "broadcast")
}

// Relay fans an already-built frame out to the members of a room. The relay
// uses this for client-originated room messages and broadcasts so that they
// follow the same delivery policy as notifications.
func (d *Dispatcher) Relay(room string, frame wire.Response) int {
	return d.deliver(d.registry.MembersOf(room), frame, "room")
}

// RelayAll fans an already-built frame out to every connection.
func (d *Dispatcher) RelayAll(frame wire.Response) int {
	return d.deliver(d.registry.All(), frame, "broadcast")
}

// deliver marshals the frame once and queues it on each connection. The
// membership slice is a snapshot taken under the registry lock; the sends
// here happen outside it, so one slow peer cannot stall unrelated traffic.
func (d *Dispatcher) deliver(conns []*registry.Connection, frame wire.Response, target string) int {

	data, err := frame.Marshal()

	if err != nil {
		log.WithFields(log.Fields{"error": err, "type": frame.Type}).Error("dropping undeliverable frame")
		return 0
	}

	delivered := 0

	for _, c := range conns {
		if c.TrySend(data) {
			delivered++
			continue
		}
		// skipped, not fatal: the peer disconnected mid-fan-out or is
		// too far behind to keep
		notificationsDropped.WithLabelValues(target).Inc()
		log.WithFields(log.Fields{
			"connection_id": c.ID,
			"user_id":       c.UserID,
			"type":          frame.Type,
		}).Warn("skipping undeliverable connection")
	}

	notificationsDelivered.WithLabelValues(target).Add(float64(delivered))

	return delivered
}
