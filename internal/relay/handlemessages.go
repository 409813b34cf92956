package relay

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/wire"
)

// send queues a frame on this connection only. Failure is treated the same
// way as any other delivery failure: logged and dropped.
func (c *client) send(frame wire.Response) {

	data, err := frame.Marshal()

	if err != nil {
		log.WithFields(log.Fields{"error": err, "type": frame.Type}).Error("dropping unmarshallable frame")
		return
	}

	if !c.connection.TrySend(data) {
		log.WithField("connection_id", c.connection.ID).Warn("dropping frame for slow or closed connection")
	}
}

// handleMessage applies one inbound frame. Protocol errors are reported to
// the sender as error frames and never close the connection.
func (c *client) handleMessage(data []byte) {

	m, err := wire.ParseMessage(data)

	if err != nil {
		c.send(wire.NewError(err.Error()))
		return
	}

	switch m.Type {

	case wire.Text:
		// echo ack to this connection only
		c.send(wire.Response{
			Type:    wire.Text,
			Message: fmt.Sprintf("Echo: %v", m.Data),
		})

	case wire.JoinRoom:
		c.registry.Join(c.connection.ID, m.Room)
		c.send(wire.NewRoomAck(
			"Joined room: "+m.Room,
			m.Room,
			c.registry.RoomsOf(c.connection.ID),
		))

	case wire.LeaveRoom:
		// the registry silently refuses to drop the default room; the
		// ack's room list lets the client resynchronise either way
		c.registry.Leave(c.connection.ID, m.Room)
		c.send(wire.NewRoomAck(
			"Left room: "+m.Room,
			m.Room,
			c.registry.RoomsOf(c.connection.ID),
		))

	case wire.RoomMessage:
		if !c.registry.IsMember(c.connection.ID, m.Room) {
			c.send(wire.NewError("not a member of room: " + m.Room))
			return
		}
		// fan-out includes the sender; the echo doubles as a delivery
		// receipt
		c.dispatcher.Relay(m.Room, wire.Response{
			Type:    wire.RoomMessage,
			Message: fmt.Sprintf("%v", m.Data),
			Room:    m.Room,
			Data:    map[string]interface{}{"from_user_id": c.connection.UserID},
		})

	case wire.Broadcast:
		c.dispatcher.RelayAll(wire.Response{
			Type:    wire.Broadcast,
			Message: fmt.Sprintf("%v", m.Data),
			Data:    map[string]interface{}{"from_user_id": c.connection.UserID},
		})
	}
}
