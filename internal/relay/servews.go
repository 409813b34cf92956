package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/registry"
	"github.com/sievelab/pulse/internal/wire"
)

// serveWs handles websocket requests from clients: upgrade, authenticate,
// register, then hand off to the read/write pumps. A rejected attempt is
// closed before any registry entry exists.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Error("serveWs failed to upgrade to websocket")
		return
	}

	// Cannot return any http responses from here on; rejections are
	// websocket close frames.

	credential := r.URL.Query().Get("token")

	if credential == "" {
		log.Info("unauthorized - no token")
		reject(conn, "authentication required")
		return
	}

	userID, err := s.config.Authorizer.Authorize(credential)

	if err != nil {
		log.WithField("error", err).Info("unauthorized - invalid token")
		reject(conn, "authentication failed")
		return
	}

	connection := registry.NewConnection(uuid.New().String(), userID)

	s.registry.Register(connection)

	c := &client{
		conn:       conn,
		connection: connection,
		registry:   s.registry,
		dispatcher: s.dispatcher,
	}

	welcome := wire.NewInfo(
		"Connected successfully. You are in room: "+registry.DefaultRoom(userID),
		map[string]interface{}{
			"user_id": userID,
			"rooms":   s.registry.RoomsOf(connection.ID),
		},
	)
	c.send(welcome)

	go c.writePump()
	go c.readPump()
}

// reject closes an unauthenticated connection attempt with a policy
// violation code, mirroring the close the client's session expects.
func reject(conn *websocket.Conn, reason string) {

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)

	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.WithField("error", err).Debug("error writing close message to rejected connection")
	}

	conn.Close()
}
