package relay

import (
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// readPump pumps messages from the websocket connection into the registry
// and dispatcher.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *client) readPump() {

	defer func() {
		c.close()
		log.Trace("readpump closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Errorf("readPump deadline error: %v", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {

		_, data, err := c.conn.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithFields(log.Fields{
					"error":         err,
					"connection_id": c.connection.ID,
				}).Debug("readPump closing on error")
			}
			break
		}

		c.connection.Stats().Rx.Add(len(data), c.connection.Stats().ConnectedAt)

		c.handleMessage(data)
	}
}

// writePump pumps frames from the connection's outbound queue to the
// websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *client) writePump() {

	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.close()
		log.Trace("writepump closed")
	}()

	for {
		select {

		case data, ok := <-c.connection.Outbound():

			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Errorf("writePump deadline error: %v", err)
				return
			}

			if !ok {
				// the registry unregistered us and closed the queue
				err := c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				if err != nil {
					log.Debugf("writePump close message error: %v", err)
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Errorf("writePump writing error: %v", err)
				return
			}

			c.connection.Stats().Tx.Add(len(data), c.connection.Stats().ConnectedAt)

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Errorf("writePump ping deadline error: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
