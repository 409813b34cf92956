package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sievelab/pulse/internal/dispatch"
	"github.com/sievelab/pulse/internal/registry"
	"github.com/sievelab/pulse/internal/token"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 32768
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authorizer validates the credential presented with a websocket connection
// attempt, returning the user id it vouches for. Authentication policy is
// pluggable; token.Validator is the stock implementation.
type Authorizer interface {
	Authorize(credential string) (string, error)
}

// Validator checks bearer tokens presented to the REST surface.
type Validator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// Config represents configuration options for a relay instance.
// Use this struct to pass configuration as argument during testing.
type Config struct {

	// Listen is the listening port
	Listen int

	// Authorizer authenticates websocket connection attempts
	Authorizer Authorizer

	// Validator authenticates REST calls (notifications, status)
	Validator Validator
}

// client holds the server side of one websocket connection: the socket, the
// registered Connection, and the once-only teardown shared by both pumps.
type client struct {
	conn       *websocket.Conn
	connection *registry.Connection
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher

	closeOnce sync.Once
}

// close tears the connection down from any termination path; the registry's
// idempotent Unregister plus the once guard make concurrent paths safe.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.registry.Unregister(c.connection.ID)
		c.conn.Close()
	})
}
