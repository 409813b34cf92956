package dispatch

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/sievelab/pulse/internal/registry"
	"github.com/sievelab/pulse/internal/wire"
)

func connect(r *registry.Registry, userID string) *registry.Connection {
	c := registry.NewConnection(uuid.New().String(), userID)
	r.Register(c)
	return c
}

func receive(t *testing.T, c *registry.Connection) wire.Response {
	select {
	case data := <-c.Outbound():
		var resp wire.Response
		assert.NoError(t, json.Unmarshal(data, &resp))
		return resp
	default:
		t.Fatal("no frame queued")
		return wire.Response{}
	}
}

func TestNotifyUser(t *testing.T) {

	r := registry.New()
	d := New(r)

	// offline user: false, no error
	assert.False(t, d.NotifyUser("17", "hello", wire.LevelInfo, nil))

	// two simultaneous connections both get the same frame
	c0 := connect(r, "17")
	c1 := connect(r, "17")
	other := connect(r, "18")

	assert.True(t, d.NotifyUser("17", "y", wire.LevelSuccess, nil))

	for _, c := range []*registry.Connection{c0, c1} {
		resp := receive(t, c)
		assert.Equal(t, wire.Notification, resp.Type)
		assert.Equal(t, "y", resp.Message)
		assert.Equal(t, "user_17", resp.Room)
		assert.True(t, resp.IsNotification())
		assert.Equal(t, wire.LevelSuccess, resp.Level())
	}

	select {
	case <-other.Outbound():
		t.Fatal("frame leaked to another user")
	default:
	}
}

func TestNotifyRoom(t *testing.T) {

	r := registry.New()
	d := New(r)

	assert.Equal(t, 0, d.NotifyRoom("project_42", "x", wire.LevelInfo, nil))

	a := connect(r, "17")
	r.Join(a.ID, "project_42")

	assert.Equal(t, 1, d.NotifyRoom("project_42", "x", wire.LevelInfo, map[string]interface{}{"article_id": 9}))

	resp := receive(t, a)
	assert.Equal(t, "x", resp.Message)
	assert.Equal(t, "project_42", resp.Room)
	assert.EqualValues(t, 9, resp.Data["article_id"])

	// after disconnect a repeat call reaches nobody
	r.Unregister(a.ID)
	assert.Equal(t, 0, d.NotifyRoom("project_42", "x", wire.LevelInfo, nil))
}

func TestBroadcast(t *testing.T) {

	r := registry.New()
	d := New(r)

	conns := []*registry.Connection{connect(r, "1"), connect(r, "2"), connect(r, "3")}

	assert.Equal(t, 3, d.Broadcast("maintenance in 5 minutes", wire.LevelWarning, nil))

	for _, c := range conns {
		resp := receive(t, c)
		assert.Equal(t, wire.Notification, resp.Type)
		assert.Equal(t, wire.LevelWarning, resp.Level())
	}
}

func TestDeadMemberDoesNotAbortFanout(t *testing.T) {

	r := registry.New()
	d := New(r)

	a := connect(r, "1")
	b := connect(r, "2")
	r.Join(a.ID, "project_42")
	r.Join(b.ID, "project_42")

	// take the snapshot race away: kill a before delivering
	r.Unregister(a.ID)

	// a is gone from the index entirely, so only b counts
	assert.Equal(t, 1, d.NotifyRoom("project_42", "x", wire.LevelInfo, nil))
	receive(t, b)
}

func TestSlowMemberIsSkipped(t *testing.T) {

	r := registry.New()
	d := New(r)

	a := connect(r, "1")
	b := connect(r, "2")
	r.Join(a.ID, "project_42")
	r.Join(b.ID, "project_42")

	// saturate a's buffer so the next send must be dropped
	for a.TrySend([]byte("x")) {
	}

	assert.Equal(t, 1, d.NotifyRoom("project_42", "x", wire.LevelInfo, nil))
	receive(t, b)
}

func TestRelayIncludesPrebuiltFrame(t *testing.T) {

	r := registry.New()
	d := New(r)

	a := connect(r, "1")
	r.Join(a.ID, "project_42")

	frame := wire.Response{
		Type:    wire.RoomMessage,
		Message: "done screening",
		Room:    "project_42",
		Data:    map[string]interface{}{"from_user_id": "1"},
	}

	assert.Equal(t, 1, d.Relay("project_42", frame))

	resp := receive(t, a)
	assert.Equal(t, wire.RoomMessage, resp.Type)
	assert.Equal(t, "1", resp.Data["from_user_id"])
	assert.False(t, resp.IsNotification())
}
