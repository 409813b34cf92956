package registry

import (
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestConnection(userID string) *Connection {
	return NewConnection(uuid.New().String(), userID)
}

func TestRegisterJoinsDefaultRoom(t *testing.T) {

	r := New()
	c := newTestConnection("17")

	r.Register(c)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"user_17"}, r.RoomsOf(c.ID))
	assert.True(t, r.IsMember(c.ID, "user_17"))

	members := r.MembersOf("user_17")
	assert.Len(t, members, 1)
	assert.Equal(t, c.ID, members[0].ID)
}

func TestJoinLeave(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)

	r.Join(c.ID, "project_42")
	assert.Equal(t, []string{"project_42", "user_17"}, r.RoomsOf(c.ID))
	assert.Len(t, r.MembersOf("project_42"), 1)

	// repeat join is a no-op
	r.Join(c.ID, "project_42")
	assert.Len(t, r.MembersOf("project_42"), 1)

	r.Leave(c.ID, "project_42")
	assert.Equal(t, []string{"user_17"}, r.RoomsOf(c.ID))
	assert.Empty(t, r.MembersOf("project_42"))

	// leaving a room we are not in is a no-op
	r.Leave(c.ID, "project_42")
	assert.Equal(t, []string{"user_17"}, r.RoomsOf(c.ID))
}

func TestCannotLeaveDefaultRoom(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)

	r.Leave(c.ID, "user_17")

	assert.True(t, r.IsMember(c.ID, "user_17"))
	assert.Len(t, r.MembersOf("user_17"), 1)
}

func TestUnregisterCleansIndices(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)
	r.Join(c.ID, "project_42")
	r.Join(c.ID, "project_43")

	r.Unregister(c.ID)

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.MembersOf("project_42"))
	assert.Empty(t, r.MembersOf("project_43"))
	assert.Empty(t, r.MembersOf("user_17"))
	assert.Empty(t, r.ConnectionsOf("17"))
	assert.Empty(t, r.RoomsOf(c.ID))

	// internal index maps must not leak empty entries
	assert.Empty(t, r.byRoom)
	assert.Empty(t, r.byUser)
}

func TestUnregisterIsIdempotent(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)

	r.Unregister(c.ID)
	assert.NotPanics(t, func() { r.Unregister(c.ID) })
	assert.Equal(t, 0, r.Count())

	// operations on a dead id are no-ops
	r.Join(c.ID, "project_42")
	assert.Empty(t, r.MembersOf("project_42"))
	assert.False(t, r.IsMember(c.ID, "project_42"))
}

func TestMultipleConnectionsPerUser(t *testing.T) {

	r := New()
	c0 := newTestConnection("17")
	c1 := newTestConnection("17")
	r.Register(c0)
	r.Register(c1)

	assert.Len(t, r.ConnectionsOf("17"), 2)
	assert.Len(t, r.MembersOf("user_17"), 2)

	r.Unregister(c0.ID)

	conns := r.ConnectionsOf("17")
	assert.Len(t, conns, 1)
	assert.Equal(t, c1.ID, conns[0].ID)
}

func TestTrySend(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)

	assert.True(t, c.TrySend([]byte("foo")))
	assert.Equal(t, []byte("foo"), <-c.Outbound())

	// fill the buffer; further sends are dropped, not blocked
	for i := 0; i < sendBufferLength; i++ {
		assert.True(t, c.TrySend([]byte("x")))
	}
	assert.False(t, c.TrySend([]byte("overflow")))

	// sends to an unregistered connection fail cleanly
	r.Unregister(c.ID)
	assert.False(t, c.TrySend([]byte("dead")))
}

func TestConcurrentChurnKeepsIndicesConsistent(t *testing.T) {

	r := New()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestConnection(strconv.Itoa(i % 5))
			r.Register(c)
			for j := 0; j < 20; j++ {
				room := "project_" + strconv.Itoa(j%3)
				r.Join(c.ID, room)
				r.MembersOf(room)
				r.Leave(c.ID, room)
			}
			r.Unregister(c.ID)
			r.Unregister(c.ID) // concurrent double-teardown must be safe
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.byRoom)
	assert.Empty(t, r.byUser)
}

func TestGetReports(t *testing.T) {

	r := New()
	c := newTestConnection("17")
	r.Register(c)
	r.Join(c.ID, "project_42")

	c.Stats().Tx.Add(128, c.Stats().ConnectedAt)

	reports := r.GetReports()
	assert.Len(t, reports, 1)
	assert.Equal(t, "17", reports[0].UserID)
	assert.Equal(t, []string{"project_42", "user_17"}, reports[0].Rooms)
	assert.Equal(t, 128.0, reports[0].Tx.Size)
	assert.Equal(t, "Never", reports[0].Rx.Last)
}
