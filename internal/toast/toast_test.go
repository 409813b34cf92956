package toast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sievelab/pulse/internal/wire"
)

func TestPushPreservesInsertionOrder(t *testing.T) {

	q := NewQueue()

	first := q.Push("first", wire.LevelInfo, 0)
	second := q.Push("second", wire.LevelSuccess, 0)

	assert.NotEqual(t, first, second)

	toasts := q.List()
	assert.Len(t, toasts, 2)
	assert.Equal(t, "first", toasts[0].Message)
	assert.Equal(t, "second", toasts[1].Message)
	assert.WithinDuration(t, time.Now(), toasts[0].Timestamp, time.Second)
}

func TestZeroDurationNeverExpires(t *testing.T) {

	q := NewQueue()
	q.Push("sticky", wire.LevelWarning, 0)

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, q.Len())
}

func TestPositiveDurationExpires(t *testing.T) {

	q := NewQueue()
	q.Push("fleeting", wire.LevelInfo, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRemove(t *testing.T) {

	q := NewQueue()
	id := q.Push("x", wire.LevelInfo, time.Minute)

	q.Remove(id)
	assert.Equal(t, 0, q.Len())

	// removing again is a no-op
	assert.NotPanics(t, func() { q.Remove(id) })
}

func TestClearCancelsPendingExpiry(t *testing.T) {

	q := NewQueue()
	q.Push("a", wire.LevelInfo, 10*time.Millisecond)
	q.Push("b", wire.LevelInfo, 0)

	q.Clear()
	assert.Equal(t, 0, q.Len())

	// a timer firing after clear must not touch a fresh toast
	id := q.Push("c", wire.LevelInfo, 0)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, id, q.List()[0].ID)
}

func TestPushFrame(t *testing.T) {

	q := NewQueue()

	// frames without the notification flag make no toast
	assert.Empty(t, q.PushFrame(wire.NewInfo("plain", nil), 0))
	assert.Equal(t, 0, q.Len())

	frame := wire.NewNotification("upload complete", wire.LevelSuccess, nil, "")
	id := q.PushFrame(frame, 0)
	assert.NotEmpty(t, id)

	toasts := q.List()
	assert.Len(t, toasts, 1)
	assert.Equal(t, "upload complete", toasts[0].Message)
	assert.Equal(t, wire.LevelSuccess, toasts[0].Level)
}
