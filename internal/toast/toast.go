// Package toast keeps an ephemeral, ordered queue of UI notifications
// derived from inbound notification frames. Toasts auto-expire after their
// duration, or live until dismissed when the duration is zero.
package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sievelab/pulse/internal/wire"
)

// Toast is one notification record for display.
type Toast struct {
	ID        string
	Message   string
	Level     wire.Level
	Duration  time.Duration
	Timestamp time.Time
}

// Queue is an insertion-ordered collection of toasts. All methods are safe
// for concurrent use; expiry timers fire on their own goroutines.
type Queue struct {
	mu     sync.Mutex
	toasts []Toast
	timers map[string]*time.Timer
}

// NewQueue returns a pointer to an initialised Queue
func NewQueue() *Queue {
	return &Queue{
		timers: make(map[string]*time.Timer),
	}
}

// Push appends a new toast and returns its id. A positive duration schedules
// automatic removal; zero or negative means the toast stays until dismissed.
func (q *Queue) Push(message string, level wire.Level, duration time.Duration) string {

	q.mu.Lock()
	defer q.mu.Unlock()

	t := Toast{
		ID:        uuid.New().String(),
		Message:   message,
		Level:     level,
		Duration:  duration,
		Timestamp: time.Now(),
	}

	q.toasts = append(q.toasts, t)

	if duration > 0 {
		q.timers[t.ID] = time.AfterFunc(duration, func() { q.Remove(t.ID) })
	}

	return t.ID
}

// PushFrame derives a toast from an inbound frame, if the frame carries the
// notification flag. It returns the toast id, or empty if no toast was made.
func (q *Queue) PushFrame(frame wire.Response, duration time.Duration) string {

	if !frame.IsNotification() {
		return ""
	}

	return q.Push(frame.Message, frame.Level(), duration)
}

// Remove dismisses a toast by id, cancelling any pending expiry. Removing an
// id that has already gone is a no-op.
func (q *Queue) Remove(id string) {

	q.mu.Lock()
	defer q.mu.Unlock()

	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}

	for i, t := range q.toasts {
		if t.ID == id {
			q.toasts = append(q.toasts[:i], q.toasts[i+1:]...)
			return
		}
	}
}

// Clear empties the queue immediately, cancelling all pending expiries.
func (q *Queue) Clear() {

	q.mu.Lock()
	defer q.mu.Unlock()

	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}

	q.toasts = nil
}

// List returns the queued toasts in insertion order. Display ordering is the
// caller's choice.
func (q *Queue) List() []Toast {

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Toast, len(q.toasts))
	copy(out, q.toasts)
	return out
}

// Len returns the number of queued toasts.
func (q *Queue) Len() int {

	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.toasts)
}
