package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_frames_delivered_total",
		Help: "Frames queued for delivery, by target kind.",
	}, []string{"target"})

	notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_frames_dropped_total",
		Help: "Frames dropped because a connection was closed or too slow, by target kind.",
	}, []string{"target"})
)
