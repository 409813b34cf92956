package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pulse_connections_active",
	Help: "Number of websocket connections currently registered.",
})
