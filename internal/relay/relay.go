// Package relay serves the pulse notification fabric: a websocket endpoint
// for clients and a small REST surface for application event sources that
// need to push notifications to users, rooms, or everyone.
package relay

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/dispatch"
	"github.com/sievelab/pulse/internal/registry"
)

// Server owns the registry and dispatcher for one relay instance. It is an
// explicit service object: whatever accepts connections and whatever emits
// notifications share it by reference, not via package-level state.
type Server struct {
	config     Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

// New returns a Server ready to Run.
func New(config Config) *Server {

	r := registry.New()

	return &Server{
		config:     config,
		registry:   r,
		dispatcher: dispatch.New(r),
	}
}

// Dispatcher exposes the notification API for in-process event sources.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Registry exposes the connection registry, mainly for tests.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Router returns the HTTP routes served by this relay.
func (s *Server) Router() *mux.Router {

	r := mux.NewRouter()

	r.HandleFunc("/ws", s.serveWs).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/notifications", s.postNotification).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/status", s.getStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return r
}

// Run serves until closed is closed, then shuts down and calls wg.Done().
func (s *Server) Run(closed <-chan struct{}, parentwg *sync.WaitGroup) {

	defer parentwg.Done()

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(s.config.Listen),
		Handler: s.Router(),
	}

	go func() {
		<-closed

		// Shutdown ignores hijacked websockets, so evict live connections
		// first; each write pump answers the closed queue with a normal
		// closure and tears down its socket
		for _, c := range s.registry.All() {
			s.registry.Unregister(c.ID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("error", err).Error("relay shutdown error")
		}
	}()

	log.WithField("listen", s.config.Listen).Info("relay listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err).Error("relay server error")
	}

	log.Trace("relay done")
}
