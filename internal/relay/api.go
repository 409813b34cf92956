package relay

import (
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/sievelab/pulse/internal/registry"
	"github.com/sievelab/pulse/internal/token"
	"github.com/sievelab/pulse/internal/wire"
)

// NotificationRequest is the body accepted by POST /api/v1/notifications.
// Application event sources (upload pipelines, screening jobs) use it to
// push a leveled notification at a user, a room, or everyone.
type NotificationRequest struct {
	Target  string                 `json:"target"` // user, room, or broadcast
	UserID  string                 `json:"user_id,omitempty"`
	Room    string                 `json:"room,omitempty"`
	Message string                 `json:"message"`
	Level   wire.Level             `json:"level,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// NotificationResult reports how many connections a notification reached.
type NotificationResult struct {
	Delivered int `json:"delivered"`
}

// APIError is the error body for the REST surface.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("error", err).Error("error encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIError{Code: status, Message: message})
}

// authorize checks the bearer token on a REST call for the required scope.
func (s *Server) authorize(r *http.Request, scope string) (*token.Claims, error) {

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if bearer == "" {
		return nil, errors.New("missing authorization header")
	}

	claims, err := s.config.Validator.Validate(bearer)

	if err != nil {
		return nil, err
	}

	if !claims.HasScope(scope) {
		return nil, errors.New("token missing " + scope + " scope")
	}

	return claims, nil
}

// postNotification dispatches a notification on behalf of an application
// event source.
func (s *Server) postNotification(w http.ResponseWriter, r *http.Request) {

	claims, err := s.authorize(r, token.ScopeNotify)

	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req NotificationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	level := req.Level
	if level == "" {
		level = wire.LevelInfo
	}

	var delivered int

	switch req.Target {

	case "user":
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required for user target")
			return
		}
		// the default room holds exactly the user's connections, and
		// gives us a count rather than a bool
		delivered = s.dispatcher.NotifyRoom(registry.DefaultRoom(req.UserID), req.Message, level, req.Payload)

	case "room":
		if req.Room == "" {
			writeError(w, http.StatusBadRequest, "room is required for room target")
			return
		}
		delivered = s.dispatcher.NotifyRoom(req.Room, req.Message, level, req.Payload)

	case "broadcast":
		delivered = s.dispatcher.Broadcast(req.Message, level, req.Payload)

	default:
		writeError(w, http.StatusBadRequest, "target must be user, room, or broadcast")
		return
	}

	log.WithFields(log.Fields{
		"issuer":    claims.Subject,
		"target":    req.Target,
		"delivered": delivered,
	}).Debug("notification dispatched")

	writeJSON(w, http.StatusOK, NotificationResult{Delivered: delivered})
}

// getStatus reports every registered connection with its rooms and traffic
// statistics.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {

	if _, err := s.authorize(r, token.ScopeStatus); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.registry.GetReports())
}
