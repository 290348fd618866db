package notify

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/auth"
)

// Server exposes the notify server's SSE surface: GET /events?token=... and
// GET /online-users.
type Server struct {
	hub       *Hub
	presence  *PresenceStore
	jwtSecret string
	issuer    string
	log       zerolog.Logger
}

// NewServer creates a Server backed by hub and presence, validating access
// tokens with jwtSecret/issuer the same way the auth middleware chain does.
func NewServer(hub *Hub, presence *PresenceStore, jwtSecret, issuer string, logger zerolog.Logger) *Server {
	return &Server{
		hub:       hub,
		presence:  presence,
		jwtSecret: jwtSecret,
		issuer:    issuer,
		log:       logger.With().Str("component", "notify.http").Logger(),
	}
}

// Events handles GET /events?token=... : it authenticates via the access
// token query parameter (SSE clients cannot set an Authorization header),
// registers a Subscription for the caller, and streams named events as
// text/event-stream until the client disconnects or the subscription is
// displaced by a reconnect.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateAccessToken(token, s.jwtSecret, s.issuer)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Register(claims.UserID)
	defer s.hub.Unregister(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := writeSSEFrame(w, frame); err != nil {
				s.log.Debug().Err(err).Int64("user_id", claims.UserID).Msg("failed to write SSE frame, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

// OnlineUsers handles GET /online-users, returning the current presence
// snapshot as a JSON array of {user_id, status}.
func (s *Server) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	snapshot := s.presence.Snapshot()
	out := make([]onlineUser, 0, len(snapshot))
	for userID, status := range snapshot {
		out = append(out, onlineUser{UserID: userID, Status: status})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode online-users response")
	}
}

type onlineUser struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

func writeSSEFrame(w http.ResponseWriter, frame Frame) error {
	data, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("marshal frame data: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, data)
	return err
}
