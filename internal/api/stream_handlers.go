package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/http/response"
	"github.com/listenupapp/bookstream/internal/ratelimit"
	"github.com/listenupapp/bookstream/internal/session"
)

// handleStream upgrades the request and serves one session on it until the
// peer goes away or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		response.HandleError(w, domainerrors.Unavailable("Server is shutting down"), s.logger)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		response.BadRequest(w, "Expected a WebSocket upgrade", s.logger)
		return
	}

	stream, err := s.upgrader.Accept(w, r)
	if err != nil {
		// The upgrader has already answered.
		s.logger.Debug("stream upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := session.New(s.runtime, stream)
	s.logger.Debug("stream accepted",
		"session_id", sess.ID(),
		"remote_addr", stream.RemoteAddr(),
		"codec", stream.Codec().Name(),
	)

	if err := sess.Serve(s.ctx); err != nil {
		s.logger.Debug("stream ended with error", "session_id", sess.ID(), "error", err)
	}
}

// rejectUpgrade answers a client over its upgrade rate.
func (s *Server) rejectUpgrade(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("Rate limit exceeded",
		"ip", ratelimit.ClientIP(r),
		"path", r.URL.Path,
	)
	response.TooManyRequests(w, "Too many requests. Please try again later.", s.logger)
}
