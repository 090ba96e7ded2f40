package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tberthier/minstrel/internal/fanout"
	"github.com/tberthier/minstrel/internal/status"
)

// SubscriptionHub sequences the subscription lifecycle for sessions.
// Defined at the consumer side per Go conventions; the fanout coordinator
// implements it.
type SubscriptionHub interface {
	Subscribe(sess fanout.Session, taskID, token string) (*status.Snapshot, error)
	Unsubscribe(sessionID string)
	Disconnect(sessionID string)
}

// TokenVerifier authenticates a connection-time bearer token.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Server upgrades realtime connections and translates wire frames into hub
// calls.
type Server struct {
	hub            SubscriptionHub
	verifier       TokenVerifier
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

// NewServer creates a Server. allowedOrigins, when non-empty, replaces the
// default same-host/localhost origin policy.
func NewServer(hub SubscriptionHub, verifier TokenVerifier, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		hub:            hub,
		verifier:       verifier,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logger,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	return s
}

// Register mounts the realtime endpoint on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/ws", s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s.logger)
	s.logger.Info("client connected", "session_id", c.ID(), "remote", r.RemoteAddr)

	// Optional eager authentication. A bad query token is not fatal: the
	// session can still present one on subscribe.
	if token := r.URL.Query().Get("token"); token != "" {
		if userID, err := s.verifier.VerifyToken(token); err == nil {
			c.Bind(userID)
		} else {
			s.logger.Debug("query token rejected", "session_id", c.ID())
		}
	}

	s.readLoop(c)
}

// readLoop consumes frames until the connection drops, then releases
// everything the session holds.
func (s *Server) readLoop(c *Client) {
	defer func() {
		s.hub.Disconnect(c.ID())
		c.close()
		s.logger.Info("client disconnected", "session_id", c.ID())
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, data)
	}
}

func (s *Server) dispatch(c *Client, data []byte) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Debug("discarding malformed frame", "session_id", c.ID(), "error", err)
		return
	}

	switch evt.Kind {
	case EventSubscribe:
		s.handleSubscribe(c, evt)
	case EventUnsubscribe:
		s.hub.Unsubscribe(c.ID())
	case EventPing:
		if err := c.sendMessage(Message{Type: MsgPong}); err != nil {
			s.logger.Debug("pong not delivered", "session_id", c.ID())
		}
	default:
		s.logger.Debug("ignoring unknown event", "session_id", c.ID(), "kind", evt.Kind)
	}
}

func (s *Server) handleSubscribe(c *Client, evt Event) {
	if evt.TaskID == "" {
		c.sendError(CodeMissingTaskID, "subscribe requires a task_id")
		return
	}

	snap, err := s.hub.Subscribe(c, evt.TaskID, evt.Token)
	if err != nil {
		switch {
		case errors.Is(err, fanout.ErrAuthRequired):
			c.sendError(CodeAuthRequired, "authentication required")
		case errors.Is(err, fanout.ErrForbidden):
			c.sendError(CodeForbidden, "task belongs to another user")
		default:
			s.logger.Error("subscribe failed", "session_id", c.ID(), "task_id", evt.TaskID, "error", err)
			c.sendError(CodeForbidden, "subscription rejected")
		}
		return
	}

	if err := c.sendMessage(Message{Type: MsgSubscribed, Payload: SubscribedPayload{TaskID: evt.TaskID}}); err != nil {
		s.logger.Debug("subscribed ack not delivered", "session_id", c.ID())
	}
	if err := c.SendStatus(*snap); err != nil {
		s.logger.Debug("catch-up not delivered", "session_id", c.ID())
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
