package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/util"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
)

// Verifier resolves the handshake token to a caller.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.Caller, error)
}

// Server upgrades authenticated requests to websockets and joins them to
// their topics. Authentication and classification both finish before the
// upgrade, so a refused connection never appears in the registry.
type Server struct {
	hub      *Hub
	verifier Verifier
	classify Classifier
	buffer   int
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
}

type ServerOptions struct {
	SendBuffer int
	// CheckOrigin overrides the upgrader's origin policy. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
}

func NewServer(hub *Hub, verifier Verifier, classify Classifier, opts ServerOptions, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		hub:      hub,
		verifier: verifier,
		classify: classify,
		buffer:   opts.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.WithField("component", "realtime"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	caller, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		status, code, message := http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication error"
		if errors.Is(err, identity.ErrDisabled) {
			status, code, message = http.StatusForbidden, "FORBIDDEN", "Account disabled"
		}
		s.logger.WithError(err).Info("realtime handshake refused")
		refuse(w, status, code, message)
		return
	}

	topics, err := s.classify(r.Context(), caller)
	if err != nil {
		if errors.Is(err, ErrProfileIncomplete) {
			s.logger.WithField("user_id", caller.ID).Info("realtime handshake refused: donor without blood type")
			refuse(w, http.StatusForbidden, "PROFILE_INCOMPLETE", "Donor profile incomplete")
			return
		}
		s.logger.WithError(err).Error("realtime classification failed")
		refuse(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := NewClient(util.NewID("conn"), caller, s.buffer)
	registry := s.hub.Registry()
	registry.Join(client, topics...)
	s.logger.WithFields(logrus.Fields{
		"client_id": client.ID(),
		"user_id":   caller.ID,
		"role":      string(caller.Role),
		"topics":    registry.Topics(client),
	}).Info("realtime connected")

	go s.writePump(conn, client)
	s.readPump(conn, client)

	registry.LeaveAll(client)
	client.Close()
	s.logger.WithField("client_id", client.ID()).Info("realtime disconnected")
}

// readPump only services control frames; clients send no commands over the socket.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).WithField("client_id", client.ID()).Debug("realtime read ended")
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func refuse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "error": message})
}
