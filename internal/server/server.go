// Package server bridges browser sliders to the device volume monitor over
// a local WebSocket connection. Outbound, it broadcasts every published
// volume transition; inbound, it forwards set-volume requests to the
// monitor, rate limited per client.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/monitor"
	"github.com/anden3/volume-sync/internal/ratelimit"
	"github.com/anden3/volume-sync/pkg/model"
)

const (
	clientIDBytes  = 8
	sendBufferSize = 16

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Server is the WebSocket hub.
type Server struct {
	logger  *zap.Logger
	mon     *monitor.Monitor
	limiter *ratelimit.Limiter

	upgrader websocket.Upgrader

	clientsMu  sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when the hub loop exits
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit overrides the per-client set-volume limit.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Server) { s.limiter = ratelimit.New(limit, window) }
}

func New(logger *zap.Logger, mon *monitor.Monitor, opts ...Option) *Server {
	s := &Server{
		logger:     logger,
		mon:        mon,
		limiter:    ratelimit.New(ratelimit.DefaultSetVolumeLimit, ratelimit.DefaultWindow),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving the embedded slider UI at / and
// the WebSocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run drives the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go s.watchVolume(ctx)

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			// Unblocks pump goroutines still trying to register or
			// unregister against the stopped hub.
			close(s.done)
			return

		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c] = struct{}{}
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.logger.Info("client connected",
				zap.String("client", c.id), zap.Int("clients", count))

			// Snapshot so a fresh slider shows the current state without
			// waiting for the next transition.
			c.trySend(marshalVolume(s.mon.Volume()))

		case c := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.limiter.Forget(c.id)
			s.logger.Info("client disconnected",
				zap.String("client", c.id), zap.Int("clients", count))

		case payload := <-s.broadcast:
			s.clientsMu.Lock()
			for c := range s.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(s.clients, c)
					close(c.send)
				}
			}
			s.clientsMu.Unlock()
		}
	}
}

// watchVolume forwards published volume transitions to all clients.
func (s *Server) watchVolume(ctx context.Context) {
	rx := s.mon.Watch()
	for {
		v, err := rx.Changed(ctx)
		if err != nil {
			return
		}
		select {
		case s.broadcast <- marshalVolume(v):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) closeAll() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	id, err := generateClientID()
	if err != nil {
		s.logger.Error("failed to generate client ID", zap.Error(err))
		conn.Close()
		return
	}

	c := &client{conn: conn, id: id, send: make(chan []byte, sendBufferSize), server: s}
	select {
	case s.register <- c:
	case <-s.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func marshalVolume(v monitor.Volume) []byte {
	payload, err := json.Marshal(model.VolumeMessage{
		Type:      model.MessageTypeVolume,
		Available: v.Available,
		Level:     v.Level,
	})
	if err != nil {
		// Marshaling a flat struct of scalars cannot fail.
		panic(err)
	}
	return payload
}

func generateClientID() (string, error) {
	b := make([]byte, clientIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// checkOrigin admits same-origin and local requests only; this server
// controls the host's volume and is not meant to be reachable from
// arbitrary web pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	return host == requestHost
}

type client struct {
	conn   *websocket.Conn
	id     string
	send   chan []byte
	server *Server
}

// trySend enqueues without blocking the hub loop.
func (c *client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *client) readPump() {
	s := c.server
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error",
					zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req model.SetVolumeRequest
		if err := json.Unmarshal(message, &req); err != nil || req.Type != model.MessageTypeSetVolume {
			s.logger.Warn("invalid request",
				zap.String("client", c.id), zap.ByteString("message", message))
			c.sendError("invalid request, expected {\"type\":\"setVolume\",\"level\":float}")
			continue
		}

		if !s.limiter.Allow(c.id) {
			s.logger.Warn("set-volume request rate limited", zap.String("client", c.id))
			c.sendError("rate limit exceeded")
			continue
		}

		// Fire and forget; the monitor clamps and may drop the request if
		// no device is available.
		s.mon.SetVolume(req.Level)
	}
}

func (c *client) sendError(message string) {
	payload, err := json.Marshal(model.ErrorMessage{
		Type:    model.MessageTypeError,
		Message: message,
	})
	if err != nil {
		return
	}
	c.trySend(payload)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
