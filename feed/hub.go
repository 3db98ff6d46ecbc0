package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HubConfig holds configuration for spectator connections
type HubConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
	CheckOrigin  func(r *http.Request) bool
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   16,
		CheckOrigin: func(r *http.Request) bool {
			// Spectators are read-only.
			return true
		},
	}
}

// Hub serves a WebSocket endpoint and pushes every published payload to all
// connected spectators. New spectators get the latest payload right away.
type Hub struct {
	upgrader websocket.Upgrader
	config   HubConfig

	mu      sync.RWMutex
	clients map[*spectator]bool
	last    []byte
}

type spectator struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func NewHub(config HubConfig) *Hub {
	d := DefaultHubConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = d.SendBuffer
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		clients: make(map[*spectator]bool),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade spectator connection")
		return
	}

	s := &spectator{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[s] = true
	if h.last != nil {
		s.send <- h.last
	}
	total := len(h.clients)
	h.mu.Unlock()

	go s.writePump()
	go s.readPump()

	log.Info().
		Str("spectator_id", s.id).
		Str("remote", r.RemoteAddr).
		Int("total", total).
		Msg("spectator connected")
}

func (h *Hub) unregister(s *spectator) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.send)
		log.Info().Str("spectator_id", s.id).Msg("spectator disconnected")
	}
}

// Count returns the number of connected spectators.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans p out to every spectator. A spectator whose buffer is full
// is dropped.
func (h *Hub) Publish(ctx context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	h.mu.Lock()
	h.last = data
	var slow []*spectator
	for s := range h.clients {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		log.Warn().Str("spectator_id", s.id).Msg("spectator too slow, closing connection")
		h.unregister(s)
		s.conn.Close()
	}
	return nil
}

// Close disconnects every spectator.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*spectator, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.mu.Unlock()

	for _, s := range clients {
		h.unregister(s)
	}
}

func (s *spectator) writePump() {
	ticker := time.NewTicker(s.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.hub.unregister(s)
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("spectator_id", s.id).Msg("failed to write snapshot")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames; spectators cannot send commands.
func (s *spectator) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("spectator_id", s.id).Msg("unexpected spectator close")
			}
			return
		}
	}
}
