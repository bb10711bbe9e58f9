// Package coordtest provides an in-process coordination server for tests.
// Tests script it: Push sends server messages to every connected client and
// Next returns client messages in arrival order.
package coordtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/events"
)

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*conn]bool
	authz     []string
	received  chan events.Outbound
	connected chan struct{}
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:     make(map[*conn]bool),
		received:  make(chan events.Outbound, 256),
		connected: make(chan struct{}, 16),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the ws:// endpoint clients dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Authorizations returns the Authorization header of every accepted connection.
func (s *Server) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authz...)
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitConnected blocks until a client connection has been accepted.
func (s *Server) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push sends a server → client message to every connected client.
func (s *Server) Push(msg events.Inbound) error {
	payload, err := events.Encode(msg)
	if err != nil {
		return err
	}
	return s.PushRaw(payload)
}

// PushRaw sends an arbitrary frame, for protocol error cases.
func (s *Server) PushRaw(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return fmt.Errorf("no connected clients")
	}
	for c := range s.conns {
		c.send <- payload
	}
	return nil
}

// Next returns the next client → server message.
func (s *Server) Next(ctx context.Context) (events.Outbound, error) {
	select {
	case msg := <-s.received:
		return msg, nil
	case <-ctx.Done():
		return events.Outbound{}, ctx.Err()
	}
}

// DropAll closes every client connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.drop(c)
	}
}

func (s *Server) drop(c *conn) {
	c.once.Do(func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		close(c.send)
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, 64)}

	s.mu.Lock()
	s.conns[c] = true
	s.authz = append(s.authz, r.Header.Get("Authorization"))
	s.mu.Unlock()

	select {
	case s.connected <- struct{}{}:
	default:
	}

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) writePump(c *conn) {
	defer c.ws.Close()
	for message := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
}

func (s *Server) readPump(c *conn) {
	defer s.drop(c)
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg events.Outbound
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn().Err(err).Msg("coordtest: undecodable client message")
			continue
		}
		s.received <- msg
	}
}
