package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/clients"
	"github.com/mcdev12/handduel/go/internal/duel/events"
)

// ErrNotConnected is returned by Send when no transport is open.
var ErrNotConnected = errors.New("session channel not connected")

// ErrSendBufferFull is returned by Send when the write pump has fallen behind.
var ErrSendBufferFull = errors.New("session channel send buffer full")

// Config holds configuration for the coordination connection
type Config struct {
	URL              string
	Tokens           clients.TokenSource
	DialAttempts     int
	DialBackoff      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	HandshakeTimeout time.Duration
}

// DefaultConfig returns default connection configuration
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		DialAttempts:     3,
		DialBackoff:      500 * time.Millisecond,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024, // SDP offers exceed a few KB
		SendBufferSize:   64,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Channel is the duplex message channel to the coordination server. It never
// reconnects by itself: after a disconnect the owner must call Connect again.
type Channel struct {
	cfg    Config
	clock  clockwork.Clock
	dialer *websocket.Dialer

	mu             sync.Mutex
	current        *link
	onMessage      func(events.Inbound)
	onDisconnect   func(error)
	onProtocolErrs func(error)
}

// link is one open transport; a reconnect gets a fresh link.
type link struct {
	ch   *Channel
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func New(cfg Config, clock clockwork.Clock) *Channel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Channel{
		cfg:   cfg,
		clock: clock,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// OnMessage registers the dispatcher for decoded inbound messages. It is
// invoked from the read goroutine, once per message, in arrival order.
func (c *Channel) OnMessage(fn func(events.Inbound)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnDisconnect registers the handler for transport closures not initiated by Close.
func (c *Channel) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// OnProtocolError registers the handler for frames that could not be decoded.
func (c *Channel) OnProtocolError(fn func(error)) {
	c.mu.Lock()
	c.onProtocolErrs = fn
	c.mu.Unlock()
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Connect opens the transport, retrying the dial with linear backoff. It
// returns once the connection is open; calling it while connected is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	header := http.Header{}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get credential: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	attempts := max(c.cfg.DialAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
		if err == nil {
			c.attach(conn)
			log.Info().Str("url", c.cfg.URL).Int("attempt", attempt).Msg("session channel connected")
			return nil
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("failed to dial coordination server")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.DialBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}

func (c *Channel) attach(conn *websocket.Conn) {
	l := &link{
		ch:   c,
		conn: conn,
		send: make(chan []byte, max(c.cfg.SendBufferSize, 1)),
		done: make(chan struct{}),
	}
	c.mu.Lock()
	c.current = l
	c.mu.Unlock()

	go l.writePump()
	go l.readPump()
}

// Send enqueues a message. Failures are logged; the caller decides whether to retry.
func (c *Channel) Send(msg events.Outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Action, err)
	}

	c.mu.Lock()
	l := c.current
	c.mu.Unlock()
	if l == nil {
		log.Warn().Str("action", string(msg.Action)).Msg("dropping message, session channel not connected")
		return ErrNotConnected
	}

	select {
	case <-l.done:
		log.Warn().Str("action", string(msg.Action)).Msg("dropping message, session channel closed")
		return ErrNotConnected
	case l.send <- payload:
		return nil
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("session channel send buffer full, dropping message")
		return ErrSendBufferFull
	}
}

// Close shuts the current transport without reporting a disconnect.
func (c *Channel) Close() error {
	c.mu.Lock()
	l := c.current
	c.mu.Unlock()
	if l != nil {
		l.shutdown(nil, false)
	}
	return nil
}

// shutdown detaches the link and, for transport failures, notifies the owner once.
func (l *link) shutdown(cause error, notify bool) {
	l.once.Do(func() {
		close(l.done)

		c := l.ch
		c.mu.Lock()
		if c.current == l {
			c.current = nil
		}
		handler := c.onDisconnect
		c.mu.Unlock()

		if notify {
			log.Warn().Err(cause).Msg("session channel disconnected")
			if handler != nil {
				handler(cause)
			}
		}
	})
}

// writePump owns all writes to the connection.
func (l *link) writePump() {
	cfg := l.ch.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Msg("failed to write message to session channel")
				l.shutdown(err, true)
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to send ping")
				l.shutdown(err, true)
				return
			}
		}
	}
}

// readPump decodes inbound frames and hands them to the dispatcher in order.
func (l *link) readPump() {
	cfg := l.ch.cfg
	l.conn.SetReadLimit(cfg.MaxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				// closed locally
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Msg("unexpected session channel close")
				}
				l.shutdown(err, true)
			}
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		msg, err := events.Decode(message)
		if err != nil {
			log.Warn().Err(err).RawJSON("message", rawOrQuoted(message)).Msg("ignoring undecodable message")
			l.ch.mu.Lock()
			handler := l.ch.onProtocolErrs
			l.ch.mu.Unlock()
			if handler != nil {
				handler(err)
			}
			continue
		}

		l.ch.mu.Lock()
		handler := l.ch.onMessage
		l.ch.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func rawOrQuoted(message []byte) []byte {
	if json.Valid(message) {
		return message
	}
	quoted, _ := json.Marshal(string(message))
	return quoted
}
