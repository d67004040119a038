package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultSendQueueSize = 64
	writeTimeout         = 10 * time.Second
	closeGraceWait       = 500 * time.Millisecond
)

// Conn is the channel surface the session controller depends on. *Channel
// implements it; tests substitute fakes.
type Conn interface {
	// Send enqueues one JSON envelope. It is fire-and-forget: delivery is
	// asynchronous and no backpressure is exposed upward.
	Send(v interface{}) error
	// Messages yields raw inbound messages until the channel closes.
	Messages() <-chan []byte
	// Done is closed once the channel is no longer usable.
	Done() <-chan struct{}
	// Err reports why the channel closed. It returns nil after a normal
	// closure and a non-nil error after an abnormal one.
	Err() error
	// CloseNormal performs an intentional shutdown with a normal-closure
	// frame.
	CloseNormal()
}

// DialFunc opens a channel to the backend. The session controller takes one
// so tests can inject fake connections.
type DialFunc func(ctx context.Context) (Conn, error)

// Config contains channel configuration.
type Config struct {
	Endpoint         string        // ws:// or wss:// URL of the streaming endpoint
	AuthToken        string        // Optional bearer token added to the handshake
	HandshakeTimeout time.Duration // Bound on the WebSocket handshake
	SendQueueSize    int           // Outbound queue depth before Send fails
}

// Channel is a WebSocket-backed implementation of Conn.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	outbound chan interface{}
	inbound  chan []byte
	done     chan struct{}

	closeOnce   sync.Once
	intentional bool
	closeErr    error
	mu          sync.Mutex
}

// Dial opens the WebSocket connection and starts the reader and writer loops.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Channel, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	var header http.Header
	if cfg.AuthToken != "" {
		header = http.Header{"Authorization": {"Bearer " + cfg.AuthToken}}
	}

	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Endpoint, err)
	}

	c := &Channel{
		conn:     conn,
		logger:   logger,
		outbound: make(chan interface{}, queueSize),
		inbound:  make(chan []byte, 32),
		done:     make(chan struct{}),
	}

	go c.readLoop()
	go c.writeLoop()

	logger.Debug("Channel opened", slog.String("endpoint", cfg.Endpoint))

	return c, nil
}

// Send enqueues one envelope for delivery. It fails only when the channel is
// closed or the outbound queue is full; rate limiting is the caller's job.
func (c *Channel) Send(v interface{}) error {
	select {
	case <-c.done:
		return fmt.Errorf("channel is closed")
	default:
	}

	select {
	case c.outbound <- v:
		return nil
	default:
		return fmt.Errorf("outbound queue full")
	}
}

// Messages returns the inbound message channel.
func (c *Channel) Messages() <-chan []byte {
	return c.inbound
}

// Done returns a channel closed when the connection is no longer usable.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports the close cause. Nil means the channel closed normally.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// CloseNormal sends a normal-closure frame, waits briefly for the peer to
// acknowledge, then tears the connection down. The read loop treats the
// resulting close as intentional.
func (c *Channel) CloseNormal() {
	c.mu.Lock()
	c.intentional = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("Failed to write close frame", slog.String("error", err.Error()))
	}

	// Give the peer a moment to echo the close frame so the read loop
	// observes a clean shutdown before the socket disappears.
	select {
	case <-c.done:
	case <-time.After(closeGraceWait):
	}

	c.shutdown(nil)
}

// readLoop pumps inbound messages until the connection drops.
func (c *Channel) readLoop() {
	defer close(c.inbound)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			c.mu.Unlock()

			if intentional || isNormalClose(err) {
				c.shutdown(nil)
			} else {
				c.shutdown(fmt.Errorf("channel closed unexpectedly: %w", err))
			}
			return
		}

		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

// writeLoop is the single writer for the connection.
func (c *Channel) writeLoop() {
	for {
		select {
		case v := <-c.outbound:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.shutdown(fmt.Errorf("failed to set write deadline: %w", err))
				return
			}
			if err := c.conn.WriteJSON(v); err != nil {
				c.mu.Lock()
				intentional := c.intentional
				c.mu.Unlock()
				if intentional {
					c.shutdown(nil)
				} else {
					c.shutdown(fmt.Errorf("write failed: %w", err))
				}
				return
			}
		case <-c.done:
			return
		}
	}
}

// shutdown records the close cause once and closes the socket.
func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = cause
		c.mu.Unlock()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", slog.String("error", err.Error()))
		}
		close(c.done)
	})
}

// isNormalClose reports whether err represents an intentional peer shutdown.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Dialer builds a DialFunc bound to one configuration, the shape the session
// controller consumes.
func Dialer(cfg Config, logger *slog.Logger) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		return Dial(ctx, cfg, logger)
	}
}
