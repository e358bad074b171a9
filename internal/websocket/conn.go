package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024 * 1024 // audio_response frames carry whole clips

	// Outbound frames buffered before Send starts dropping.
	sendBufferSize = 256

	// Time Close waits for the writer to flush before tearing down.
	closeGracePeriod = time.Second
)

// ErrSendBufferFull is returned by Send when the writer cannot keep up
var ErrSendBufferFull = fmt.Errorf("%w: send buffer full", domain.ErrTransport)

// Conn is one end of a /ws/voice connection. It serves both the client
// dialer and the development hub; reads and writes each run in their own
// pump goroutine.
type Conn struct {
	conn *websocket.Conn

	// Buffered channel of outbound text frames.
	send chan []byte

	// Received text frames, closed when the read pump exits.
	inbound chan []byte

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	mu  sync.Mutex
	err error

	writeWait time.Duration
	logger    *zap.Logger
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	return newConnWithWriteWait(ws, writeWait, logger)
}

func newConnWithWriteWait(ws *websocket.Conn, wait time.Duration, logger *zap.Logger) *Conn {
	c := &Conn{
		conn:       ws,
		send:       make(chan []byte, sendBufferSize),
		inbound:    make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		writeWait:  wait,
		logger:     logger,
	}

	go c.writePump()
	go c.readPump()

	return c
}

// Send queues one text frame. It never blocks: a closed connection yields
// domain.ErrChannelClosed and a full buffer yields ErrSendBufferFull.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return domain.ErrChannelClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Inbound yields text frames in arrival order
func (c *Conn) Inbound() <-chan []byte {
	return c.inbound
}

// Done is closed once the connection starts shutting down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns what ended the connection. It is nil while the connection is
// open and after a normal close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame, waits briefly for queued frames to flush and
// releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)

	select {
	case <-c.writerDone:
	case <-time.After(closeGracePeriod):
	}
	return c.conn.Close()
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump pumps frames from the websocket connection to Inbound.
func (c *Conn) readPump() {
	defer func() {
		close(c.inbound)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(classifyReadError(err))
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Ignoring non-text frame", zap.Int("type", messageType))
			continue
		}

		select {
		case c.inbound <- message:
		case <-c.done:
			return
		}
	}
}

// writePump pumps queued frames to the websocket connection and keeps it
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.shutdown(&domain.TransportError{Op: "write", Err: err})
				// Unblock the read pump so Inbound closes now.
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(&domain.TransportError{Op: "ping", Err: err})
				c.conn.Close()
				return
			}

		case <-c.done:
			c.drain()
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeWait),
			)
			return
		}
	}
}

// drain writes frames that were queued before the close started
func (c *Conn) drain() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return &domain.TransportError{Op: "read", Err: err}
}
