package websocket

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/protocol"
	"github.com/satriahrh/travelbuddy/usecase"
)

const (
	// Time allowed to open a transcription stream.
	beginTimeout = 5 * time.Second

	// Time allowed to transcribe, answer and synthesize one recording.
	respondTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The development backend serves any local client.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active voice clients on the development backend
type Hub struct {
	// Registered clients by connection ID.
	clients map[string]*Client

	// Connection IDs per user; a user may have several tabs open.
	userClients map[string]map[string]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Mutex for thread-safe access to the client maps
	mu sync.RWMutex

	conversation *usecase.ConversationService
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(conversation *usecase.ConversationService, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		userClients:  make(map[string]map[string]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		conversation: conversation,
		metrics:      m,
		logger:       logger,
	}
}

// Run starts the hub's main loop. Cancelling ctx closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			if h.userClients[client.userID] == nil {
				h.userClients[client.userID] = make(map[string]struct{})
			}
			h.userClients[client.userID][client.id] = struct{}{}
			h.mu.Unlock()

			h.metrics.ActiveConnections.Inc()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("userID", client.userID))

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.RLock()
			open := make([]*Client, 0, len(h.clients))
			for _, client := range h.clients {
				open = append(open, client)
			}
			h.mu.RUnlock()

			for _, client := range open {
				client.conn.Close()
				h.remove(client)
			}
			h.logger.Info("Hub stopped", zap.Int("closedClients", len(open)))
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
		delete(h.userClients[client.userID], client.id)
		if len(h.userClients[client.userID]) == 0 {
			delete(h.userClients, client.userID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.ActiveConnections.Dec()
		h.logger.Info("Client unregistered",
			zap.String("clientID", client.id),
			zap.String("userID", client.userID))
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns the number of open connections of one user
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// ExpireRecordings abandons recordings that have been open longer than
// maxAge and returns how many it abandoned
func (h *Hub) ExpireRecordings(maxAge time.Duration) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	expired := 0
	for _, client := range clients {
		if client.expireRecording(maxAge) {
			expired++
		}
	}
	return expired
}

// HandleWebSocket upgrades a /ws/voice request and serves it until the peer
// goes away
func HandleWebSocket(hub *Hub, c echo.Context) error {
	userID := strings.TrimSpace(c.QueryParam("user_id"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	logger := hub.logger.With(zap.String("clientID", id), zap.String("userID", userID))
	client := &Client{
		id:     id,
		userID: userID,
		hub:    hub,
		conn:   newConn(ws, logger),
		logger: logger,
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		client.conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.serve()

	return nil
}

// Client is one /ws/voice connection on the development backend
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *Conn
	logger *zap.Logger

	mu             sync.Mutex
	stream         repositories.SpeechToTextStreaming
	recordingStart time.Time
	chunkCount     int

	// Answers still being produced
	pending sync.WaitGroup
}

// serve processes inbound frames in arrival order until the connection ends
func (c *Client) serve() {
	defer func() {
		c.abandonRecording()
		c.pending.Wait()
		c.conn.Close()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	for payload := range c.conn.Inbound() {
		c.processMessage(payload)
	}

	if err := c.conn.Err(); err != nil {
		c.logger.Warn("Connection ended with error", zap.Error(err))
	}
}

// processMessage processes one frame from the client
func (c *Client) processMessage(payload []byte) {
	msg, err := protocol.DecodeOutbound(payload)
	if err != nil {
		msgType, peekErr := protocol.PeekType(payload)
		switch {
		case peekErr != nil:
			c.sendError(fmt.Sprintf("Invalid message: %v", peekErr))
		case !protocol.IsOutbound(msgType):
			c.logger.Warn("Unknown message type", zap.String("type", string(msgType)))
			c.sendError(fmt.Sprintf("Unknown message type: %s", msgType))
		default:
			c.sendError(err.Error())
		}
		return
	}

	switch m := msg.(type) {
	case protocol.StartRecording:
		c.handleStartRecording()
	case protocol.AudioChunk:
		c.handleAudioChunk(m.Audio)
	case protocol.StopRecording:
		c.handleStopRecording()
	case protocol.Chat:
		c.handleChat(m)
	case protocol.Ping:
		c.send(protocol.Pong{Timestamp: m.Timestamp})
	}
}

func (c *Client) handleStartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		// A second start restarts the recording.
		c.logger.Warn("Recording restarted before stop", zap.Int("chunks", c.chunkCount))
		c.stream.End()
		c.stream = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), beginTimeout)
	defer cancel()

	stream, err := c.hub.conversation.BeginUtterance(ctx, c.userID)
	if err != nil {
		c.logger.Error("Failed to start recording", zap.Error(err))
		c.sendError("Failed to start recording")
		return
	}

	c.stream = stream
	c.recordingStart = time.Now()
	c.chunkCount = 0
	c.send(protocol.Info{Message: "Recording started"})
}

func (c *Client) handleAudioChunk(audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		c.logger.Debug("Dropping audio chunk outside a recording", zap.Int("size", len(audio)))
		return
	}

	c.chunkCount++
	if err := c.stream.Stream(audio); err != nil {
		c.logger.Error("Failed to stream audio data",
			zap.Int("chunk", c.chunkCount),
			zap.Error(err))
	}
}

func (c *Client) handleStopRecording() {
	c.mu.Lock()
	stream := c.stream
	started := c.recordingStart
	chunks := c.chunkCount
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		c.sendError("No active recording")
		return
	}

	c.logger.Info("Recording stopped",
		zap.Int("chunks", chunks),
		zap.Duration("duration", time.Since(started)))

	c.pending.Add(1)
	go c.respond(stream)
}

// respond answers one recording with transcription, response and
// audio_response, in that order
func (c *Client) respond(stream repositories.SpeechToTextStreaming) {
	defer c.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
	defer cancel()

	turn, err := c.hub.conversation.CompleteUtterance(ctx, c.userID, stream)
	if err != nil {
		c.logger.Error("Failed to answer recording", zap.Error(err))
		c.sendError("Failed to process recording")
		return
	}
	c.hub.metrics.Utterances.Inc()

	c.send(protocol.Transcription{Text: turn.Transcript})
	c.send(protocol.Response{Reply: turn.Reply})
	if len(turn.Audio) > 0 {
		c.send(protocol.AudioResponse{Audio: base64.StdEncoding.EncodeToString(turn.Audio)})
	}
}

func (c *Client) handleChat(m protocol.Chat) {
	userID := m.UserID
	if userID == "" {
		userID = c.userID
	}

	ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
	defer cancel()

	// Reply always carries a message, even alongside an error.
	reply, err := c.hub.conversation.Chat(ctx, domain.ChatRequest{Message: m.Message, UserID: userID})
	if err != nil {
		c.logger.Warn("Chat answered with fallback", zap.Error(err))
	}
	c.send(protocol.ChatReply{Reply: reply})
}

// abandonRecording drops an open recording without answering it
func (c *Client) abandonRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonRecordingLocked()
}

func (c *Client) abandonRecordingLocked() bool {
	if c.stream == nil {
		return false
	}
	c.stream.End()
	c.stream = nil
	c.logger.Info("Recording abandoned",
		zap.Int("chunks", c.chunkCount),
		zap.Duration("duration", time.Since(c.recordingStart)))
	return true
}

// expireRecording abandons the recording if it is older than maxAge. The
// age check and the abandon share one lock hold so a restarted recording is
// never mistaken for the stale one.
func (c *Client) expireRecording(maxAge time.Duration) bool {
	c.mu.Lock()
	expired := c.stream != nil && time.Since(c.recordingStart) > maxAge && c.abandonRecordingLocked()
	c.mu.Unlock()

	if !expired {
		return false
	}
	c.sendError("Recording timed out")
	return true
}

func (c *Client) sendError(message string) {
	c.send(protocol.ServerError{Message: message})
}

func (c *Client) send(msg protocol.Inbound) {
	payload, err := protocol.EncodeInbound(msg)
	if err != nil {
		c.logger.Error("Failed to encode message",
			zap.String("type", string(msg.InboundType())),
			zap.Error(err))
		return
	}
	if err := c.conn.Send(payload); err != nil {
		c.logger.Warn("Failed to queue message",
			zap.String("type", string(msg.InboundType())),
			zap.Error(err))
	}
}
