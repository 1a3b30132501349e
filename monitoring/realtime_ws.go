package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType tags every frame sent to dashboards.
type MessageType string

const (
	PredictionMade    MessageType = "prediction"
	ArtifactsReloaded MessageType = "artifacts_reloaded"
	Heartbeat         MessageType = "heartbeat"
)

const (
	writeWait         = 10 * time.Second
	pingInterval      = 30 * time.Second
	heartbeatInterval = 15 * time.Second
	sendQueue         = 256
)

// Message is the envelope for every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionEvent is what dashboards see when a stored prediction is made.
type PredictionEvent struct {
	UserID       string    `json:"user_id"`
	Prediction   int       `json:"prediction"`
	Probability  float64   `json:"probability"`
	RiskCategory string    `json:"risk_category"`
	Timestamp    time.Time `json:"timestamp"`
}

// HeartbeatEvent tells dashboards the feed is alive while nothing else happens.
type HeartbeatEvent struct {
	Clients int `json:"clients"`
}

// ReloadEvent reports an artifact reload. Error is set when it failed.
type ReloadEvent struct {
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

// ClientMessage is sent by dashboards to narrow what they receive.
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Client is one websocket connection and its topic filter.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.RWMutex
	subscriptions map[MessageType]bool
}

// wants reports whether the client should receive t; a client with no
// subscriptions receives everything.
func (c *Client) wants(t MessageType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type outbound struct {
	kind    MessageType
	payload []byte
}

// PredictionFeed fans prediction and reload events out to websocket clients.
type PredictionFeed struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	heartbeatEvery time.Duration
}

// NewPredictionFeed returns a feed that is idle until Run is called.
func NewPredictionFeed(logger *zap.Logger) *PredictionFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PredictionFeed{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendQueue),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		heartbeatEvery: heartbeatInterval,
	}
}

// Run services registrations and broadcasts until Stop is called. While
// clients are connected it also queues a heartbeat message every interval.
func (h *PredictionFeed) Run() {
	defer close(h.done)
	defer h.logger.Info("prediction feed stopped")

	heartbeat := time.NewTicker(h.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-heartbeat.C:
			if n := h.ClientCount(); n > 0 {
				h.publish(Heartbeat, HeartbeatEvent{Clients: n})
			}

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("feed client connected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("feed client disconnected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.kind) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client and waits for Run to return.
func (h *PredictionFeed) Stop() {
	h.cancel()
	<-h.done
}

// ClientCount returns the number of connected clients.
func (h *PredictionFeed) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the connection to the feed.
func (h *PredictionFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, sendQueue),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// PublishPrediction queues a prediction event; it never blocks the caller.
func (h *PredictionFeed) PublishPrediction(event PredictionEvent) {
	h.publish(PredictionMade, event)
}

// PublishReload queues a reload outcome; it never blocks the caller.
func (h *PredictionFeed) PublishReload(generation uint64, err error) {
	event := ReloadEvent{Generation: generation}
	if err != nil {
		event.Error = err.Error()
	}
	h.publish(ArtifactsReloaded, event)
}

func (h *PredictionFeed) publish(kind MessageType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode feed event", zap.Error(err))
		return
	}
	frame, err := json.Marshal(Message{
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Data:      payload,
		ID:        uuid.NewString(),
	})
	if err != nil {
		h.logger.Error("encode feed message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{kind: kind, payload: frame}:
	default:
		h.logger.Warn("feed broadcast queue is full, dropping message", zap.String("type", string(kind)))
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client_id", c.clientID), zap.Error(err))
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

func (c *Client) readPump(h *PredictionFeed) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", zap.String("client_id", c.clientID), zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[MessageType(msg.Topic)] = true
	case "unsubscribe":
		delete(c.subscriptions, MessageType(msg.Topic))
	}
}
