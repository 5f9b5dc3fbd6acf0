package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-das/internal/doa"
	"github.com/teslashibe/go-das/internal/protocol"
)

// wsClient serializes writes to one connection
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and broadcasts tracker results
type WSHub struct {
	tracker *doa.Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	stopCtx  context.Context
	stopFunc context.CancelFunc
	started  bool
	done     chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(tracker *doa.Tracker, logger *slog.Logger) *WSHub {
	stopCtx, stopFunc := context.WithCancel(context.Background())

	return &WSHub{
		tracker:  tracker,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*wsClient),
		stopCtx:  stopCtx,
		stopFunc: stopFunc,
		done:     make(chan struct{}),
	}
}

// Run forwards every tracker result to connected clients until ctx is
// done or the hub is closed. Calls after the first return immediately.
func (h *WSHub) Run(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()
	defer close(h.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(h.stopCtx, cancel)()

	if h.tracker == nil {
		<-ctx.Done()
		return
	}

	updates := h.tracker.Subscribe()
	defer h.tracker.Unsubscribe(updates)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case result, ok := <-updates:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "tracker closed")
				return
			}

			msg, err := protocol.NewDOAMessage(protocol.DOAData{
				Angle:         result.Angle,
				SmoothedAngle: result.SmoothedAngle,
				PeakRMS:       result.PeakRMS,
				Contrast:      result.Contrast,
				Confidence:    result.Confidence,
			})
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if err := client.send(msg); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the DOA stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.handleCommand(client, data)
	}
}

func (h *WSHub) handleCommand(client *wsClient, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.reply(client, errorMessage(err))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		h.reply(client, &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})

	case protocol.TypeSweep:
		if h.tracker == nil {
			return
		}
		reply, err := protocol.NewSweepMessage(h.tracker.Range(), h.tracker.LatestSweep())
		if err != nil {
			h.logger.Warn("websocket marshal error", "error", err)
			return
		}
		h.reply(client, reply)

	case protocol.TypeRange:
		if h.tracker == nil {
			return
		}
		r, err := msg.GetRange()
		if err == nil {
			err = h.tracker.SetRange(r)
		}
		if err != nil {
			h.reply(client, errorMessage(err))
			return
		}
		reply, _ := protocol.NewRangeMessage(r)
		h.reply(client, reply)
	}
}

func (h *WSHub) reply(client *wsClient, msg *protocol.Message) {
	if msg == nil {
		return
	}
	if err := client.send(msg); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

func errorMessage(err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(err)
	return msg
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.stopFunc()

	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}
