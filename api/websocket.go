package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon only listens on localhost
	},
}

// WSEventType event type
type WSEventType string

const (
	EventConnected     WSEventType = "connected"
	EventKeyringUpdate WSEventType = "keyring_update"
	EventSignRequest   WSEventType = "sign_request"
	EventSignResolved  WSEventType = "sign_resolved"
	EventScannerState  WSEventType = "scanner_state"
)

// WSMessage WebSocket message structure
type WSMessage struct {
	Event WSEventType `json:"event"`
	Data  interface{} `json:"data"`
}

// KeyringStateProvider provides the current keyring state
type KeyringStateProvider func() keyring.Update

// PendingRequestsProvider provides the sign requests waiting for an answer
type PendingRequestsProvider func() []signer.Request

// WSHub client connection management
type WSHub struct {
	clients                 map[*WSClient]bool
	broadcast               chan WSMessage
	register                chan *WSClient
	unregister              chan *WSClient
	done                    chan struct{}
	mu                      sync.RWMutex
	keyringStateProvider    KeyringStateProvider
	pendingRequestsProvider PendingRequestsProvider
}

// WSClient WebSocket client
type WSClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates new Hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// SetKeyringStateProvider sets the keyring state provider callback
func (h *WSHub) SetKeyringStateProvider(provider KeyringStateProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keyringStateProvider = provider
}

// SetPendingRequestsProvider sets the pending sign request provider callback
func (h *WSHub) SetPendingRequestsProvider(provider PendingRequestsProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingRequestsProvider = provider
}

// getKeyringStateMessage gets current keyring state message
func (h *WSHub) getKeyringStateMessage() []byte {
	h.mu.RLock()
	provider := h.keyringStateProvider
	h.mu.RUnlock()

	if provider == nil {
		return nil
	}
	data, _ := json.Marshal(WSMessage{Event: EventKeyringUpdate, Data: provider()})
	return data
}

// getPendingRequestMessages gets one sign_request message per pending request
func (h *WSHub) getPendingRequestMessages() [][]byte {
	h.mu.RLock()
	provider := h.pendingRequestsProvider
	h.mu.RUnlock()

	if provider == nil {
		return nil
	}
	var out [][]byte
	for _, req := range provider() {
		data, _ := json.Marshal(WSMessage{Event: EventSignRequest, Data: req})
		out = append(out, data)
	}
	return out
}

// Run runs the Hub
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug("WebSocket client connected. Total:", h.GetClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.Debug("WebSocket client disconnected. Total:", h.GetClientCount())

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("Failed to marshal WebSocket message:", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every client, dropping it when the hub is saturated
func (h *WSHub) Broadcast(event WSEventType, data interface{}) {
	select {
	case h.broadcast <- WSMessage{Event: event, Data: data}:
	default:
		logger.Warn("WebSocket broadcast dropped: ", event)
	}
}

// BroadcastKeyringUpdate broadcasts a keyring state change
func (h *WSHub) BroadcastKeyringUpdate(update keyring.Update) {
	h.Broadcast(EventKeyringUpdate, update)
}

// BroadcastSignEvent broadcasts a new or resolved sign request
func (h *WSHub) BroadcastSignEvent(ev signer.Event) {
	switch ev.Type {
	case signer.EventRequested:
		h.Broadcast(EventSignRequest, ev.Request)
	case signer.EventResolved:
		h.Broadcast(EventSignResolved, map[string]interface{}{
			"id":       ev.Request.ID,
			"rejected": ev.Rejected,
		})
	}
}

// BroadcastScannerState broadcasts a reader session change
func (h *WSHub) BroadcastScannerState(sessionID string, state interface{}) {
	h.Broadcast(EventScannerState, map[string]interface{}{
		"sessionId": sessionID,
		"state":     state,
	})
}

// Follow forwards controller updates and sign queue events until ctx ends.
// Both feeds block their senders, so the channels are drained here.
func (h *WSHub) Follow(ctx context.Context, ctrl *keyring.Controller, queue *signer.Queue) {
	updates := make(chan keyring.Update, 16)
	events := make(chan signer.Event, 16)
	updSub := ctrl.SubscribeUpdates(updates)
	evSub := queue.Subscribe(events)

	go func() {
		defer updSub.Unsubscribe()
		defer evSub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				h.BroadcastKeyringUpdate(u)
			case ev := <-events:
				h.BroadcastSignEvent(ev)
			case err := <-updSub.Err():
				if err != nil {
					logger.Warn("keyring update subscription: ", err)
				}
				return
			case err := <-evSub.Err():
				if err != nil {
					logger.Warn("sign event subscription: ", err)
				}
				return
			}
		}
	}()
}

// GetClientCount returns connected client count
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket WebSocket connection handler
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error:", err)
			return
		}

		pending := hub.getPendingRequestMessages()
		client := &WSClient{
			hub:  hub,
			conn: conn,
			send: make(chan []byte, 256+len(pending)),
		}

		// Queue the greeting before registering so broadcasts come after it
		welcomeMsg := WSMessage{
			Event: EventConnected,
			Data: map[string]interface{}{
				"message": "Connected to ABCFe wallet",
			},
		}
		data, _ := json.Marshal(welcomeMsg)
		client.send <- data

		// Send current keyring state immediately after connection
		if stateData := hub.getKeyringStateMessage(); stateData != nil {
			client.send <- stateData
		}

		// Replay requests still waiting for a signature
		for _, msg := range pending {
			client.send <- msg
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		// Start read/write goroutines
		go client.writePump()
		go client.readPump()
	}
}

// writePump sends message to client
func (c *WSClient) writePump() {
	defer func() {
		c.conn.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			// If channel closed, send normal close message
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			// Treat client disconnection as normal closure
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				logger.Error("WebSocket write error:", err)
			} else {
				logger.Debug("WebSocket write closed:", err)
			}
			return
		}
	}
}

// readPump receives message from client
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			// CloseGoingAway (1001), CloseNoStatusReceived (1005) and CloseNormalClosure (1000)
			// are ordinary disconnects
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error:", err)
			} else {
				logger.Debug("WebSocket client disconnected:", err)
			}
			break
		}
		// client messages are ignored
	}
}
