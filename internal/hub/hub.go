package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubBroadcast
	token      string
	logger     *slog.Logger
	mu         sync.RWMutex
	ctxWrap    *ctxWrapper
	running    atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

func New(token string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		token:      token,
		logger:     logger,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
}

func (h *Hub) getContext() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.mu.Unlock()
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			go client.writePump(h.getContext())
			go client.readPump(h.getContext())
			h.logger.Info("client connected", "client", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client", client.id, "total", h.ClientCount())

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) broadcastToClients(msg hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsConversation(msg.conversationID) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("client send buffer full, dropping message", "client", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// PublishCouncilEvent fans a pipeline event out to clients watching the
// conversation. evt is marshalled as-is.
func (h *Hub) PublishCouncilEvent(conversationID string, evt any) {
	raw, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal council event", "conversation_id", conversationID, "error", err)
		return
	}
	h.send(conversationID, CouncilEventMessage{
		Type:           TypeCouncilEvent,
		ConversationID: conversationID,
		Event:          raw,
		Ts:             time.Now().Unix(),
	})
}

func (h *Hub) PublishConversationEvent(conversationID, event string, data any) {
	h.send(conversationID, ConversationEventMessage{
		Type:           TypeConversationEvent,
		ConversationID: conversationID,
		Event:          event,
		Data:           data,
		Ts:             time.Now().Unix(),
	})
}

func (h *Hub) send(conversationID string, msg any) {
	if h == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal hub message", "error", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, conversationID: conversationID}:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "conversation_id", conversationID)
	}
}

func (h *Hub) reply(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal reply", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) SendError(client *Client, message string) {
	h.reply(client, ErrorMessage{Type: TypeError, Message: message})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", "client", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
