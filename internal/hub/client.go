package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// inbound control messages allowed per client
const (
	clientMessageRate  = 10
	clientMessageBurst = 20
)

type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	limiter       *rate.Limiter
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[string]struct{}
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		limiter:       rate.NewLimiter(clientMessageRate, clientMessageBurst),
		subscribeAll:  true,
		subscriptions: make(map[string]struct{}),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(32768)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.hub.logger.Debug("client read error", "client", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.SendError(c, "rate limit exceeded")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("client sent invalid message", "client", c.id, "error", err)
			c.hub.SendError(c, "invalid message format")
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.ConversationID)
			c.hub.reply(c, SubscriptionMessage{Type: TypeSubscribed, ConversationID: msg.ConversationID})
		case "unsubscribe":
			c.unsubscribe(msg.ConversationID)
			c.hub.reply(c, SubscriptionMessage{Type: TypeUnsubscribed, ConversationID: msg.ConversationID})
		default:
			c.hub.SendError(c, "unknown message type: "+msg.Type)
		}
	}
}

// subscribe with an empty id watches every conversation.
func (c *Client) subscribe(conversationID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if conversationID == "" {
		c.subscribeAll = true
		c.subscriptions = make(map[string]struct{})
		return
	}
	c.subscribeAll = false
	c.subscriptions[conversationID] = struct{}{}
}

// unsubscribe with an empty id stops all delivery.
func (c *Client) unsubscribe(conversationID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if conversationID == "" {
		c.subscribeAll = false
		c.subscriptions = make(map[string]struct{})
		return
	}
	delete(c.subscriptions, conversationID)
}

func (c *Client) wantsConversation(conversationID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[conversationID]
	return ok
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
