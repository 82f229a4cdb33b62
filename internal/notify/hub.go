// Package notify maintains per-(broadcast, viewer) long-lived push
// channels and delivers named events broadcast-wide or to one target.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait (seconds) drive the heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Notifier is the delivery surface the engine calls into.
type Notifier interface {
	NotifyAll(broadcastID uuid.UUID, event string, payload interface{})
	NotifyOne(broadcastID, viewerID uuid.UUID, event string, payload interface{})
}

// PresenceHook is called when a viewer connection opens or closes.
type PresenceHook func(broadcastID, viewerID uuid.UUID)

// ChatHook is called for each accepted chat message.
type ChatHook func(broadcastID, viewerID uuid.UUID)

// ChatGate reports whether a viewer may chat in a broadcast. Muted viewers
// are rejected before the message is published.
type ChatGate func(broadcastID, viewerID uuid.UUID) bool

// RedisPublisher publishes events for cross-instance delivery.
type RedisPublisher interface {
	PublishBroadcastEvent(broadcastID uuid.UUID, target *uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a broadcast's channel and invokes handler
// for incoming events.
type RedisSubscriber interface {
	SubscribeBroadcast(broadcastID uuid.UUID, handler func(target *uuid.UUID, event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains broadcast_id -> connections and fans events out through
// Redis pub/sub; every instance, this one included, delivers to its own
// clients from its subscription.
type Hub struct {
	// broadcastID -> connID -> *Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per broadcast
	mu       sync.RWMutex
	logger   *zap.Logger
	redisPub RedisPublisher
	redisSub RedisSubscriber
	onJoin   PresenceHook
	onLeave  PresenceHook
	onChat   ChatHook
	chatGate ChatGate
}

// NewHub creates a notification hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redisPub: redisPub,
		redisSub: redisSub,
	}
}

// SetPresenceHooks wires viewer enter/exit into the engagement aggregator
// and viewer-session log. Each open connection counts as one tab.
func (h *Hub) SetPresenceHooks(onJoin, onLeave PresenceHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = onJoin
	h.onLeave = onLeave
}

// SetChatHook wires accepted chat messages into the chat counter.
func (h *Hub) SetChatHook(fn ChatHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChat = fn
}

// SetChatGate wires the mute check applied to inbound chat messages.
func (h *Hub) SetChatGate(fn ChatGate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chatGate = fn
}

func (h *Hub) chatAllowed(broadcastID, viewerID uuid.UUID) bool {
	h.mu.RLock()
	gate := h.chatGate
	h.mu.RUnlock()
	if gate == nil {
		return true
	}
	return gate(broadcastID, viewerID)
}

func (h *Hub) recordChat(broadcastID, viewerID uuid.UUID) {
	h.mu.RLock()
	hook := h.onChat
	h.mu.RUnlock()
	if hook != nil {
		hook(broadcastID, viewerID)
	}
}

// Register adds a client connection. Starts the Redis subscription for the
// broadcast when its first connection arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.BroadcastID] == nil {
		h.rooms[c.BroadcastID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeBroadcast(c.BroadcastID, func(target *uuid.UUID, event string, payload []byte) {
				if target != nil {
					h.deliverOne(c.BroadcastID, *target, event, json.RawMessage(payload))
					return
				}
				h.deliverAll(c.BroadcastID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.BroadcastID] = cancel
			}
		}
	}
	h.rooms[c.BroadcastID][c.ID] = c
	onJoin := h.onJoin
	h.mu.Unlock()
	if onJoin != nil {
		onJoin(c.BroadcastID, c.ViewerID)
	}
	h.logger.Debug("viewer channel opened",
		zap.String("conn_id", c.ID),
		zap.String("broadcast_id", c.BroadcastID.String()),
		zap.String("viewer_id", c.ViewerID.String()))
}

// Unregister removes a client connection. Cancels the Redis subscription
// when the last connection leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.BroadcastID]; ok {
		if _, present := m[c.ID]; !present {
			h.mu.Unlock()
			return
		}
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.BroadcastID)
			if cancel, ok := h.subs[c.BroadcastID]; ok {
				cancel()
				delete(h.subs, c.BroadcastID)
			}
		}
	}
	onLeave := h.onLeave
	h.mu.Unlock()
	if onLeave != nil {
		onLeave(c.BroadcastID, c.ViewerID)
	}
	h.logger.Debug("viewer channel closed",
		zap.String("conn_id", c.ID),
		zap.String("broadcast_id", c.BroadcastID.String()))
}

// NotifyAll delivers an event to every connection in the broadcast across
// all instances. Events are published once; each instance, including this
// one, delivers through its own subscription, so local clients never see
// the event twice. Local delivery is the fallback when no publisher is
// wired or the publish fails.
func (h *Hub) NotifyAll(broadcastID uuid.UUID, event string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		return
	}
	h.publish(broadcastID, nil, event, data)
}

// NotifyOne delivers an event to every open connection of one viewer.
// Delivery to a closed channel is not retried.
func (h *Hub) NotifyOne(broadcastID, viewerID uuid.UUID, event string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		return
	}
	h.publish(broadcastID, &viewerID, event, data)
}

func (h *Hub) publish(broadcastID uuid.UUID, target *uuid.UUID, event string, data json.RawMessage) {
	if h.redisPub != nil {
		if err := h.redisPub.PublishBroadcastEvent(broadcastID, target, event, data); err == nil {
			return
		}
		h.logger.Warn("event publish failed, delivering locally only",
			zap.String("event", event),
			zap.String("broadcast_id", broadcastID.String()))
	}
	if target != nil {
		h.deliverOne(broadcastID, *target, event, data)
		return
	}
	h.deliverAll(broadcastID, event, data)
}

// ConnectionCount returns the number of open connections in a broadcast.
func (h *Hub) ConnectionCount(broadcastID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[broadcastID])
}

func (h *Hub) deliverAll(broadcastID uuid.UUID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := h.rooms[broadcastID]
	targets := make([]*Client, 0, len(clients))
	for _, c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

func (h *Hub) deliverOne(broadcastID, viewerID uuid.UUID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.rooms[broadcastID] {
		if c.ViewerID == viewerID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
