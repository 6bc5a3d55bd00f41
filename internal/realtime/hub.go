package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	outboxSize = 1024
)

// Roles a connection can join as.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "classpoll",
	Subsystem: "realtime",
	Name:      "connected_clients",
	Help:      "Number of open websocket connections on this instance",
})

// RedisPublisher publishes events for cross-instance broadcast. An empty target means everyone.
type RedisPublisher interface {
	PublishEvent(event, target string, payload []byte) error
}

// RedisSubscriber receives events published by any instance.
type RedisSubscriber interface {
	SubscribeEvents(handler func(event, target string, payload []byte)) (cancel func(), err error)
}

// Participant is the ephemeral identity bound to one connection.
type Participant struct {
	ConnectionID string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	Kicked       bool      `json:"kicked,omitempty"`
}

type outbound struct {
	event  string
	target string
	data   []byte
}

// Hub tracks open connections and their identities and fans events out to them.
// With Redis configured, events are published only and delivered by the subscription,
// so each instance (this one included) delivers exactly once.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   RedisPublisher
	sub     RedisSubscriber
	outbox  chan outbound
	cancel  func()
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub RedisPublisher, sub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		redis:   pub,
		sub:     sub,
		outbox:  make(chan outbound, outboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to Redis and starts the publisher loop.
func (h *Hub) Start() error {
	if h.sub != nil {
		cancel, err := h.sub.SubscribeEvents(func(event, target string, payload []byte) {
			h.deliver(event, target, payload)
		})
		if err != nil {
			return err
		}
		h.cancel = cancel
	}
	go h.publishLoop()
	return nil
}

// Stop ends the Redis subscription and the publisher loop. Must follow a successful Start.
func (h *Hub) Stop() {
	h.stop.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		close(h.quit)
		<-h.done
	})
}

// publishLoop drains the outbox in order so slow Redis round-trips never block callers.
func (h *Hub) publishLoop() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case o := <-h.outbox:
			h.publish(o)
		}
	}
}

func (h *Hub) publish(o outbound) {
	if h.redis == nil {
		h.deliver(o.event, o.target, o.data)
		return
	}
	if err := h.redis.PublishEvent(o.event, o.target, o.data); err != nil {
		h.logger.Warn("publish event failed, delivering locally", zap.String("event", o.event), zap.Error(err))
		h.deliver(o.event, o.target, o.data)
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	connectedClients.Inc()
	h.logger.Debug("client connected", zap.String("client_id", c.ID))
}

// Unregister removes a client and forgets its identity. Poll data is untouched.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.mu.Unlock()
	if ok {
		connectedClients.Dec()
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("name", c.name))
}

// Bind records the identity a connection joined with. A kicked connection stays barred across re-joins.
func (h *Hub) Bind(c *Client, name, role string) {
	h.mu.Lock()
	c.name = name
	c.role = role
	c.joinedAt = time.Now()
	h.mu.Unlock()
}

// Lookup returns the identity bound to a connection.
func (h *Hub) Lookup(clientID string) (Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok || c.name == "" {
		return Participant{}, false
	}
	return c.participant(), true
}

// Participants returns connections joined with role, ordered by join time.
func (h *Hub) Participants(role string) []Participant {
	h.mu.RLock()
	out := make([]Participant, 0, len(h.clients))
	for _, c := range h.clients {
		if c.name != "" && (role == "" || c.role == role) {
			out = append(out, c.participant())
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// ConnectionCount returns the number of open connections on this instance.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans an event out to every connection on every instance. It never blocks.
func (h *Hub) Publish(event string, payload interface{}) {
	h.enqueue(event, "", payload)
}

// PublishToName sends an event to every connection bound to name, on every instance.
func (h *Hub) PublishToName(name, event string, payload interface{}) {
	if name == "" {
		return
	}
	h.enqueue(event, name, payload)
}

func (h *Hub) enqueue(event, target string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.outbox <- outbound{event: event, target: target, data: data}:
	default:
		h.logger.Warn("event outbox full, dropping", zap.String("event", event))
	}
}

// deliver sends to local connections. A kicked event also bars the target from voting.
func (h *Hub) deliver(event, target string, data []byte) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if target != "" && c.name != target {
			continue
		}
		if target != "" && event == EventKicked {
			c.kicked = true
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.enqueue(msg)
	}
}

// SendToClient sends a message to a single local connection.
func (h *Hub) SendToClient(clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	c.enqueue(WSMessage{Event: event, Data: data})
}

// kickConnection bars one local connection from voting and tells it so.
func (h *Hub) kickConnection(clientID string, payload interface{}) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		c.kicked = true
	}
	h.mu.Unlock()
	if ok {
		h.SendToClient(clientID, EventKicked, payload)
	}
}

func (h *Hub) isKicked(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.kicked
}

func (h *Hub) identity(c *Client) (name, role string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.name, c.role
}
