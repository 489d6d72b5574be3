package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/metrics"
	"github.com/chiwei-platform/deployd/internal/port"
)

var _ port.EventPublisher = (*Hub)(nil)

// Conn 是一个可推送事件的观察者连接，由传输层（websocket）实现。
type Conn interface {
	ID() string
	Send(event domain.LogEvent) error
	Closed() bool
	Close() error
}

// client 是 Hub 中登记的连接，自己持有订阅的 JobID 集合。
type client struct {
	conn Conn

	mu   sync.Mutex
	jobs map[string]struct{}
}

func (c *client) subscribed(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[jobID]
	return ok
}

// Hub 是实时日志的订阅登记表。只做即时投递：没有队列、没有重放、发送失败不重试。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Register 登记连接。Hub 关闭后登记的连接会被直接关闭。
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if _, ok := h.clients[conn.ID()]; !ok {
		h.clients[conn.ID()] = &client{conn: conn, jobs: make(map[string]struct{})}
		metrics.WSConnections.Inc()
	}
	h.mu.Unlock()
}

func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn.ID()]; ok {
		delete(h.clients, conn.ID())
		metrics.WSConnections.Dec()
	}
	h.mu.Unlock()
}

// Subscribe 让连接开始接收 jobID 的事件。连接未登记时返回 false。
func (h *Hub) Subscribe(conn Conn, jobID string) bool {
	c := h.lookup(conn)
	if c == nil {
		return false
	}
	c.mu.Lock()
	c.jobs[jobID] = struct{}{}
	c.mu.Unlock()
	return true
}

func (h *Hub) Unsubscribe(conn Conn, jobID string) bool {
	c := h.lookup(conn)
	if c == nil {
		return false
	}
	c.mu.Lock()
	delete(c.jobs, jobID)
	c.mu.Unlock()
	return true
}

func (h *Hub) lookup(conn Conn) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[conn.ID()]
}

// Publish 把事件投递给当前订阅了 jobID 的连接。发送前再检查一次连接是否已关闭。
func (h *Hub) Publish(jobID string, level domain.LogLevel, message string) {
	event := domain.LogEvent{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Timestamp: h.now().UTC(),
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(jobID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.conn.Closed() {
			continue
		}
		if err := c.conn.Send(event); err != nil {
			slog.Warn("deliver log event failed", "job_id", jobID, "conn", c.conn.ID(), "error", err)
			continue
		}
		metrics.EventsDelivered.Inc()
	}
}

// Subscribers 返回当前订阅 jobID 的连接数。
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.subscribed(jobID) {
			n++
		}
	}
	return n
}

// Close 关闭所有连接并拒绝后续登记。
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.closed = true
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.conn.Close(); err != nil {
			slog.Debug("close subscriber", "conn", c.conn.ID(), "error", err)
		}
		metrics.WSConnections.Dec()
	}
}
