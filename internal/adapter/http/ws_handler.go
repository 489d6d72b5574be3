package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chiwei-platform/deployd/internal/broadcast"
	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var errConnClosed = errors.New("websocket connection closed")

var _ broadcast.Conn = (*wsConn)(nil)

// controlMessage 是客户端发来的订阅控制消息。
type controlMessage struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
}

type WSHandler struct {
	hub      *broadcast.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *broadcast.Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 访问控制由 API token 负责，不限制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve 升级为 websocket 并处理订阅控制消息，读循环结束时注销连接。
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws)
	h.hub.Register(conn)
	slog.Info("websocket connected", "conn", conn.ID(), "remote", r.RemoteAddr)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(conn)
		conn.Close()
		slog.Info("websocket disconnected", "conn", conn.ID())
	}()
	go conn.keepalive(done)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "conn", conn.ID(), "error", err)
			}
			return
		}
		h.handleControl(conn, data)
	}
}

func (h *WSHandler) handleControl(conn *wsConn, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.reply("", domain.LevelError, fmt.Sprintf("invalid message: %v", err))
		return
	}

	switch msg.Action {
	case "subscribe", "unsubscribe":
		if msg.JobID == "" {
			conn.reply("", domain.LevelError, "job_id is required")
			return
		}
		if msg.Action == "subscribe" {
			h.hub.Subscribe(conn, msg.JobID)
		} else {
			h.hub.Unsubscribe(conn, msg.JobID)
		}
		conn.reply(msg.JobID, domain.LevelInfo, msg.Action+"d")
	default:
		conn.reply(msg.JobID, domain.LevelError, fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// wsConn 实现 broadcast.Conn。gorilla 的连接不支持并发写，所有写操作经过 mu。
type wsConn struct {
	id     string
	ws     *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.New().String(), ws: ws}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Closed() bool { return c.closed.Load() }

func (c *wsConn) Send(event domain.LogEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(event)
}

func (c *wsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) reply(jobID string, level domain.LogLevel, message string) {
	err := c.Send(domain.LogEvent{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Debug("websocket reply failed", "conn", c.id, "error", err)
	}
}

func (c *wsConn) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
