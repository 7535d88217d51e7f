package ws

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/chat"
	"cipherchat/backend/internal/limit"
)

type ManagerOptions struct {
	// ReadLimit 单帧最大字节数，<= 0 不限制
	ReadLimit int64
	// AllowedOrigins 为空或包含 "*" 时不校验来源
	AllowedOrigins []string
}

type Manager struct {
	sessions Opener
	sem      *limit.SemaphoreControl
	opts     ManagerOptions
	upgrader websocket.Upgrader
}

func NewManager(sessions Opener, sem *limit.SemaphoreControl, opts ManagerOptions) *Manager {
	m := &Manager{sessions: sessions, sem: sem, opts: opts}
	m.upgrader = websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	if len(m.opts.AllowedOrigins) == 0 || slices.Contains(m.opts.AllowedOrigins, "*") {
		return true
	}
	for _, p := range m.opts.AllowedOrigins {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	if m.sem != nil {
		if !m.sem.TryAcquire() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"code":    "UNAVAILABLE",
				"message": "too many connections",
			})
			return
		}
		defer m.sem.Release()
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	if m.opts.ReadLimit > 0 {
		conn.SetReadLimit(m.opts.ReadLimit)
	}

	wsConn := NewConn(c.Request.Context(), conn, m.sessions)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: TypeWelcome, Content: "connected"})

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop()
}

var _ Opener = (*chat.Sessions)(nil)
