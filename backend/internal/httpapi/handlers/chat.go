package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cipherchat/backend/internal/cache"
	"cipherchat/backend/internal/chat"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/entity"
)

type ChatHandler struct {
	svc     *chat.Service
	mod     *chat.Moderation
	mirror  cache.PresenceMirror
	started time.Time
}

// NewChatHandler mirror 可以为 nil（未配置 redis）
func NewChatHandler(svc *chat.Service, mod *chat.Moderation, mirror cache.PresenceMirror) *ChatHandler {
	return &ChatHandler{svc: svc, mod: mod, mirror: mirror, started: time.Now()}
}

// Register 挂载请求/响应路由；websocket 路由由 main 单独挂
func (h *ChatHandler) Register(r gin.IRouter) {
	r.GET("/", h.Status())
	r.GET("/healthz", h.Healthz())

	g := r.Group("/chat")
	{
		g.POST("/rooms", h.CreateRoom())
		g.POST("/invites/resolve", h.ResolveInvite())
		g.POST("/messages", h.SendMessage())
		g.POST("/messages/list", h.ListMessages())
		g.GET("/presence/rooms", h.PresenceRooms())
	}
	r.POST("/moderation/blacklist", h.BlacklistMember())
}

func (h *ChatHandler) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"uptime":  time.Since(h.started).Seconds(),
			"message": "cipherchat server is running",
		})
	}
}

func (h *ChatHandler) Healthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	}
}

type createRoomReq struct {
	ChatRoomName string `json:"chatRoomName" binding:"required"`
	Password     string `json:"password" binding:"required"`
	AdminToken   string `json:"adminToken" binding:"required"`
}

func (h *ChatHandler) CreateRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRoomReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		created, err := h.svc.CreateRoom(c.Request.Context(), req.ChatRoomName, req.Password, req.AdminToken)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{
			"chatRoomName": created.Name,
			"password":     req.Password,
			"inviteCode":   created.InviteCode,
		})
	}
}

type resolveInviteReq struct {
	InviteCode string `json:"inviteCode" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (h *ChatHandler) ResolveInvite() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveInviteReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		name, err := h.svc.ResolveInvite(c.Request.Context(), req.InviteCode, credential.Hash(req.Password))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"chatRoomName": name})
	}
}

type messageBody struct {
	Content         string          `json:"content"`
	SenderTokenHash string          `json:"sender_token_hash" binding:"required"`
	SenderUsername  string          `json:"sender_username" binding:"required"`
	ReplyTo         *entity.ReplyTo `json:"reply_to"`
}

type sendMessageReq struct {
	ChatRoomName string      `json:"chatRoomName" binding:"required"`
	Password     string      `json:"password" binding:"required"`
	MessageBody  messageBody `json:"messageBody"`
}

func (h *ChatHandler) SendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		msg, err := h.svc.SendMessage(c.Request.Context(), req.ChatRoomName, credential.Hash(req.Password), chat.MessageInput{
			Content:         req.MessageBody.Content,
			SenderTokenHash: req.MessageBody.SenderTokenHash,
			SenderUsername:  req.MessageBody.SenderUsername,
			ReplyTo:         req.MessageBody.ReplyTo,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"message": msg})
	}
}

type listMessagesReq struct {
	ChatRoomName string `json:"chatRoomName" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Limit        int    `json:"limit"`
}

func (h *ChatHandler) ListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req listMessagesReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		msgs, err := h.svc.ListMessages(c.Request.Context(), req.ChatRoomName, credential.Hash(req.Password), req.Limit)
		if err != nil {
			fail(c, err)
			return
		}
		if msgs == nil {
			msgs = []entity.Message{}
		}
		ok(c, gin.H{"messages": msgs})
	}
}

type blacklistReq struct {
	ChatRoomName        string `json:"chatRoomName" binding:"required"`
	UserTokenHash       string `json:"user_token_hash" binding:"required"`
	TargetUserTokenHash string `json:"target_user_token_hash" binding:"required"`
	Reason              string `json:"reason"`
}

// BlacklistMember user_token_hash 是管理员令牌的摘要
func (h *ChatHandler) BlacklistMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req blacklistReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		err := h.mod.BlacklistMember(c.Request.Context(), req.ChatRoomName, req.UserTokenHash, req.TargetUserTokenHash, req.Reason)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

func (h *ChatHandler) PresenceRooms() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.mirror == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "code": "UNAVAILABLE", "message": "presence mirror disabled"})
			return
		}
		rooms, err := h.mirror.Rooms(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		if rooms == nil {
			rooms = []string{}
		}
		ok(c, gin.H{"rooms": rooms})
	}
}
