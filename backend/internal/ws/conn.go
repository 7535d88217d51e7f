package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/chat"
	"cipherchat/backend/internal/credential"
)

// Opener 建立订阅，*chat.Sessions 实现了它
type Opener interface {
	OpenMessageStream(ctx context.Context, room, passwordHash, callerHash string) (*chat.Subscription, error)
	OpenPresenceStream(ctx context.Context, room, passwordHash, callerHash, callerName string) (*chat.Subscription, error)
	OpenEvictionWatch(ctx context.Context, room, passwordHash, callerHash string) (*chat.Subscription, error)
}

// Conn 一条 websocket 连接。可以同时持有多个订阅，每个订阅一个 pump goroutine。
// 只有 writeLoop 写 socket，其他 goroutine 通过 send 通道投递。
type Conn struct {
	ws       *websocket.Conn
	sessions Opener
	send     chan ServerMessage

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*chat.Subscription
	closed bool
	wg     sync.WaitGroup
}

func NewConn(ctx context.Context, ws *websocket.Conn, sessions Opener) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	return &Conn{
		ws:       ws,
		sessions: sessions,
		send:     make(chan ServerMessage, 64),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]*chat.Subscription),
	}
}

// enqueue 连接结束后返回 false
func (c *Conn) enqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Conn) sendError(id string, err error) {
	code := chat.ErrorCode(err)
	content := err.Error()
	if code == chat.CodeInternal {
		log.Error().Err(err).Str("id", id).Msg("websocket request failed")
		// 内部错误不向客户端暴露细节
		content = "internal error"
	}
	c.enqueue(ServerMessage{Type: TypeError, ID: id, Code: code, Content: content})
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		switch msg.Type {
		case TypeHeartbeat:
			c.enqueue(ServerMessage{Type: TypeFeedback, Content: "Heartbeat received"})
		case TypeSubscribe:
			c.subscribe(msg)
		case TypeUnsubscribe:
			c.unsubscribe(msg.ID)
		default:
			c.sendError(msg.ID, fmt.Errorf("%w: unknown message type %q", chat.ErrInvalidRequest, msg.Type))
		}
	}
}

func (c *Conn) subscribe(msg ClientMessage) {
	if msg.ID == "" {
		c.sendError("", fmt.Errorf("%w: subscription id required", chat.ErrInvalidRequest))
		return
	}
	c.mu.Lock()
	_, dup := c.subs[msg.ID]
	c.mu.Unlock()
	if dup {
		c.sendError(msg.ID, fmt.Errorf("%w: subscription id already in use", chat.ErrInvalidRequest))
		return
	}

	passwordHash := credential.Hash(msg.Password)
	var (
		sub *chat.Subscription
		err error
	)
	switch chat.StreamKind(msg.Stream) {
	case chat.StreamMessages:
		sub, err = c.sessions.OpenMessageStream(c.ctx, msg.ChatRoomName, passwordHash, msg.UserTokenHash)
	case chat.StreamPresence:
		sub, err = c.sessions.OpenPresenceStream(c.ctx, msg.ChatRoomName, passwordHash, msg.UserTokenHash, msg.UserName)
	case chat.StreamEviction:
		sub, err = c.sessions.OpenEvictionWatch(c.ctx, msg.ChatRoomName, passwordHash, msg.UserTokenHash)
	default:
		err = fmt.Errorf("%w: unknown stream %q", chat.ErrInvalidRequest, msg.Stream)
	}
	if err != nil {
		c.sendError(msg.ID, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.subs[msg.ID] = sub
	c.wg.Add(1)
	c.mu.Unlock()

	c.enqueue(ServerMessage{Type: TypeStarted, ID: msg.ID})
	go c.pump(msg.ID, sub)
}

func (c *Conn) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		c.sendError(id, fmt.Errorf("%w: no subscription %q", chat.ErrInvalidRequest, id))
		return
	}
	// pump 收到 ErrSubscriptionClosed 后回 stopped
	sub.Close()
}

func (c *Conn) pump(id string, sub *chat.Subscription) {
	defer c.wg.Done()
	defer sub.Close()
	for {
		payload, err := sub.Next(c.ctx)
		if err != nil {
			if errors.Is(err, chat.ErrSubscriptionClosed) {
				c.forget(id, sub)
				log.Debug().Str("id", id).Str("stream", string(sub.Kind())).Str("room", sub.Room()).Msg("subscription stopped")
				c.enqueue(ServerMessage{Type: TypeStopped, ID: id})
			}
			return
		}
		select {
		case c.send <- ServerMessage{Type: TypeData, ID: id, Payload: payload}:
		case <-sub.Done():
			// 发送队列满时被退订：丢弃这条，下一轮 Next 返回 ErrSubscriptionClosed
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) forget(id string, sub *chat.Subscription) {
	c.mu.Lock()
	if c.subs[id] == sub {
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// shutdown 连接结束时关闭全部订阅，等待 pump 退出
func (c *Conn) shutdown() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]*chat.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	c.wg.Wait()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				c.cancel()
				// 让阻塞中的 ReadJSON 返回
				_ = c.ws.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
