package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/presence"
	"cipherchat/backend/internal/store"
)

const defaultLeaveTimeout = 5 * time.Second

type SessionOptions struct {
	// SuppressEcho 为 true 时消息流不推送调用者自己发送的消息
	SuppressEcho bool
	// LeaveTimeout 关闭在线名单订阅时离开名单的超时
	LeaveTimeout time.Duration
}

// Sessions 建立三类订阅：消息流、在线名单流、驱逐通知。
// 授权只在建立时做一次；之后按建立时的快照过滤总线事件。
type Sessions struct {
	rooms   store.RoomStore
	bus     *bus.Bus
	tracker *presence.Tracker
	opts    SessionOptions
	metrics *metrics
}

func NewSessions(rooms store.RoomStore, b *bus.Bus, tracker *presence.Tracker, opts SessionOptions) *Sessions {
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = defaultLeaveTimeout
	}
	return &Sessions{rooms: rooms, bus: b, tracker: tracker, opts: opts, metrics: newMetrics()}
}

// OpenMessageStream 订阅房间的新消息
func (s *Sessions) OpenMessageStream(ctx context.Context, room, passwordHash, callerHash string) (*Subscription, error) {
	r, err := authorizeRoom(ctx, s.rooms, room, passwordHash)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(StreamMessages, r.Name)
	roomName, roomPassword := r.Name, r.PasswordHash

	msgTok := s.bus.Subscribe(bus.TopicNewMessage, func(e bus.Event) {
		m, ok := e.(bus.MessagePublished)
		if !ok || m.Room != roomName || !credential.Equal(m.PasswordHash, roomPassword) {
			return
		}
		if s.opts.SuppressEcho && callerHash != "" && m.Message.SenderTokenHash == callerHash {
			return
		}
		sub.push(m.Message)
	})
	evictTok := s.subscribeOwnEviction(sub, roomName, callerHash)

	s.track(sub, func() {
		s.bus.Unsubscribe(msgTok)
		s.bus.Unsubscribe(evictTok)
	})
	return sub, nil
}

// OpenPresenceStream 加入房间在线名单并订阅名单变化。
// 先订阅再加入，加入后的名单经由总线推送给自己。
// 关闭时无条件离开名单。
func (s *Sessions) OpenPresenceStream(ctx context.Context, room, passwordHash, callerHash, callerName string) (*Subscription, error) {
	if callerHash == "" || callerName == "" {
		return nil, fmt.Errorf("%w: caller identity required", ErrInvalidRequest)
	}
	r, err := authorizeRoom(ctx, s.rooms, room, passwordHash)
	if err != nil {
		return nil, err
	}
	if r.IsBlacklisted(callerHash) {
		return nil, fmt.Errorf("%w: caller is blacklisted", ErrUnauthorized)
	}
	sub := newSubscription(StreamPresence, r.Name)
	roomName := r.Name

	joinTok := s.bus.Subscribe(bus.TopicMemberJoin, func(e bus.Event) {
		if j, ok := e.(bus.MemberJoined); ok && j.Room == roomName {
			sub.push(RosterUpdate{Room: roomName, Members: j.Roster})
		}
	})
	leaveTok := s.bus.Subscribe(bus.TopicMemberLeave, func(e bus.Event) {
		if l, ok := e.(bus.MemberLeft); ok && l.Room == roomName {
			sub.push(RosterUpdate{Room: roomName, Members: l.Roster})
		}
	})
	evictTok := s.subscribeOwnEviction(sub, roomName, callerHash)

	s.track(sub, func() {
		s.bus.Unsubscribe(joinTok)
		s.bus.Unsubscribe(leaveTok)
		s.bus.Unsubscribe(evictTok)

		// 建立时的 ctx 可能早已结束，离开名单用独立的超时
		leaveCtx, cancel := context.WithTimeout(context.Background(), s.opts.LeaveTimeout)
		defer cancel()
		if _, err := s.tracker.Leave(leaveCtx, roomName, callerHash); err != nil {
			log.Warn().Err(err).Str("room", roomName).Msg("leave roster on teardown failed")
		}
	})

	if _, err := s.tracker.Join(ctx, roomName, callerHash, callerName); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// OpenEvictionWatch 等待调用者在该房间被拉黑。
// 推送一次 EvictionNotice 后订阅结束。
func (s *Sessions) OpenEvictionWatch(ctx context.Context, room, passwordHash, callerHash string) (*Subscription, error) {
	if callerHash == "" {
		return nil, fmt.Errorf("%w: caller identity required", ErrInvalidRequest)
	}
	r, err := authorizeRoom(ctx, s.rooms, room, passwordHash)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(StreamEviction, r.Name)
	roomName := r.Name

	tok := s.bus.Subscribe(bus.TopicMemberBlacklisted, func(e bus.Event) {
		if b, ok := e.(bus.MemberBlacklisted); ok && b.Room == roomName && b.TargetHash == callerHash {
			sub.finish(EvictionNotice{Reason: b.Reason})
		}
	})
	s.track(sub, func() { s.bus.Unsubscribe(tok) })
	return sub, nil
}

// subscribeOwnEviction 调用者被拉黑后结束这条流（不推送负载）。
// callerHash 为空时不订阅，返回的零值 Token 取消订阅是空操作。
func (s *Sessions) subscribeOwnEviction(sub *Subscription, roomName, callerHash string) bus.Token {
	if callerHash == "" {
		return 0
	}
	return s.bus.Subscribe(bus.TopicMemberBlacklisted, func(e bus.Event) {
		if b, ok := e.(bus.MemberBlacklisted); ok && b.Room == roomName && b.TargetHash == callerHash {
			sub.finish(nil)
		}
	})
}

func (s *Sessions) track(sub *Subscription, teardown func()) {
	ctx := context.Background()
	s.metrics.openSubscriptions.Add(ctx, 1)
	sub.teardown = func() {
		teardown()
		s.metrics.openSubscriptions.Add(ctx, -1)
	}
}
