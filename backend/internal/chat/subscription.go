package chat

import (
	"context"
	"sync"

	"cipherchat/backend/internal/entity"
)

type StreamKind string

const (
	StreamMessages StreamKind = "messages"
	StreamPresence StreamKind = "presence"
	StreamEviction StreamKind = "eviction"
)

// RosterUpdate 在线名单推送
type RosterUpdate struct {
	Room    string                 `json:"chatRoomName"`
	Members []entity.PresenceEntry `json:"members"`
}

// EvictionNotice 驱逐通知，推送后订阅结束
type EvictionNotice struct {
	Reason string `json:"reason"`
}

// Subscription 一次已授权的订阅。
// 总线回调只往无界队列里追加，不会阻塞发布者；消费者用 Next 逐个取出。
// Close 是唯一的清理入口，可以重复调用。
type Subscription struct {
	kind StreamKind
	room string

	mu     sync.Mutex
	queue  []any
	ended  bool // 不会再有新的负载，取完队列后订阅自行关闭
	notify chan struct{}

	closed   chan struct{}
	once     sync.Once
	teardown func()
}

func newSubscription(kind StreamKind, room string) *Subscription {
	return &Subscription{
		kind:   kind,
		room:   room,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (s *Subscription) Kind() StreamKind { return s.kind }
func (s *Subscription) Room() string     { return s.room }

// Done 在订阅关闭后被关闭
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// push 追加一个负载；订阅已结束时丢弃
func (s *Subscription) push(p any) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()
	s.signal()
}

// finish 追加最后一个负载（可以为 nil）并标记结束
func (s *Subscription) finish(last any) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if last != nil {
		s.queue = append(s.queue, last)
	}
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next 阻塞直到有负载、订阅关闭或 ctx 结束。
// 订阅结束后先把队列里剩余的负载取完，再返回 ErrSubscriptionClosed。
func (s *Subscription) Next(ctx context.Context) (any, error) {
	for {
		select {
		case <-s.closed:
			return nil, ErrSubscriptionClosed
		default:
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return p, nil
		}
		ended := s.ended
		s.mu.Unlock()

		if ended {
			// 在消费者一侧收尾，不在总线回调里取消订阅
			s.Close()
			return nil, ErrSubscriptionClosed
		}

		select {
		case <-s.notify:
		case <-s.closed:
			return nil, ErrSubscriptionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close 取消订阅并执行清理（例如离开在线名单）。幂等。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.queue = nil
		s.mu.Unlock()
		close(s.closed)
		if s.teardown != nil {
			s.teardown()
		}
	})
}
