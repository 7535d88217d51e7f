package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Token 标识一次订阅，用于取消订阅
type Token uint64

type subscriber struct {
	token Token
	topic Topic
	fn    func(Event)

	// 投递与取消订阅在同一把锁上串行：Unsubscribe 返回后回调不会再被调用。
	// 因此回调内部不能同步取消自己的订阅，也不能向自己订阅的 Topic 发布。
	mu     sync.Mutex
	closed bool
}

// Bus 进程内发布/订阅总线。显式构造并注入，不使用全局单例。
type Bus struct {
	mu     sync.RWMutex
	next   Token
	topics map[Topic][]*subscriber
	byTok  map[Token]*subscriber
}

func New() *Bus {
	return &Bus{
		topics: make(map[Topic][]*subscriber),
		byTok:  make(map[Token]*subscriber),
	}
}

// Subscribe 注册回调，同一 Topic 可以有任意多个独立订阅
func (b *Bus) Subscribe(topic Topic, fn func(Event)) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := &subscriber{token: b.next, topic: topic, fn: fn}
	b.topics[topic] = append(b.topics[topic], s)
	b.byTok[s.token] = s
	return s.token
}

// Unsubscribe 幂等；对已取消的订阅调用不报错
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	s, ok := b.byTok[tok]
	if ok {
		delete(b.byTok, tok)
		subs := b.topics[s.topic]
		for i, other := range subs {
			if other == s {
				// 复制而不是原地修改，正在投递的快照不受影响
				rest := make([]*subscriber, 0, len(subs)-1)
				rest = append(rest, subs[:i]...)
				rest = append(rest, subs[i+1:]...)
				subs = rest
				break
			}
		}
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		} else {
			b.topics[s.topic] = subs
		}
	}
	b.mu.Unlock()

	if ok {
		// 等待正在进行的投递结束
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
}

// Publish 同步调用发布时刻已注册的全部回调，顺序为注册顺序。
// 没有订阅者时什么都不做；某个回调 panic 不影响其余回调。
func (b *Bus) Publish(evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := b.topics[evt.Topic()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(evt)
	}
	return nil
}

// Subscribers 返回某个 Topic 当前的订阅数
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (s *subscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", string(s.topic)).
				Uint64("token", uint64(s.token)).
				Interface("panic", r).
				Msg("bus subscriber panicked")
		}
	}()
	s.fn(evt)
}
