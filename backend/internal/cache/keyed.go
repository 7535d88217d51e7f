package cache

import (
	"context"
	"fmt"
	"sync"
)

// KeyedCache 是按 key 串行化的内存缓存：
// 同一个 key 同一时刻只有一个持有者，竞争者按到达顺序（FIFO）排队；
// 不同 key 之间互不阻塞。条目没有过期时间。
type KeyedCache[V any] struct {
	mu      sync.Mutex
	entries map[string]V
	// key 存在于 locks 中即表示该 key 已被持有；队列里是等待者
	locks map[string]*lockQueue
}

type lockQueue struct {
	waiters []chan struct{}
}

// Handle 表示对某个 key 的独占访问，Release 之后不可再使用
type Handle[V any] struct {
	c        *KeyedCache[V]
	key      string
	once     sync.Once
	released bool
}

func NewKeyedCache[V any]() *KeyedCache[V] {
	return &KeyedCache[V]{
		entries: make(map[string]V),
		locks:   make(map[string]*lockQueue),
	}
}

// Acquire 阻塞直到获得 key 的独占访问。
// ctx 结束时从队列中移除自己并返回 ctx.Err()；
// 如果恰好在同一时刻被唤醒，锁会被转交给下一个等待者，不会泄漏。
func (c *KeyedCache[V]) Acquire(ctx context.Context, key string) (*Handle[V], error) {
	c.mu.Lock()
	q, held := c.locks[key]
	if !held {
		c.locks[key] = &lockQueue{}
		c.mu.Unlock()
		return &Handle[V]{c: c, key: key}, nil
	}
	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	c.mu.Unlock()

	select {
	case <-ready:
		return &Handle[V]{c: c, key: key}, nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range q.waiters {
			if w == ready {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				c.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		c.mu.Unlock()
		// 已经被唤醒：我们实际持有锁，交给下一个
		c.release(key)
		return nil, ctx.Err()
	}
}

func (c *KeyedCache[V]) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.locks[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(c.locks, key)
		return
	}
	next := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	close(next)
}

// Release 唤醒下一个等待者；没有等待者时删除该 key 的队列。重复调用无副作用。
func (h *Handle[V]) Release() {
	h.once.Do(func() {
		h.released = true
		h.c.release(h.key)
	})
}

func (h *Handle[V]) Load() (V, bool) {
	h.mustHold()
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	v, ok := h.c.entries[h.key]
	return v, ok
}

func (h *Handle[V]) Store(v V) {
	h.mustHold()
	h.c.mu.Lock()
	h.c.entries[h.key] = v
	h.c.mu.Unlock()
}

// Delete 返回被删除的条目数（0 或 1）
func (h *Handle[V]) Delete() int {
	h.mustHold()
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if _, ok := h.c.entries[h.key]; !ok {
		return 0
	}
	delete(h.c.entries, h.key)
	return 1
}

func (h *Handle[V]) mustHold() {
	if h.released {
		panic(fmt.Sprintf("cache: use of released handle for key %q", h.key))
	}
}

func (c *KeyedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	h, err := c.Acquire(ctx, key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	defer h.Release()
	v, ok := h.Load()
	return v, ok, nil
}

func (c *KeyedCache[V]) Set(ctx context.Context, key string, v V) error {
	h, err := c.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Store(v)
	return nil
}

func (c *KeyedCache[V]) Delete(ctx context.Context, key string) (int, error) {
	h, err := c.Acquire(ctx, key)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	return h.Delete(), nil
}

// GetOrSet 命中直接返回；未命中时调用 producer 计算并写入。
// 并发的同 key 调用排在第一个后面，拿到锁时会看到已写入的值，producer 不会重复执行。
// producer 失败时错误只返回给本次调用者，key 保持缺失，后续调用者可以重试。
func (c *KeyedCache[V]) GetOrSet(ctx context.Context, key string, producer func(context.Context) (V, error)) (V, error) {
	h, err := c.Acquire(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	defer h.Release()

	if v, ok := h.Load(); ok {
		return v, nil
	}
	v, err := producer(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	h.Store(v)
	return v, nil
}

// pending 返回 key 的等待者数量以及是否被持有，仅供测试观察
func (c *KeyedCache[V]) pending(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.locks[key]
	if !ok {
		return 0, false
	}
	return len(q.waiters), true
}
