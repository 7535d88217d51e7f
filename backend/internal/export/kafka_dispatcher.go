// Package export 把总线上的聊天事件异步转发到 Kafka
package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/limit"
)

var ErrQueueFull = errors.New("export queue full")

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 总线回调只负责入队，队列满时丢弃并记录日志，发布者永远不会被阻塞。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan ChatEvent

	// sem 限制并发的 SendMessage 数量
	sem *limit.SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
	bus      *bus.Bus
	tokens   []bus.Token
	stopOnce sync.Once
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultKafkaDispatcherOptions() KafkaDispatcherOptions {
	return KafkaDispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	}
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *limit.SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan ChatEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		now:         time.Now,
	}
	d.start()
	return d
}

// NewSyncProducer SyncProducer 必须开启 Return.Successes
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	return sarama.NewSyncProducer(brokers, cfg)
}

// Attach 订阅 newMessage 与 memberBlacklisted
func (d *KafkaDispatcher) Attach(b *bus.Bus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bus = b
	for _, topic := range []bus.Topic{bus.TopicNewMessage, bus.TopicMemberBlacklisted} {
		d.tokens = append(d.tokens, b.Subscribe(topic, d.onEvent))
	}
}

func (d *KafkaDispatcher) onEvent(e bus.Event) {
	evt, ok := fromBusEvent(e, d.now().UTC())
	if !ok {
		return
	}
	if err := d.TryEnqueue(evt); err != nil {
		log.Warn().Err(err).Str("event", evt.EventType).Str("room", evt.Room).Msg("drop export event")
	}
}

// TryEnqueue 非阻塞入队；队列满或已停止时返回错误
func (d *KafkaDispatcher) TryEnqueue(evt ChatEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrQueueFull
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 取消总线订阅，关闭队列，等待 worker 把剩余事件发完或 ctx 结束
func (d *KafkaDispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		b, tokens := d.bus, d.tokens
		d.tokens = nil
		d.mu.Unlock()
		for _, tok := range tokens {
			b.Unsubscribe(tok)
		}

		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *KafkaDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt ChatEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Error().Err(err).
				Str("event", evt.EventType).
				Str("room", evt.Room).
				Int("worker", workerID).
				Msg("kafka send failed, drop event")
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt ChatEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.Room),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
