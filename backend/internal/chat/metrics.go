package chat

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	messagesSent      metric.Int64Counter
	membersBlacklist  metric.Int64Counter
	openSubscriptions metric.Int64UpDownCounter
}

// 未安装 SDK 时全局 MeterProvider 为 noop，这里的计数器不会产生开销
func newMetrics() *metrics {
	meter := otel.Meter("cipherchat/chat")
	m := &metrics{}
	m.messagesSent, _ = meter.Int64Counter("chat_messages_sent_total",
		metric.WithDescription("Messages stored and published"))
	m.membersBlacklist, _ = meter.Int64Counter("chat_members_blacklisted_total",
		metric.WithDescription("Members evicted by room administrators"))
	m.openSubscriptions, _ = meter.Int64UpDownCounter("chat_open_subscriptions",
		metric.WithDescription("Live subscription sessions"))
	return m
}
