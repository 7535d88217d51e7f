package export

import (
	"time"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/entity"
)

const (
	EventMessageCreated    = "MESSAGE_CREATED"
	EventMemberBlacklisted = "MEMBER_BLACKLISTED"
)

// ChatEvent 导出到 Kafka 的记录。不包含任何房间密码摘要。
type ChatEvent struct {
	EventType  string          `json:"eventType"`
	Room       string          `json:"chatRoomName"`
	Message    *entity.Message `json:"message,omitempty"`
	TargetHash string          `json:"targetUserTokenHash,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// fromBusEvent 只转换需要导出的事件类型
func fromBusEvent(e bus.Event, now time.Time) (ChatEvent, bool) {
	switch evt := e.(type) {
	case bus.MessagePublished:
		m := evt.Message
		return ChatEvent{EventType: EventMessageCreated, Room: evt.Room, Message: &m, OccurredAt: now}, true
	case bus.MemberBlacklisted:
		return ChatEvent{
			EventType:  EventMemberBlacklisted,
			Room:       evt.Room,
			TargetHash: evt.TargetHash,
			Reason:     evt.Reason,
			OccurredAt: now,
		}, true
	}
	return ChatEvent{}, false
}
