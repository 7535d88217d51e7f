package bus

import (
	"errors"
	"fmt"

	"cipherchat/backend/internal/entity"
)

type Topic string

const (
	TopicNewMessage        Topic = "newMessage"
	TopicMemberJoin        Topic = "memberJoin"
	TopicMemberLeave       Topic = "memberLeave"
	TopicMemberBlacklisted Topic = "memberBlacklisted"
)

var ErrInvalidEvent = errors.New("invalid event")

// Event 是总线上传递的事件。每个 Topic 对应一个固定的具体类型，
// 订阅者按类型断言取出字段，不需要猜测负载结构。
type Event interface {
	Topic() Topic
	Validate() error
}

// MessagePublished 消息已落库
type MessagePublished struct {
	Room         string
	PasswordHash string
	Message      entity.Message
}

// MemberJoined / MemberLeft 携带变更之后的完整名单快照
type MemberJoined struct {
	Room   string
	Member entity.PresenceEntry
	Roster []entity.PresenceEntry
}

type MemberLeft struct {
	Room       string
	MemberHash string
	Roster     []entity.PresenceEntry
}

// MemberBlacklisted 拉黑已持久化（邀请码也已轮换）
type MemberBlacklisted struct {
	Room       string
	TargetHash string
	Reason     string
}

func (MessagePublished) Topic() Topic  { return TopicNewMessage }
func (MemberJoined) Topic() Topic      { return TopicMemberJoin }
func (MemberLeft) Topic() Topic        { return TopicMemberLeave }
func (MemberBlacklisted) Topic() Topic { return TopicMemberBlacklisted }

func (e MessagePublished) Validate() error {
	switch {
	case e.Room == "":
		return invalid(e, "room")
	case e.PasswordHash == "":
		return invalid(e, "password hash")
	case e.Message.SenderTokenHash == "":
		return invalid(e, "sender token hash")
	}
	return nil
}

func (e MemberJoined) Validate() error {
	if e.Room == "" {
		return invalid(e, "room")
	}
	if e.Member.UserTokenHash == "" {
		return invalid(e, "member")
	}
	return nil
}

func (e MemberLeft) Validate() error {
	if e.Room == "" {
		return invalid(e, "room")
	}
	if e.MemberHash == "" {
		return invalid(e, "member")
	}
	return nil
}

func (e MemberBlacklisted) Validate() error {
	if e.Room == "" {
		return invalid(e, "room")
	}
	if e.TargetHash == "" {
		return invalid(e, "target")
	}
	return nil
}

func invalid(e Event, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrInvalidEvent, e.Topic(), field)
}
