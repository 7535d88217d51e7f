package store

import (
	"context"
	"errors"

	"cipherchat/backend/internal/entity"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// RoomStore 房间/消息/黑名单的持久化契约。
// 房间名与邀请码都唯一；所有写操作在返回 nil 时已经提交。
type RoomStore interface {
	CreateRoom(ctx context.Context, room entity.Room) (*entity.Room, error)
	FindRoom(ctx context.Context, name string) (*entity.Room, error)
	FindRoomByInvite(ctx context.Context, inviteCode string) (*entity.Room, error)

	AppendMessage(ctx context.Context, room string, msg entity.Message) error
	// ListMessages 返回最新的 limit 条消息，按时间正序
	ListMessages(ctx context.Context, room string, limit int) ([]entity.Message, error)

	// AppendBlacklistEntry 重复拉黑同一用户不报错
	AppendBlacklistEntry(ctx context.Context, room string, userTokenHash string) error
	RotateInviteCode(ctx context.Context, room string) (string, error)
}

// InviteCodeFunc 邀请码生成器，由调用方注入
type InviteCodeFunc func() (string, error)
