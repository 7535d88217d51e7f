package chat

import (
	"errors"

	"cipherchat/backend/internal/store"
)

var (
	// ErrUnauthorized 凭证不匹配、房间不存在或调用者在黑名单中；流不会建立，写操作不会生效
	ErrUnauthorized = errors.New("unauthorized")

	ErrRoomNotFound = store.ErrRoomNotFound
	ErrRoomExists   = store.ErrRoomExists

	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidMessage = errors.New("invalid message")

	// ErrSubscriptionClosed 订阅已结束（主动关闭或被驱逐）
	ErrSubscriptionClosed = errors.New("subscription closed")
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL"
)

// ErrorCode 把错误映射为对外的错误码。
// 房间不存在时的未授权错误同时包含两个哨兵，按未授权处理。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrRoomNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRoomExists):
		return CodeConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidMessage):
		return CodeBadRequest
	}
	return CodeInternal
}
