package chat

import (
	"context"
	"errors"
	"fmt"

	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/entity"
	"cipherchat/backend/internal/store"
	"cipherchat/backend/internal/textutil"
)

// NormalizeRoomName 房间名在创建和查找时统一规整
func NormalizeRoomName(name string) string {
	return textutil.Slugify(name)
}

// authorizeRoom 查找房间并校验房间密码摘要。
// 房间不存在同样视为未授权（同时保留 ErrRoomNotFound 以便区分）。
func authorizeRoom(ctx context.Context, rooms store.RoomStore, name, passwordHash string) (*entity.Room, error) {
	r, err := rooms.FindRoom(ctx, NormalizeRoomName(name))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}
	if passwordHash == "" || !credential.Equal(r.PasswordHash, passwordHash) {
		return nil, fmt.Errorf("%w: invalid room credentials", ErrUnauthorized)
	}
	return r, nil
}
