package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/store"
)

// Moderation 管理员拉黑成员
type Moderation struct {
	rooms   store.RoomStore
	bus     *bus.Bus
	metrics *metrics
}

func NewModeration(rooms store.RoomStore, b *bus.Bus) *Moderation {
	return &Moderation{rooms: rooms, bus: b, metrics: newMetrics()}
}

// BlacklistMember 写入黑名单并轮换邀请码，两步都成功后发布一次 memberBlacklisted。
// 任一步失败直接返回，不发布事件。
func (m *Moderation) BlacklistMember(ctx context.Context, room, adminHash, targetHash, reason string) error {
	if adminHash == "" || targetHash == "" {
		return fmt.Errorf("%w: admin and target token hashes are required", ErrInvalidRequest)
	}
	r, err := m.rooms.FindRoom(ctx, NormalizeRoomName(room))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return err
	}
	if !credential.Equal(r.AdminTokenHash, adminHash) {
		return fmt.Errorf("%w: admin token mismatch", ErrUnauthorized)
	}

	if err := m.rooms.AppendBlacklistEntry(ctx, r.Name, targetHash); err != nil {
		return fmt.Errorf("append blacklist entry: %w", err)
	}
	if _, err := m.rooms.RotateInviteCode(ctx, r.Name); err != nil {
		return fmt.Errorf("rotate invite code: %w", err)
	}

	if err := m.bus.Publish(bus.MemberBlacklisted{Room: r.Name, TargetHash: targetHash, Reason: reason}); err != nil {
		log.Error().Err(err).Str("room", r.Name).Msg("publish member blacklisted failed")
	}
	m.metrics.membersBlacklist.Add(ctx, 1, metric.WithAttributes(attribute.String("room", r.Name)))
	log.Info().Str("room", r.Name).Msg("member blacklisted")
	return nil
}
