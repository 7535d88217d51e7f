package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/entity"
	"cipherchat/backend/internal/store"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// CreatedRoom 建房结果；邀请码只在这里返回一次
type CreatedRoom struct {
	Name       string
	InviteCode string
}

// MessageInput 客户端提交的消息体
type MessageInput struct {
	Content         string
	SenderTokenHash string
	SenderUsername  string
	ReplyTo         *entity.ReplyTo
}

// Service 房间与消息的请求/响应操作
type Service struct {
	rooms     store.RoomStore
	bus       *bus.Bus
	newInvite store.InviteCodeFunc
	now       func() time.Time
	metrics   *metrics
}

func NewService(rooms store.RoomStore, b *bus.Bus) *Service {
	return &Service{
		rooms:     rooms,
		bus:       b,
		newInvite: credential.NewInviteCode,
		now:       time.Now,
		metrics:   newMetrics(),
	}
}

// CreateRoom 规整房间名，摘要密码与管理员令牌，生成邀请码
func (s *Service) CreateRoom(ctx context.Context, name, password, adminToken string) (*CreatedRoom, error) {
	slug := NormalizeRoomName(name)
	if slug == "" || password == "" || adminToken == "" {
		return nil, fmt.Errorf("%w: room name, password and admin token are required", ErrInvalidRequest)
	}
	code, err := s.newInvite()
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}
	room, err := s.rooms.CreateRoom(ctx, entity.Room{
		Name:           slug,
		PasswordHash:   credential.Hash(password),
		InviteCode:     code,
		AdminTokenHash: credential.Hash(adminToken),
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &CreatedRoom{Name: room.Name, InviteCode: room.InviteCode}, nil
}

// ResolveInvite 用邀请码和房间密码摘要换取房间名
func (s *Service) ResolveInvite(ctx context.Context, code, passwordHash string) (string, error) {
	if code == "" || passwordHash == "" {
		return "", fmt.Errorf("%w: invite code and password are required", ErrInvalidRequest)
	}
	r, err := s.rooms.FindRoomByInvite(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return "", err
	}
	if !credential.Equal(r.PasswordHash, passwordHash) {
		return "", fmt.Errorf("%w: invalid room credentials", ErrUnauthorized)
	}
	return r.Name, nil
}

// SendMessage 校验、落库，成功后再发布 newMessage
func (s *Service) SendMessage(ctx context.Context, room, passwordHash string, in MessageInput) (*entity.Message, error) {
	if err := validateMessage(in); err != nil {
		return nil, err
	}
	r, err := authorizeRoom(ctx, s.rooms, room, passwordHash)
	if err != nil {
		return nil, err
	}
	if r.IsBlacklisted(in.SenderTokenHash) {
		return nil, fmt.Errorf("%w: sender is blacklisted", ErrUnauthorized)
	}

	msg := entity.Message{
		ID:              uuid.NewString(),
		Content:         in.Content,
		SenderTokenHash: in.SenderTokenHash,
		SenderUsername:  in.SenderUsername,
		ReplyTo:         in.ReplyTo,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.rooms.AppendMessage(ctx, r.Name, msg); err != nil {
		return nil, err
	}

	if err := s.bus.Publish(bus.MessagePublished{Room: r.Name, PasswordHash: r.PasswordHash, Message: msg}); err != nil {
		log.Error().Err(err).Str("room", r.Name).Str("message_id", msg.ID).Msg("publish new message failed")
	}
	s.metrics.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("room", r.Name)))
	return &msg, nil
}

// ListMessages 最近 limit 条消息，按时间正序
func (s *Service) ListMessages(ctx context.Context, room, passwordHash string, limit int) ([]entity.Message, error) {
	r, err := authorizeRoom(ctx, s.rooms, room, passwordHash)
	if err != nil {
		return nil, err
	}
	return s.rooms.ListMessages(ctx, r.Name, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

func validateMessage(in MessageInput) error {
	n := utf8.RuneCountInString(in.Content)
	if n < entity.MessageMinLength || n > entity.MessageMaxLength {
		return fmt.Errorf("%w: content must be %d..%d characters", ErrInvalidMessage, entity.MessageMinLength, entity.MessageMaxLength)
	}
	if in.SenderTokenHash == "" || in.SenderUsername == "" {
		return fmt.Errorf("%w: sender identity required", ErrInvalidMessage)
	}
	if in.ReplyTo != nil && (in.ReplyTo.MessageID == "" || in.ReplyTo.PreviewContent == "") {
		return fmt.Errorf("%w: reply_to needs message_id and preview_content", ErrInvalidMessage)
	}
	return nil
}
