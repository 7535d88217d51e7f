package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cipherchat/backend/internal/entity"
)

type chatRoomRow struct {
	ID                   uint64   `gorm:"primaryKey;autoIncrement"`
	Name                 string   `gorm:"uniqueIndex;type:varchar(191);not null"`
	PasswordHash         string   `gorm:"type:char(64);not null"`
	InviteCode           string   `gorm:"uniqueIndex;type:char(96);not null"`
	AdminTokenHash       string   `gorm:"type:char(64);not null"`
	ModeratorTokenHashes []string `gorm:"serializer:json;type:json"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (chatRoomRow) TableName() string { return "chat_rooms" }

type blacklistRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	RoomID        uint64 `gorm:"uniqueIndex:uk_room_user;not null"`
	UserTokenHash string `gorm:"uniqueIndex:uk_room_user;type:varchar(128);not null"`
	CreatedAt     time.Time
}

func (blacklistRow) TableName() string { return "chat_room_blacklist" }

type messageRow struct {
	// Seq 自增主键用于稳定排序；MessageID 对外暴露
	Seq                   uint64  `gorm:"primaryKey;autoIncrement"`
	MessageID             string  `gorm:"uniqueIndex;type:char(36);not null"`
	RoomID                uint64  `gorm:"index;not null"`
	Content               string  `gorm:"type:varchar(2048);not null"`
	SenderTokenHash       string  `gorm:"type:varchar(128);not null"`
	SenderUsername        string  `gorm:"type:varchar(191);not null"`
	ReplyToMessageID      *string `gorm:"type:char(36)"`
	ReplyToPreviewContent *string `gorm:"type:varchar(2048)"`
	CreatedAt             time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

type gormRoomStore struct {
	db        *gorm.DB
	newInvite InviteCodeFunc
	// 每次订阅和发消息都要查房间，同一房间的并发查询合并为一次
	flights roomFlights
}

// InitMySQL 打开连接并自动迁移表结构
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&chatRoomRow{}, &blacklistRow{}, &messageRow{}); err != nil {
		return nil, err
	}
	return db, nil
}

func NewGormRoomStore(db *gorm.DB, newInvite InviteCodeFunc) RoomStore {
	return &gormRoomStore{db: db, newInvite: newInvite}
}

func isDuplicate(err error) bool {
	// 1062 = duplicate key
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func (s *gormRoomStore) CreateRoom(ctx context.Context, room entity.Room) (*entity.Room, error) {
	row := chatRoomRow{
		Name:                 room.Name,
		PasswordHash:         room.PasswordHash,
		InviteCode:           room.InviteCode,
		AdminTokenHash:       room.AdminTokenHash,
		ModeratorTokenHashes: room.ModeratorTokenHashes,
	}
	if row.ModeratorTokenHashes == nil {
		row.ModeratorTokenHashes = []string{}
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrRoomExists
		}
		return nil, err
	}
	s.flights.invalidate()
	return toRoom(row, nil), nil
}

func (s *gormRoomStore) FindRoom(ctx context.Context, name string) (*entity.Room, error) {
	return s.findBy(ctx, "name = ?", name)
}

func (s *gormRoomStore) FindRoomByInvite(ctx context.Context, inviteCode string) (*entity.Room, error) {
	return s.findBy(ctx, "invite_code = ?", inviteCode)
}

func (s *gormRoomStore) findBy(ctx context.Context, query string, arg string) (*entity.Room, error) {
	return s.flights.do(ctx, query+"|"+arg, func(ctx context.Context) (*entity.Room, error) {
		return s.loadRoom(ctx, query, arg)
	})
}

func (s *gormRoomStore) loadRoom(ctx context.Context, query string, arg string) (*entity.Room, error) {
	db := s.db.WithContext(ctx)
	var row chatRoomRow
	if err := db.Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	var blacklisted []string
	if err := db.Model(&blacklistRow{}).Where("room_id = ?", row.ID).Order("id").
		Pluck("user_token_hash", &blacklisted).Error; err != nil {
		return nil, err
	}
	return toRoom(row, blacklisted), nil
}

func (s *gormRoomStore) roomID(ctx context.Context, name string) (uint64, error) {
	var row chatRoomRow
	err := s.db.WithContext(ctx).Select("id").Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoomNotFound
		}
		return 0, err
	}
	return row.ID, nil
}

func (s *gormRoomStore) AppendMessage(ctx context.Context, room string, msg entity.Message) error {
	id, err := s.roomID(ctx, room)
	if err != nil {
		return err
	}
	row := messageRow{
		MessageID:       msg.ID,
		RoomID:          id,
		Content:         msg.Content,
		SenderTokenHash: msg.SenderTokenHash,
		SenderUsername:  msg.SenderUsername,
		CreatedAt:       msg.CreatedAt,
	}
	if msg.ReplyTo != nil {
		row.ReplyToMessageID = &msg.ReplyTo.MessageID
		row.ReplyToPreviewContent = &msg.ReplyTo.PreviewContent
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *gormRoomStore) ListMessages(ctx context.Context, room string, limit int) ([]entity.Message, error) {
	id, err := s.roomID(ctx, room)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	q := s.db.WithContext(ctx).Where("room_id = ?", id).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	msgs := make([]entity.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, toMessage(r))
	}
	return msgs, nil
}

func (s *gormRoomStore) AppendBlacklistEntry(ctx context.Context, room string, userTokenHash string) error {
	id, err := s.roomID(ctx, room)
	if err != nil {
		return err
	}
	row := blacklistRow{RoomID: id, UserTokenHash: userTokenHash}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	s.flights.invalidate()
	return nil
}

func (s *gormRoomStore) RotateInviteCode(ctx context.Context, room string) (string, error) {
	code, err := s.newInvite()
	if err != nil {
		return "", err
	}
	res := s.db.WithContext(ctx).Model(&chatRoomRow{}).Where("name = ?", room).Update("invite_code", code)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrRoomNotFound
	}
	s.flights.invalidate()
	return code, nil
}

func toRoom(row chatRoomRow, blacklisted []string) *entity.Room {
	return &entity.Room{
		Name:                       row.Name,
		PasswordHash:               row.PasswordHash,
		InviteCode:                 row.InviteCode,
		AdminTokenHash:             row.AdminTokenHash,
		ModeratorTokenHashes:       row.ModeratorTokenHashes,
		BlacklistedUserTokenHashes: blacklisted,
		CreatedAt:                  row.CreatedAt,
	}
}

func toMessage(r messageRow) entity.Message {
	m := entity.Message{
		ID:              r.MessageID,
		Content:         r.Content,
		SenderTokenHash: r.SenderTokenHash,
		SenderUsername:  r.SenderUsername,
		CreatedAt:       r.CreatedAt,
	}
	if r.ReplyToMessageID != nil {
		m.ReplyTo = &entity.ReplyTo{MessageID: *r.ReplyToMessageID}
		if r.ReplyToPreviewContent != nil {
			m.ReplyTo.PreviewContent = *r.ReplyToPreviewContent
		}
	}
	return m
}
