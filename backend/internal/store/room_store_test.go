package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"cipherchat/backend/internal/entity"
)

func sequentialInvites(prefix string) InviteCodeFunc {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s-invite-%d", prefix, n), nil
	}
}

// exerciseRoomStore 对任意实现跑同一套契约
func exerciseRoomStore(t *testing.T, s RoomStore, name string) {
	ctx := context.Background()
	room := entity.Room{
		Name:           name,
		PasswordHash:   "pw",
		InviteCode:     name + "-initial",
		AdminTokenHash: "admin",
	}
	created, err := s.CreateRoom(ctx, room)
	if err != nil {
		t.Fatalf("CreateRoom error: %v", err)
	}
	if created.InviteCode != room.InviteCode {
		t.Fatalf("created invite = %q, want %q", created.InviteCode, room.InviteCode)
	}
	if _, err := s.CreateRoom(ctx, room); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("duplicate CreateRoom error = %v, want ErrRoomExists", err)
	}

	if _, err := s.FindRoom(ctx, name+"-missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("FindRoom(missing) error = %v, want ErrRoomNotFound", err)
	}
	byInvite, err := s.FindRoomByInvite(ctx, room.InviteCode)
	if err != nil || byInvite.Name != name {
		t.Fatalf("FindRoomByInvite = (%v, %v)", byInvite, err)
	}

	firstID := uuid.NewString()
	for i := 0; i < 3; i++ {
		id := firstID
		if i > 0 {
			id = uuid.NewString()
		}
		msg := entity.Message{
			ID:              id,
			Content:         fmt.Sprintf("m%d", i),
			SenderTokenHash: "h",
			SenderUsername:  "alice",
			CreatedAt:       time.Now(),
		}
		if i == 2 {
			msg.ReplyTo = &entity.ReplyTo{MessageID: firstID, PreviewContent: "m0"}
		}
		if err := s.AppendMessage(ctx, name, msg); err != nil {
			t.Fatalf("AppendMessage error: %v", err)
		}
	}
	msgs, err := s.ListMessages(ctx, name, 2)
	if err != nil {
		t.Fatalf("ListMessages error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "m1" || msgs[1].Content != "m2" {
		t.Fatalf("ListMessages = %+v, want [m1 m2]", msgs)
	}
	if msgs[1].ReplyTo == nil || msgs[1].ReplyTo.PreviewContent != "m0" {
		t.Fatalf("reply_to not preserved: %+v", msgs[1].ReplyTo)
	}

	if err := s.AppendBlacklistEntry(ctx, name, "bad"); err != nil {
		t.Fatalf("AppendBlacklistEntry error: %v", err)
	}
	if err := s.AppendBlacklistEntry(ctx, name, "bad"); err != nil {
		t.Fatalf("repeated AppendBlacklistEntry error: %v", err)
	}
	code, err := s.RotateInviteCode(ctx, name)
	if err != nil {
		t.Fatalf("RotateInviteCode error: %v", err)
	}
	got, err := s.FindRoom(ctx, name)
	if err != nil {
		t.Fatalf("FindRoom error: %v", err)
	}
	if got.InviteCode != code || code == room.InviteCode {
		t.Fatalf("invite after rotate = %q (returned %q, old %q)", got.InviteCode, code, room.InviteCode)
	}
	if len(got.BlacklistedUserTokenHashes) != 1 || !got.IsBlacklisted("bad") {
		t.Fatalf("blacklist = %v, want [bad]", got.BlacklistedUserTokenHashes)
	}
	if _, err := s.FindRoomByInvite(ctx, room.InviteCode); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("old invite still resolves: %v", err)
	}

	if _, err := s.RotateInviteCode(ctx, name+"-missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("RotateInviteCode(missing) error = %v, want ErrRoomNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseRoomStore(t, NewMemoryStore(sequentialInvites("mem")), "team_x")
}

func TestGormRoomStore(t *testing.T) {
	dsn := os.Getenv("CHAT_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skip: CHAT_TEST_MYSQL_DSN not set")
	}
	db, err := InitMySQL(dsn)
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	name := fmt.Sprintf("store_test_%d", time.Now().UnixNano())
	exerciseRoomStore(t, NewGormRoomStore(db, sequentialInvites(name)), name)
}
