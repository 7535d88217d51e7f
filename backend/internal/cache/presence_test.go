package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cipherchat/backend/internal/entity"
)

func TestRedisPresence_SaveRoster(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	ctx := context.Background()
	defer rdb.Del(ctx, rosterKey("mirror_test"), roomsKey())

	mirror := NewRedisPresence(rdb)
	joined := time.Now().UTC().Truncate(time.Millisecond)
	roster := []entity.PresenceEntry{
		{UserTokenHash: "h1", UserName: "alice", JoinedAt: joined},
		{UserTokenHash: "h2", UserName: "bob", JoinedAt: joined},
	}
	if err := mirror.SaveRoster(ctx, "mirror_test", roster); err != nil {
		t.Fatalf("SaveRoster error: %v", err)
	}

	got, err := mirror.Roster(ctx, "mirror_test")
	if err != nil {
		t.Fatalf("Roster error: %v", err)
	}
	if len(got) != 2 || got[0].UserName != "alice" || got[1].UserTokenHash != "h2" {
		t.Fatalf("Roster = %+v, want alice,bob", got)
	}
	if !got[0].JoinedAt.Equal(joined) {
		t.Fatalf("JoinedAt = %v, want %v", got[0].JoinedAt, joined)
	}

	rooms, err := mirror.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms error: %v", err)
	}
	t.Logf("Rooms -> %v", rooms)

	// 清空名单后房间从索引中移除
	if err := mirror.SaveRoster(ctx, "mirror_test", nil); err != nil {
		t.Fatalf("SaveRoster(empty) error: %v", err)
	}
	got, err = mirror.Roster(ctx, "mirror_test")
	if err != nil || got != nil {
		t.Fatalf("Roster after clear = (%v, %v), want (nil, nil)", got, err)
	}
	isMember, err := rdb.SIsMember(ctx, roomsKey(), "mirror_test").Result()
	if err != nil {
		t.Fatalf("SIsMember error: %v", err)
	}
	if isMember {
		t.Fatalf("room still indexed after roster cleared")
	}
}
