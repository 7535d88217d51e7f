package cache

import (
	"context"
	"errors"
	"sort"

	redis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"cipherchat/backend/internal/entity"
)

// PresenceMirror 把进程内的在线名单镜像到外部存储，供运维/其他服务只读查询。
// 名单的权威状态始终在 KeyedCache 里，镜像写失败不影响加入/离开。
type PresenceMirror interface {
	SaveRoster(ctx context.Context, room string, roster []entity.PresenceEntry) error
	Roster(ctx context.Context, room string) ([]entity.PresenceEntry, error)
	Rooms(ctx context.Context) ([]string, error)
}

// 具体实现：基于 redis 的 PresenceMirror
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceMirror {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) SaveRoster(ctx context.Context, room string, roster []entity.PresenceEntry) error {
	tx := p.rdb.TxPipeline()
	if len(roster) == 0 {
		// 房间空了：删除快照并从索引里移除
		tx.Del(ctx, rosterKey(room))
		tx.SRem(ctx, roomsKey(), room)
	} else {
		b, err := msgpack.Marshal(roster)
		if err != nil {
			return err
		}
		tx.Set(ctx, rosterKey(room), b, 0)
		tx.SAdd(ctx, roomsKey(), room)
	}
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Roster(ctx context.Context, room string) ([]entity.PresenceEntry, error) {
	b, err := p.rdb.Get(ctx, rosterKey(room)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var roster []entity.PresenceEntry
	if err := msgpack.Unmarshal(b, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func (p *redisPresence) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(rooms)
	return rooms, nil
}
