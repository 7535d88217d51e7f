// Package presence 维护每个房间的在线名单。
// 名单存放在按房间串行化的 KeyedCache 里，读-改-写全程持有房间锁，
// 并发加入/离开不会互相覆盖。
package presence

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/cache"
	"cipherchat/backend/internal/entity"
)

type Roster = []entity.PresenceEntry

type Tracker struct {
	rosters *cache.KeyedCache[Roster]
	bus     *bus.Bus
	// 可选：名单镜像（redis），nil 表示不镜像
	mirror cache.PresenceMirror
	now    func() time.Time
}

type Option func(*Tracker)

func WithMirror(m cache.PresenceMirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(b *bus.Bus, opts ...Option) *Tracker {
	t := &Tracker{
		rosters: cache.NewKeyedCache[Roster](),
		bus:     b,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join 把成员加入房间名单（按 UserTokenHash 去重），发布 MemberJoined 并返回新名单
func (t *Tracker) Join(ctx context.Context, room string, userHash, userName string) (Roster, error) {
	h, err := t.rosters.Acquire(ctx, room)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	current, _ := h.Load()
	member := entity.PresenceEntry{UserTokenHash: userHash, UserName: userName, JoinedAt: t.now()}
	next := slices.Clone(current)
	if i := indexOf(current, userHash); i >= 0 {
		member = current[i]
	} else {
		next = append(next, member)
	}
	h.Store(next)

	t.publish(bus.MemberJoined{Room: room, Member: member, Roster: slices.Clone(next)})
	t.mirrorRoster(ctx, room, next)
	return slices.Clone(next), nil
}

// Leave 从名单中移除该成员的全部条目。
// 房间名单不存在视为已经为空：什么也不做，不发布事件。
func (t *Tracker) Leave(ctx context.Context, room string, userHash string) (Roster, error) {
	h, err := t.rosters.Acquire(ctx, room)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	current, ok := h.Load()
	if !ok {
		return nil, nil
	}
	next := slices.DeleteFunc(slices.Clone(current), func(e entity.PresenceEntry) bool {
		return e.UserTokenHash == userHash
	})
	h.Store(next)

	t.publish(bus.MemberLeft{Room: room, MemberHash: userHash, Roster: slices.Clone(next)})
	t.mirrorRoster(ctx, room, next)
	return slices.Clone(next), nil
}

// Roster 返回房间名单的一致快照
func (t *Tracker) Roster(ctx context.Context, room string) (Roster, error) {
	r, _, err := t.rosters.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	return slices.Clone(r), nil
}

func (t *Tracker) publish(evt bus.Event) {
	if err := t.bus.Publish(evt); err != nil {
		log.Error().Err(err).Str("topic", string(evt.Topic())).Msg("publish presence event failed")
	}
}

func (t *Tracker) mirrorRoster(ctx context.Context, room string, roster Roster) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SaveRoster(ctx, room, roster); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("mirror roster failed")
	}
}

func indexOf(roster Roster, userHash string) int {
	return slices.IndexFunc(roster, func(e entity.PresenceEntry) bool {
		return e.UserTokenHash == userHash
	})
}
