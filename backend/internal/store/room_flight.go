package store

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"cipherchat/backend/internal/entity"
)

const defaultLoadTimeout = 5 * time.Second

// roomFlights 合并同一房间的并发查询。
// 共享查询脱离调用者的 ctx 运行，单个调用者断开只影响它自己；
// 每次写入后世代号加一，写入完成之后发起的查询不会并入写入之前的查询。
type roomFlights struct {
	sf      singleflight.Group
	gen     atomic.Uint64
	timeout time.Duration
}

func (f *roomFlights) do(ctx context.Context, key string, load func(context.Context) (*entity.Room, error)) (*entity.Room, error) {
	key = strconv.FormatUint(f.gen.Load(), 10) + "|" + key
	ch := f.sf.DoChan(key, func() (interface{}, error) {
		timeout := f.timeout
		if timeout <= 0 {
			timeout = defaultLoadTimeout
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return load(loadCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// 共享结果，返回副本
		return cloneRoom(*res.Val.(*entity.Room)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invalidate 在写入提交后调用
func (f *roomFlights) invalidate() {
	f.gen.Add(1)
}
