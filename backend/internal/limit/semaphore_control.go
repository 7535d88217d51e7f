// Package limit 提供基于 channel 的计数信号量
package limit

import (
	"context"
	"errors"
)

var (
	ErrAcquireTimeout = errors.New("acquire reached time limit")
	ErrNotAcquired    = errors.New("release failed, semaphore is not acquired")
)

const DefaultSemaphoreSize = 100

type SemaphoreControl struct {
	ch chan struct{}
}

// NewSemaphoreControl size <= 0 时使用 DefaultSemaphoreSize
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultSemaphoreSize
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

// TryAcquire 不等待，满了直接返回 false
func (s *SemaphoreControl) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}

// InUse 当前被占用的数量
func (s *SemaphoreControl) InUse() int { return len(s.ch) }

func (s *SemaphoreControl) Cap() int { return cap(s.ch) }
