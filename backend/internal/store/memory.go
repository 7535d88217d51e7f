package store

import (
	"context"
	"slices"
	"sync"

	"cipherchat/backend/internal/entity"
)

type memoryRoom struct {
	room     entity.Room
	messages []entity.Message
}

// memoryStore 进程内实现：未配置 MySQL 时使用，也用于测试
type memoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]*memoryRoom
	byInvite  map[string]string
	newInvite InviteCodeFunc
}

func NewMemoryStore(newInvite InviteCodeFunc) RoomStore {
	return &memoryStore{
		rooms:     make(map[string]*memoryRoom),
		byInvite:  make(map[string]string),
		newInvite: newInvite,
	}
}

func cloneRoom(r entity.Room) *entity.Room {
	r.ModeratorTokenHashes = slices.Clone(r.ModeratorTokenHashes)
	r.BlacklistedUserTokenHashes = slices.Clone(r.BlacklistedUserTokenHashes)
	return &r
}

func (s *memoryStore) CreateRoom(_ context.Context, room entity.Room) (*entity.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Name]; ok {
		return nil, ErrRoomExists
	}
	if _, ok := s.byInvite[room.InviteCode]; ok {
		return nil, ErrRoomExists
	}
	s.rooms[room.Name] = &memoryRoom{room: *cloneRoom(room)}
	s.byInvite[room.InviteCode] = room.Name
	return cloneRoom(room), nil
}

func (s *memoryStore) FindRoom(_ context.Context, name string) (*entity.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(r.room), nil
}

func (s *memoryStore) FindRoomByInvite(ctx context.Context, inviteCode string) (*entity.Room, error) {
	s.mu.RLock()
	name, ok := s.byInvite[inviteCode]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s.FindRoom(ctx, name)
}

func (s *memoryStore) AppendMessage(_ context.Context, room string, msg entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (s *memoryStore) ListMessages(_ context.Context, room string, limit int) ([]entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil, ErrRoomNotFound
	}
	msgs := r.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (s *memoryStore) AppendBlacklistEntry(_ context.Context, room string, userTokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotFound
	}
	if !slices.Contains(r.room.BlacklistedUserTokenHashes, userTokenHash) {
		r.room.BlacklistedUserTokenHashes = append(r.room.BlacklistedUserTokenHashes, userTokenHash)
	}
	return nil
}

func (s *memoryStore) RotateInviteCode(_ context.Context, room string) (string, error) {
	code, err := s.newInvite()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return "", ErrRoomNotFound
	}
	delete(s.byInvite, r.room.InviteCode)
	r.room.InviteCode = code
	s.byInvite[code] = room
	return code, nil
}
