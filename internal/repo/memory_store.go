package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/s6ptember/videocall-app/internal/models"
)

// MemoryRoomStore は RoomStore のプロセス内実装
// Redisを使わないローカル実行とユニットテストで使用します
// Redis実装と同じTTLセマンティクス（期限切れエントリは存在しない扱い）を持ちます
type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*memEntry
	codes map[string]string // shortCode -> roomId
}

// memEntry は1ルーム分のレコード
// エントリ単位のロックにより、異なるルームへの操作は互いをブロックしません
type memEntry struct {
	mu       sync.Mutex
	room     models.Room
	deadline time.Time
	gone     bool
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: make(map[string]*memEntry),
		codes: make(map[string]string),
	}
}

// live はエントリが有効（削除済みでなくTTL内）かを返します
// e.mu を保持した状態で呼び出すこと
func (e *memEntry) live(now time.Time) bool {
	return !e.gone && now.Before(e.deadline)
}

func cloneRoom(r models.Room) models.Room {
	r.Participants = slices.Clone(r.Participants)
	return r
}

func (s *MemoryRoomStore) SaveRoom(_ context.Context, room models.Room, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// コードが生存中のルームに紐付いていれば予約失敗（SETNX相当）
	if rid, ok := s.codes[room.ShortCode]; ok {
		if e, ok := s.rooms[rid]; ok {
			e.mu.Lock()
			taken := e.live(now)
			e.mu.Unlock()
			if taken {
				return ErrCodeTaken
			}
		}
	}

	s.rooms[room.RoomId] = &memEntry{
		room:     cloneRoom(room),
		deadline: now.Add(ttl),
	}
	s.codes[room.ShortCode] = room.RoomId
	return nil
}

func (s *MemoryRoomStore) GetRoom(_ context.Context, roomId string) (models.Room, bool, error) {
	s.mu.RLock()
	e, ok := s.rooms[roomId]
	s.mu.RUnlock()
	if !ok {
		return models.Room{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(time.Now()) {
		return models.Room{}, false, nil
	}
	return cloneRoom(e.room), true, nil
}

func (s *MemoryRoomStore) ResolveCode(_ context.Context, code string) (string, bool, error) {
	s.mu.RLock()
	roomId, ok := s.codes[code]
	e := s.rooms[roomId]
	s.mu.RUnlock()
	if !ok || e == nil {
		return "", false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(time.Now()) {
		return "", false, nil
	}
	return roomId, true, nil
}

func (s *MemoryRoomStore) UpdateRoom(_ context.Context, roomId string, ttl time.Duration, fn func(*models.Room) error) (models.Room, bool, error) {
	s.mu.RLock()
	e, ok := s.rooms[roomId]
	s.mu.RUnlock()
	if !ok {
		return models.Room{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if !e.live(now) {
		return models.Room{}, false, nil
	}

	r := cloneRoom(e.room)
	if err := fn(&r); err != nil {
		if err == ErrSkipUpdate {
			return cloneRoom(e.room), true, nil
		}
		return models.Room{}, false, err
	}

	e.room = r
	e.deadline = now.Add(ttl)
	return cloneRoom(r), true, nil
}

func (s *MemoryRoomStore) DeleteRoom(_ context.Context, roomId, shortCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[roomId]
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	existed := e.live(time.Now())
	e.gone = true
	e.mu.Unlock()

	delete(s.rooms, roomId)
	if rid, ok := s.codes[shortCode]; ok && rid == roomId {
		delete(s.codes, shortCode)
	}
	return existed, nil
}

func (s *MemoryRoomStore) Close() error { return nil }
