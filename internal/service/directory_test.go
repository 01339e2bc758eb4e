package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s6ptember/videocall-app/internal/activity"
	"github.com/s6ptember/videocall-app/internal/config"
	"github.com/s6ptember/videocall-app/internal/models"
	"github.com/s6ptember/videocall-app/internal/repo"
	"github.com/s6ptember/videocall-app/internal/service"
)

// recorder はテスト用にイベントを蓄積するRecorder
type recorder struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recorder) Record(ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) actions() []activity.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]activity.Action, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		RoomTTL:         time.Hour,
		MaxParticipants: 2,
		CodeLength:      6,
		CodeAlphabet:    "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		CodeAttempts:    100,
	}
}

func newDirectory(t *testing.T, cfg config.Config) (*service.RoomDirectory, *repo.MemoryRoomStore, *recorder) {
	t.Helper()
	store := repo.NewMemoryRoomStore()
	rec := &recorder{}
	return service.NewRoomDirectory(store, rec, cfg), store, rec
}

func TestRoomDirectory_Create(t *testing.T) {
	d, _, rec := newDirectory(t, testConfig())

	room, err := d.Create(context.Background(), "192.0.2.1")
	require.NoError(t, err)

	assert.NotEmpty(t, room.RoomId)
	assert.Len(t, room.ShortCode, 6)
	assert.Empty(t, room.Participants)
	assert.Equal(t, 2, room.MaxParticipants)
	assert.True(t, room.IsActive)
	assert.Equal(t, "192.0.2.1", room.CreatorIP)
	assert.True(t, room.ExpiresAt.After(room.CreatedAt))

	assert.Equal(t, []activity.Action{activity.ActionCreated}, rec.actions())
}

// 生存中のルーム同士で短縮コードが重複しないこと
func TestRoomDirectory_Create_UniqueShortCodes(t *testing.T) {
	d, _, _ := newDirectory(t, testConfig())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room, err := d.Create(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, seen[room.ShortCode], "duplicate short code: %s", room.ShortCode)
		seen[room.ShortCode] = true
	}
}

// コード空間が飽和すると試行上限で決定的に失敗すること
func TestRoomDirectory_Create_CodeSpaceExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.CodeAlphabet = "A"
	cfg.CodeLength = 1

	d, _, _ := newDirectory(t, cfg)

	// コード空間は "A" の1つだけ
	_, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Create(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrCodeSpaceExhausted)
}

func TestRoomDirectory_GetByCode(t *testing.T) {
	d, _, _ := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	room, ok, err := d.GetByCode(context.Background(), created.ShortCode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.RoomId, room.RoomId)

	_, ok, err = d.GetByCode(context.Background(), "ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoomDirectory_Join(t *testing.T) {
	d, _, rec := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	// ルームIDで参加
	room, err := d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Participants)

	// 短縮コードでも参加できる
	room, err = d.Join(context.Background(), created.ShortCode, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, room.Participants)

	assert.Equal(t, []activity.Action{
		activity.ActionCreated,
		activity.ActionJoined,
		activity.ActionJoined,
	}, rec.actions())
}

// 同じ参加者の再参加は状態を変えないこと（冪等）
func TestRoomDirectory_Join_Idempotent(t *testing.T) {
	d, _, rec := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)

	room, err := d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Participants)

	// 2回目の参加ではイベントが記録されない
	assert.Equal(t, []activity.Action{
		activity.ActionCreated,
		activity.ActionJoined,
	}, rec.actions())
}

func TestRoomDirectory_Join_Full(t *testing.T) {
	d, _, _ := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)
	_, err = d.Join(context.Background(), created.RoomId, "bob", "")
	require.NoError(t, err)

	_, err = d.Join(context.Background(), created.RoomId, "carol", "")
	assert.ErrorIs(t, err, service.ErrRoomFull)

	// 上限超過の試行は何も変更しない
	room, ok, err := d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, room.Participants)

	// 満員でも既存メンバーの再参加は成功する
	room, err = d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)
	assert.Len(t, room.Participants, 2)
}

func TestRoomDirectory_Join_NotFound(t *testing.T) {
	d, _, _ := newDirectory(t, testConfig())

	_, err := d.Join(context.Background(), "no-such-room", "alice", "")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomDirectory_Join_Inactive(t *testing.T) {
	d, store, _ := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	// 無効化された状態を作る
	_, ok, err := store.UpdateRoom(context.Background(), created.RoomId, time.Hour, func(r *models.Room) error {
		r.IsActive = false
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	assert.ErrorIs(t, err, service.ErrRoomInactive)
}

// 失効したルームへの参加は失敗し、ルームは遅延削除されること
func TestRoomDirectory_Join_Expired(t *testing.T) {
	d, store, rec := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	// expires_at だけを過去にする（ストアのTTLはまだ生きている）
	_, ok, err := store.UpdateRoom(context.Background(), created.RoomId, time.Hour, func(r *models.Room) error {
		r.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	assert.ErrorIs(t, err, service.ErrRoomExpired)

	// 削除済みであることを確認
	_, ok, err = d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.GetByCode(context.Background(), created.ShortCode)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, rec.actions(), activity.ActionExpired)
}

// 失効したルームは GetByID の時点でも削除されること
func TestRoomDirectory_GetByID_PurgesExpired(t *testing.T) {
	d, store, _ := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, ok, err := store.UpdateRoom(context.Background(), created.RoomId, time.Hour, func(r *models.Room) error {
		r.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.False(t, ok)

	// 直接ストアを見ても消えている
	_, ok, err = store.GetRoom(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoomDirectory_Leave(t *testing.T) {
	d, _, rec := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)
	_, err = d.Join(context.Background(), created.RoomId, "bob", "")
	require.NoError(t, err)

	left, err := d.Leave(context.Background(), created.RoomId, "alice")
	require.NoError(t, err)
	assert.True(t, left)

	room, ok, err := d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, room.Participants)

	// 最後の参加者が抜けるとルームは削除される
	left, err = d.Leave(context.Background(), created.RoomId, "bob")
	require.NoError(t, err)
	assert.True(t, left)

	_, ok, err = d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.GetByCode(context.Background(), created.ShortCode)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []activity.Action{
		activity.ActionCreated,
		activity.ActionJoined,
		activity.ActionJoined,
		activity.ActionLeft,
		activity.ActionLeft,
		activity.ActionDeleted,
	}, rec.actions())
}

// 不在の参加者の退出は何も変更せず false を返すこと（冪等）
func TestRoomDirectory_Leave_Absent(t *testing.T) {
	d, _, rec := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Join(context.Background(), created.RoomId, "alice", "")
	require.NoError(t, err)

	left, err := d.Leave(context.Background(), created.RoomId, "mallory")
	require.NoError(t, err)
	assert.False(t, left)

	room, ok, err := d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, room.Participants)

	// 存在しないルームからの退出も false
	left, err = d.Leave(context.Background(), "no-such-room", "alice")
	require.NoError(t, err)
	assert.False(t, left)

	assert.NotContains(t, rec.actions(), activity.ActionDeleted)
}

func TestRoomDirectory_Delete(t *testing.T) {
	d, _, _ := newDirectory(t, testConfig())

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	deleted, err := d.Delete(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.True(t, deleted)

	// コード索引も一緒に消えている
	_, ok, err := d.GetByCode(context.Background(), created.ShortCode)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = d.Delete(context.Background(), created.RoomId)
	require.NoError(t, err)
	assert.False(t, deleted)
}

// 削除されたルームの短縮コードは新しいルームで再利用できること
func TestRoomDirectory_ShortCodeReusableAfterDelete(t *testing.T) {
	cfg := testConfig()
	cfg.CodeAlphabet = "A"
	cfg.CodeLength = 1

	d, _, _ := newDirectory(t, cfg)

	first, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	_, err = d.Delete(context.Background(), first.RoomId)
	require.NoError(t, err)

	second, err := d.Create(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, first.ShortCode, second.ShortCode)
	assert.NotEqual(t, first.RoomId, second.RoomId)
}

// 同じルームへの並行参加でも定員と順序の不変条件が守られること
func TestRoomDirectory_ConcurrentJoin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxParticipants = 10

	d, _, _ := newDirectory(t, cfg)

	created, err := d.Create(context.Background(), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = d.Join(context.Background(), created.RoomId, string(rune('a'+n)), "")
		}(i)
	}
	wg.Wait()

	var full int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, service.ErrRoomFull)
			full++
		}
	}
	assert.Equal(t, 10, full)

	room, ok, err := d.GetByID(context.Background(), created.RoomId)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, room.Participants, 10)
}
