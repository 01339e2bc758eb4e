package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s6ptember/videocall-app/internal/models"
)

// maxTxRetries は楽観的トランザクション（WATCH）のリトライ上限
const maxTxRetries = 5

// delCodeIfOwner は短縮コード索引が指定のルームIDを指している場合のみ削除します
// 失効後にコードが別のルームへ再割り当てされていても、新しい索引を壊しません
var delCodeIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRoomStore は RoomStore のRedis実装
type RedisRoomStore struct{ rdb *redis.Client }

func NewRedisRoomStore(rdb *redis.Client) *RedisRoomStore {
	return &RedisRoomStore{rdb: rdb}
}

func roomKey(id string) string {
	return fmt.Sprintf("room:%s", id)
}
func codeKey(code string) string {
	return fmt.Sprintf("room_code:%s", code)
}

func (s *RedisRoomStore) SaveRoom(ctx context.Context, room models.Room, ttl time.Duration) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}

	// 短縮コードをNXで予約してから主レコードを書く
	// 予約に失敗した場合は呼び出し側が別のコードで再試行する
	ok, err := s.rdb.SetNX(ctx, codeKey(room.ShortCode), room.RoomId, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}

	if err := s.rdb.Set(ctx, roomKey(room.RoomId), b, ttl).Err(); err != nil {
		// 主レコードの書き込みに失敗したら予約を解放
		_ = s.rdb.Del(ctx, codeKey(room.ShortCode)).Err()
		return err
	}
	return nil
}

func (s *RedisRoomStore) GetRoom(ctx context.Context, roomId string) (models.Room, bool, error) {
	val, err := s.rdb.Get(ctx, roomKey(roomId)).Bytes()
	if err == redis.Nil { // データがない
		return models.Room{}, false, nil
	}
	if err != nil {
		return models.Room{}, false, err
	}
	var r models.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Room{}, false, err
	}
	return r, true, nil
}

func (s *RedisRoomStore) ResolveCode(ctx context.Context, code string) (string, bool, error) {
	roomId, err := s.rdb.Get(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roomId, true, nil
}

// UpdateRoom はWATCHによる楽観的トランザクションで read-modify-write を行います
// 同じルームへの並行更新はCAS失敗として検出され、リトライされます
func (s *RedisRoomStore) UpdateRoom(ctx context.Context, roomId string, ttl time.Duration, fn func(*models.Room) error) (models.Room, bool, error) {
	var (
		out   models.Room
		found bool
	)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, roomKey(roomId)).Bytes()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		var r models.Room
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = r

		if err := fn(&r); err != nil {
			return err
		}
		out = r

		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(roomId), b, ttl)
			pipe.Expire(ctx, codeKey(r.ShortCode), ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, roomKey(roomId))
		switch {
		case err == nil:
			if !found {
				return models.Room{}, false, nil
			}
			return out, true, nil
		case errors.Is(err, ErrSkipUpdate):
			// 更新不要、読み出した値をそのまま返す
			return out, true, nil
		case errors.Is(err, redis.TxFailedErr):
			continue // 競合、リトライ
		default:
			return models.Room{}, false, err
		}
	}
	return models.Room{}, false, redis.TxFailedErr
}

func (s *RedisRoomStore) DeleteRoom(ctx context.Context, roomId, shortCode string) (bool, error) {
	if err := delCodeIfOwner.Run(ctx, s.rdb, []string{codeKey(shortCode)}, roomId).Err(); err != nil {
		return false, err
	}
	deleted, err := s.rdb.Del(ctx, roomKey(roomId)).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (s *RedisRoomStore) Close() error {
	return s.rdb.Close()
}
