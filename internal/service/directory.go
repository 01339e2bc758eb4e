// Package service はビジネスロジックを担当します
// ルームの作成・検索・参加・退出・削除と、それに伴う不変条件を管理します
package service

import (
	"context"
	"errors"
	"time"

	"github.com/s6ptember/videocall-app/internal/activity"
	"github.com/s6ptember/videocall-app/internal/config"
	"github.com/s6ptember/videocall-app/internal/idgen"
	"github.com/s6ptember/videocall-app/internal/models"
	"github.com/s6ptember/videocall-app/internal/repo"
)

// RoomDirectory はルーム台帳のビジネスロジックを提供します
//
// 不変条件:
//   - 参加者数は常に MaxParticipants 以下
//   - 短縮コードは生存中のルーム間で一意（失効後は再利用可）
//   - 参加者が0人になったルームは保持されず即座に削除される
//
// 同一ルームへの変更操作の直列化はストア側（repo.RoomStore.UpdateRoom）が
// 保証します。失効したルームは参照された時点で遅延削除されます
type RoomDirectory struct {
	store repo.RoomStore
	rec   activity.Recorder
	cfg   config.Config
}

// NewRoomDirectory は新しいRoomDirectoryを作成します
func NewRoomDirectory(store repo.RoomStore, rec activity.Recorder, cfg config.Config) *RoomDirectory {
	return &RoomDirectory{store: store, rec: rec, cfg: cfg}
}

// Create は新しいルームを作成します
// 短縮コードは生存中のルームと衝突しなくなるまで再生成されます
// 試行回数の上限に達した場合は ErrCodeSpaceExhausted を返します
func (d *RoomDirectory) Create(ctx context.Context, creatorIP string) (models.Room, error) {
	now := time.Now()
	room := models.Room{
		RoomId:          idgen.NewRoomID(),
		CreatedAt:       now,
		ExpiresAt:       now.Add(d.cfg.RoomTTL),
		Participants:    []string{},
		MaxParticipants: d.cfg.MaxParticipants,
		IsActive:        true,
		CreatorIP:       creatorIP,
	}

	for i := 0; i < d.cfg.CodeAttempts; i++ {
		code, err := idgen.NewShortCode(d.cfg.CodeAlphabet, d.cfg.CodeLength)
		if err != nil {
			return models.Room{}, err
		}
		room.ShortCode = code

		// SaveRoom はコードをNXで予約するため、衝突はここで検出される
		err = d.store.SaveRoom(ctx, room, d.cfg.RoomTTL)
		if errors.Is(err, repo.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return models.Room{}, err
		}

		d.rec.Record(activity.Event{
			RoomId:    room.RoomId,
			Action:    activity.ActionCreated,
			Timestamp: time.Now(),
			IP:        creatorIP,
		})
		return room, nil
	}
	return models.Room{}, ErrCodeSpaceExhausted
}

// GetByID はルームIDでルームを取得します
// 失効していた場合は削除し、存在しない扱いにします（遅延削除）
func (d *RoomDirectory) GetByID(ctx context.Context, roomId string) (models.Room, bool, error) {
	room, ok, err := d.store.GetRoom(ctx, roomId)
	if err != nil || !ok {
		return models.Room{}, false, err
	}
	if room.IsExpired(time.Now()) {
		if err := d.purgeExpired(ctx, room); err != nil {
			return models.Room{}, false, err
		}
		return models.Room{}, false, nil
	}
	return room, true, nil
}

// GetByCode は短縮コードでルームを取得します
func (d *RoomDirectory) GetByCode(ctx context.Context, code string) (models.Room, bool, error) {
	roomId, ok, err := d.store.ResolveCode(ctx, code)
	if err != nil || !ok {
		return models.Room{}, false, err
	}
	return d.GetByID(ctx, roomId)
}

// Resolve はルームIDまたは短縮コードをルームに解決します
// ルームIDとしての解決を先に試し、見つからなければ短縮コードとして扱います
func (d *RoomDirectory) Resolve(ctx context.Context, identifier string) (models.Room, bool, error) {
	room, ok, err := d.GetByID(ctx, identifier)
	if err != nil || ok {
		return room, ok, err
	}
	return d.GetByCode(ctx, identifier)
}

// Join は参加者をルームに追加します
// identifier はルームIDまたは短縮コード。既に参加済みの場合は
// 何も変更せず現在のルームを返します（冪等）
func (d *RoomDirectory) Join(ctx context.Context, identifier, participantId, ip string) (models.Room, error) {
	room, ok, err := d.Resolve(ctx, identifier)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}

	var joined bool
	updated, ok, err := d.store.UpdateRoom(ctx, room.RoomId, d.cfg.RoomTTL, func(r *models.Room) error {
		// 解決から更新までの間の状態変化もここで検出する
		if r.IsExpired(time.Now()) {
			return ErrRoomExpired
		}
		if !r.IsActive {
			return ErrRoomInactive
		}
		if r.HasParticipant(participantId) {
			return repo.ErrSkipUpdate
		}
		if r.IsFull() {
			return ErrRoomFull
		}
		r.Participants = append(r.Participants, participantId)
		joined = true
		return nil
	})
	if errors.Is(err, ErrRoomExpired) {
		// 失効を検出したルームは削除してから失敗を返す
		if purgeErr := d.purgeExpired(ctx, room); purgeErr != nil {
			return models.Room{}, purgeErr
		}
		return models.Room{}, ErrRoomExpired
	}
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}

	if joined {
		d.rec.Record(activity.Event{
			RoomId:           updated.RoomId,
			Action:           activity.ActionJoined,
			Timestamp:        time.Now(),
			ParticipantCount: len(updated.Participants),
			IP:               ip,
		})
	}
	return updated, nil
}

// Leave は参加者をルームから退出させます
// 参加者がルームに存在しない場合は何も変更せず false を返します（冪等）
// 退出により参加者が0人になったルームは即座に削除されます
func (d *RoomDirectory) Leave(ctx context.Context, roomId, participantId string) (bool, error) {
	var removed bool
	updated, ok, err := d.store.UpdateRoom(ctx, roomId, d.cfg.RoomTTL, func(r *models.Room) error {
		if !r.HasParticipant(participantId) {
			return repo.ErrSkipUpdate
		}
		out := r.Participants[:0:0]
		for _, p := range r.Participants {
			if p != participantId {
				out = append(out, p)
			}
		}
		r.Participants = out
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !ok || !removed {
		return false, nil
	}

	d.rec.Record(activity.Event{
		RoomId:           updated.RoomId,
		Action:           activity.ActionLeft,
		Timestamp:        time.Now(),
		ParticipantCount: len(updated.Participants),
	})

	if len(updated.Participants) == 0 {
		if _, err := d.Delete(ctx, roomId); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Delete はルームを削除します
// 主レコードと短縮コード索引をまとめて取り除きます
// ルームが存在しなかった場合は false を返します
func (d *RoomDirectory) Delete(ctx context.Context, roomId string) (bool, error) {
	room, ok, err := d.store.GetRoom(ctx, roomId)
	if err != nil || !ok {
		return false, err
	}

	existed, err := d.store.DeleteRoom(ctx, roomId, room.ShortCode)
	if err != nil {
		return false, err
	}
	if existed {
		d.rec.Record(activity.Event{
			RoomId:    roomId,
			Action:    activity.ActionDeleted,
			Timestamp: time.Now(),
		})
	}
	return existed, nil
}

// purgeExpired は失効したルームを削除し、expired イベントを記録します
func (d *RoomDirectory) purgeExpired(ctx context.Context, room models.Room) error {
	existed, err := d.store.DeleteRoom(ctx, room.RoomId, room.ShortCode)
	if err != nil {
		return err
	}
	if existed {
		d.rec.Record(activity.Event{
			RoomId:    room.RoomId,
			Action:    activity.ActionExpired,
			Timestamp: time.Now(),
		})
	}
	return nil
}
