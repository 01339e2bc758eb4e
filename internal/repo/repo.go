// Package repo はルームデータの永続化を担当します
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/s6ptember/videocall-app/internal/models"
)

var (
	// ErrCodeTaken は短縮コードが既に生存中のルームに使われていることを表します
	ErrCodeTaken = errors.New("short code already in use")

	// ErrSkipUpdate は UpdateRoom の更新関数がこれを返すと
	// 書き込みを行わずに現在のルームをそのまま返します（冪等な操作用）
	ErrSkipUpdate = errors.New("skip update")
)

// RoomStore はルームの読み書きを行うインターフェース
// 主レコード（ルームID）と短縮コード索引の両方を管理します
//
// UpdateRoom は同一ルームIDに対する read-modify-write を直列化します
// 実装はキー単位のロックまたは楽観的トランザクション（CAS + リトライ）を
// 使用し、異なるルーム同士の操作は互いをブロックしません
type RoomStore interface {
	// SaveRoom は主レコードと短縮コード索引を同じTTLで保存します
	// コードが既に使用中の場合は ErrCodeTaken を返します
	SaveRoom(ctx context.Context, room models.Room, ttl time.Duration) error

	// GetRoom はルームIDでルームを取得します。存在しない場合は ok=false
	GetRoom(ctx context.Context, roomId string) (models.Room, bool, error)

	// ResolveCode は短縮コードをルームIDに解決します。存在しない場合は ok=false
	ResolveCode(ctx context.Context, code string) (string, bool, error)

	// UpdateRoom はルームを読み出して fn を適用し、結果を書き戻します
	// 書き戻し時に主レコードと索引のTTLを ttl に更新します
	// fn がエラーを返した場合は書き込みを行わず、そのエラーを返します
	// （ErrSkipUpdate のみ成功扱い）。ルームが存在しない場合は ok=false
	UpdateRoom(ctx context.Context, roomId string, ttl time.Duration, fn func(*models.Room) error) (models.Room, bool, error)

	// DeleteRoom は主レコードと短縮コード索引をまとめて削除します
	// ルームが存在しなかった場合は false を返します
	DeleteRoom(ctx context.Context, roomId, shortCode string) (bool, error)

	// Close はストアの後始末を行います
	Close() error
}
