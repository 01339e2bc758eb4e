// Package models はアプリケーションで使用するデータ構造を定義します
package models

import (
	"slices"
	"time"
)

// Room はビデオ通話ルームの情報を表します
// RoomId が主キーで、ShortCode は生存中のルーム間で一意な共有用の別名です
type Room struct {
	RoomId          string    `json:"room_id"`              // ルームの一意な識別子（UUIDv4）
	ShortCode       string    `json:"short_code"`           // 共有用の短縮コード（英数字6文字）
	CreatedAt       time.Time `json:"created_at"`           // ルーム作成日時
	ExpiresAt       time.Time `json:"expires_at"`           // ルーム有効期限
	Participants    []string  `json:"participants"`         // 参加者IDのリスト（参加順、重複なし）
	MaxParticipants int       `json:"max_participants"`     // 参加者数の上限
	IsActive        bool      `json:"is_active"`            // ルームが有効かどうか
	CreatorIP       string    `json:"creator_ip,omitempty"` // 作成者のIP（診断用）
}

// HasParticipant は参加者がルームに存在するかを返します
func (r *Room) HasParticipant(participantId string) bool {
	return slices.Contains(r.Participants, participantId)
}

// IsFull は参加者数が上限に達しているかを返します
func (r *Room) IsFull() bool {
	return len(r.Participants) >= r.MaxParticipants
}

// IsExpired は指定時刻においてルームが失効しているかを返します
func (r *Room) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
