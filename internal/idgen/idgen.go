// Package idgen は各種識別子の生成を担当します
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// NewRoomID は新しいルームID（UUIDv4）を生成します
func NewRoomID() string {
	return uuid.NewString()
}

// NewShortCode は指定された文字集合から短縮コードを生成します
// 一意性の保証は呼び出し側（既存コードとの照合）で行います
func NewShortCode(alphabet string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b), nil
}
