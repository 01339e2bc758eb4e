package service

import "errors"

// カスタムエラー定義
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExpired        = errors.New("room has expired")
	ErrRoomInactive       = errors.New("room is not active")
	ErrRoomFull           = errors.New("room is full")
	ErrCodeSpaceExhausted = errors.New("failed to generate unique short code after maximum attempts")
)
