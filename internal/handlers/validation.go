package handlers

import "fmt"

// validateRoomIdentifier はルーム識別子（ルームIDまたは短縮コード）の
// バリデーションを行います。空の場合はエラーを返します
func validateRoomIdentifier(identifier string) error {
	if normalizeID(identifier) == "" {
		return fmt.Errorf("room identifier required")
	}
	return nil
}

// validateParticipantId は参加者IDのバリデーションを行います
// 参加者IDが空の場合はエラーを返します
func validateParticipantId(participantId string) error {
	if normalizeID(participantId) == "" {
		return fmt.Errorf("participant_id required")
	}
	return nil
}
