package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/s6ptember/videocall-app/internal/service"
)

// RoomHandler はルーム台帳へのHTTPリクエストを処理します
// 認証・レート制限・QRコード生成などは外部のレイヤーが担当する前提で、
// ここは台帳操作の薄い入出力ラッパーに徹します
type RoomHandler struct {
	directory *service.RoomDirectory
	log       *zap.Logger
}

func NewRoomHandler(directory *service.RoomDirectory, log *zap.Logger) *RoomHandler {
	return &RoomHandler{directory: directory, log: log}
}

type joinRequest struct {
	RoomIdentifier string `json:"room_identifier"`
	ParticipantId  string `json:"participant_id"`
}

func (r joinRequest) validate() error {
	if err := validateRoomIdentifier(r.RoomIdentifier); err != nil {
		return err
	}
	return validateParticipantId(r.ParticipantId)
}

type participantRequest struct {
	ParticipantId string `json:"participant_id"`
}

func (r participantRequest) validate() error {
	return validateParticipantId(r.ParticipantId)
}

// Create は新しいルームを作成します
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	room, err := h.directory.Create(r.Context(), clientIP(r))
	if err != nil {
		h.log.Error("create room failed", zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	roomURL := fmt.Sprintf("%s://%s/join/%s", scheme, r.Host, room.ShortCode)

	respondJSON(w, http.StatusCreated, map[string]any{
		"room_id":          room.RoomId,
		"short_code":       room.ShortCode,
		"room_url":         roomURL,
		"expires_at":       room.ExpiresAt,
		"max_participants": room.MaxParticipants,
	})
}

// Get はルーム情報を返します
// 失効していたルームは台帳側で削除され、404になります
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomIdentifier(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, ok, err := h.directory.GetByID(r.Context(), roomId)
	if err != nil {
		h.log.Error("get room failed", zap.String("room_id", roomId), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"room_id":           room.RoomId,
		"short_code":        room.ShortCode,
		"is_active":         room.IsActive,
		"participant_count": len(room.Participants),
		"max_participants":  room.MaxParticipants,
		"expires_at":        room.ExpiresAt,
	})
}

// Join はルームIDまたは短縮コードを指定してルームに参加します
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var in joinRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.directory.Join(r.Context(), normalizeID(in.RoomIdentifier), normalizeID(in.ParticipantId), clientIP(r))
	if err != nil {
		h.log.Warn("join room failed",
			zap.String("room_identifier", in.RoomIdentifier),
			zap.String("participant_id", in.ParticipantId),
			zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"room_id":           room.RoomId,
		"short_code":        room.ShortCode,
		"participant_count": len(room.Participants),
		"participant_id":    normalizeID(in.ParticipantId),
	})
}

// Leave はルームから退出します
// ルームや参加者が存在しなかった場合も成功として扱います
// （クライアント側のエラーを避けるための仕様）
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomIdentifier(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in participantRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	left, err := h.directory.Leave(r.Context(), roomId, normalizeID(in.ParticipantId))
	if err != nil {
		h.log.Error("leave room failed",
			zap.String("room_id", roomId),
			zap.String("participant_id", in.ParticipantId),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg := "left room successfully"
	if !left {
		msg = "not in room"
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

// Delete はルームを削除します
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomIdentifier(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.directory.Delete(r.Context(), roomId)
	if err != nil {
		h.log.Error("delete room failed", zap.String("room_id", roomId), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// writeServiceError は台帳のエラーを呼び出し側が区別できる
// ステータスコードとメッセージに変換します
func (h *RoomHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrRoomInactive):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrRoomFull):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrCodeSpaceExhausted):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// 予期しない内部エラーの詳細は漏らさない
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
