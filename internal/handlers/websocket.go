package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/s6ptember/videocall-app/internal/idgen"
	"github.com/s6ptember/videocall-app/internal/service"
	"github.com/s6ptember/videocall-app/internal/signal"
)

// 切断時のクローズコード
// 呼び出し側が失敗の種類を区別できるよう、3つを使い分けます
const (
	CloseRoomNotFound = 4004 // ルームが存在しない（失効含む）
	CloseRoomFull     = 4003 // ルームが満員
	CloseSetupFailed  = 4000 // その他のセットアップ失敗
)

// WebSocketHandler はシグナリング用WebSocket接続を処理します
//
// 接続のライフサイクル:
//  1. Connecting: ルーム識別子と参加者IDを取り出し、リレーへ登録
//     失敗した場合は種類ごとのクローズコードで切断して終了
//  2. Joined: 受信フレームをリレーに渡し続ける（フレーム処理中に
//     状態は変化しない。プロトコルエラーは送信者に返すだけ）
//  3. Disconnected: 接続が閉じられるとリレーからの登録解除と
//     台帳からの退出が1回だけ実行される
type WebSocketHandler struct {
	relay    *signal.Relay
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(relay *signal.Relay, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		relay: relay,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Originの制限はルーターのCORS設定側で行う
				return true
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identifier := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomIdentifier(identifier); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 参加者IDは外部で発行された不透明な値。無ければゲストIDを割り当てる
	participantId := normalizeID(r.URL.Query().Get("participant_id"))
	if participantId == "" {
		participantId = idgen.NewGuestID()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := signal.NewClient(participantId, conn, h.relay, h.log)

	room, err := h.relay.Connect(r.Context(), identifier, participantId, clientIP(r), client)
	if err != nil {
		h.closeWithReason(conn, err)
		return
	}

	// 短縮コードで接続した場合も、以降の配送は正規のルームIDで行う
	client.Bind(room.RoomId)

	h.log.Info("websocket connected",
		zap.String("room_id", room.RoomId),
		zap.String("participant_id", participantId))

	client.Run()
}

// closeWithReason はセットアップ失敗の種類に応じたクローズコードで切断します
func (h *WebSocketHandler) closeWithReason(conn *websocket.Conn, err error) {
	code := CloseSetupFailed
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrRoomExpired):
		code = CloseRoomNotFound
	case errors.Is(err, service.ErrRoomFull):
		code = CloseRoomFull
	}

	h.log.Warn("websocket setup failed", zap.Int("close_code", code), zap.Error(err))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
	_ = conn.Close()
}
