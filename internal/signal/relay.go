package signal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/s6ptember/videocall-app/internal/models"
	"github.com/s6ptember/videocall-app/internal/service"
)

// directoryTimeout は台帳呼び出しのタイムアウト
// タイムアウトは失敗として扱い、リレー側では再試行しません
const directoryTimeout = 3 * time.Second

// Peer はルームグループに登録される接続ハンドル
// Deliver はブロックしてはいけません（遅い受信者が送信者を妨げないため）
type Peer interface {
	ParticipantID() string
	Deliver(msg *Outbound)
}

// Relay はルーム単位のメッセージ中継を行います
//
// グループ（生きている接続ハンドルの集合）はメモリ上にのみ存在し、
// ルームの参加者リストとは独立ですが、登録時に台帳を通して参加させる
// ことで「グループ内の接続は必ず現在の参加者である」を保ちます
type Relay struct {
	directory *service.RoomDirectory
	log       *zap.Logger

	mu     sync.RWMutex
	groups map[string]map[string]Peer // roomId -> participantId -> Peer
}

// NewRelay は新しいRelayを作成します
func NewRelay(directory *service.RoomDirectory, log *zap.Logger) *Relay {
	return &Relay{
		directory: directory,
		log:       log,
		groups:    make(map[string]map[string]Peer),
	}
}

// Connect はルームを再検証した上でハンドルをグループに登録します
// 参加者がまだメンバーでなければ台帳を通して参加させます（定員超過は
// ErrRoomFull、未解決は ErrRoomNotFound として返り、呼び出し側が
// それぞれ専用の切断シグナルに変換します）
// 登録に成功すると、他のメンバーへ participant_joined を配信します
func (r *Relay) Connect(ctx context.Context, identifier, participantId, ip string, p Peer) (models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	room, err := r.directory.Join(ctx, identifier, participantId, ip)
	if err != nil {
		return models.Room{}, err
	}

	r.mu.Lock()
	group, ok := r.groups[room.RoomId]
	if !ok {
		group = make(map[string]Peer)
		r.groups[room.RoomId] = group
	}
	group[participantId] = p
	r.mu.Unlock()

	r.broadcast(room.RoomId, participantId, presenceFrame("participant_joined", participantId))

	r.log.Info("peer connected",
		zap.String("room_id", room.RoomId),
		zap.String("participant_id", participantId))
	return room, nil
}

// Disconnect はハンドルをグループから外し、残りのメンバーへ
// participant_left を配信してから台帳の退出処理に委譲します
// 呼び出し側は接続ごとに最大1回だけ呼ぶことを保証します（sync.Once）
// p が現在登録されているハンドルと異なる場合（切断後に同じ参加者が
// 再接続済みなど）はグループを変更しません
func (r *Relay) Disconnect(roomId string, p Peer) {
	participantId := p.ParticipantID()

	r.mu.Lock()
	removed := false
	if group, ok := r.groups[roomId]; ok {
		if current, ok := group[participantId]; ok && current == p {
			delete(group, participantId)
			removed = true
			if len(group) == 0 {
				delete(r.groups, roomId)
			}
		}
	}
	r.mu.Unlock()

	if !removed {
		return
	}

	r.broadcast(roomId, participantId, presenceFrame("participant_left", participantId))

	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()
	if _, err := r.directory.Leave(ctx, roomId, participantId); err != nil {
		r.log.Error("failed to leave room on disconnect",
			zap.String("room_id", roomId),
			zap.String("participant_id", participantId),
			zap.Error(err))
	}

	r.log.Info("peer disconnected",
		zap.String("room_id", roomId),
		zap.String("participant_id", participantId))
}

// Dispatch は受信フレームを種類に応じて配送します
//   - ping はグループに触れず、送信者へ pong を直接返す
//   - offer / ice_candidate / media_state は target 指定があればその相手のみ、
//     なければ送信者以外の全メンバーへ配送
//   - answer は target 指定の相手のみ（target がなければ配送しない）
//
// 不正なフレームはエラーを送信者のみに返し、接続は維持されます
func (r *Relay) Dispatch(roomId string, sender Peer, data []byte) {
	msg, kind, err := ParseInbound(data)
	if err != nil {
		sender.Deliver(errorFrame(err.Error()))
		return
	}

	switch kind {
	case KindPing:
		sender.Deliver(pongFrame())

	case KindAnswer:
		if msg.Target == "" {
			// answer はブロードキャストしない
			return
		}
		r.sendTo(roomId, msg.Target, relayFrame(msg, kind, sender.ParticipantID()))

	case KindOffer, KindICECandidate, KindMediaState:
		out := relayFrame(msg, kind, sender.ParticipantID())
		if msg.Target != "" {
			r.sendTo(roomId, msg.Target, out)
			return
		}
		r.broadcast(roomId, sender.ParticipantID(), out)
	}
}

// broadcast は除外対象以外のグループ全メンバーへ配送します
func (r *Relay) broadcast(roomId, excludeParticipantId string, msg *Outbound) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for participantId, p := range r.groups[roomId] {
		if participantId == excludeParticipantId {
			continue
		}
		p.Deliver(msg)
	}
}

// sendTo は指定された参加者のハンドルにのみ配送します
// 相手がグループにいない場合は何もしません
// broadcast と同様、配送はロックを保持したまま行います
func (r *Relay) sendTo(roomId, participantId string, msg *Outbound) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.groups[roomId][participantId]; ok {
		p.Deliver(msg)
	}
}

// GroupSize は現在グループに登録されているハンドル数を返します
func (r *Relay) GroupSize(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[roomId])
}
