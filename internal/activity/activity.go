// Package activity はルームのライフサイクルイベントを記録します
// 記録は fire-and-forget であり、本体の処理をブロックも失敗もさせません
package activity

import (
	"time"

	"go.uber.org/zap"
)

// Action はライフサイクルイベントの種類
type Action string

const (
	ActionCreated Action = "created"
	ActionJoined  Action = "joined"
	ActionLeft    Action = "left"
	ActionExpired Action = "expired"
	ActionDeleted Action = "deleted"
)

// Event は1件のライフサイクルイベント
type Event struct {
	RoomId           string    `json:"room_id"`
	Action           Action    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	ParticipantCount int       `json:"participant_count,omitempty"`
	IP               string    `json:"ip,omitempty"`
}

// Recorder はイベントを受け取る側のインターフェース
// Record は決してブロックしてはいけません
type Recorder interface {
	Record(ev Event)
}

// Nop は何も記録しないRecorder（テスト用）
type Nop struct{}

func (Nop) Record(Event) {}

// Logger はイベントをバッファ付きチャネル経由でzapに書き出すRecorder
// バッファが満杯の場合はイベントを破棄します（本体を待たせない）
type Logger struct {
	log    *zap.Logger
	events chan Event
	done   chan struct{}
}

// NewLogger は新しいLoggerを作成し、書き出しループを開始します
func NewLogger(log *zap.Logger) *Logger {
	l := &Logger{
		log:    log,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) Record(ev Event) {
	select {
	case l.events <- ev:
	default:
		// バッファ満杯、破棄
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.events {
		fields := []zap.Field{
			zap.String("room_id", ev.RoomId),
			zap.String("action", string(ev.Action)),
			zap.Time("timestamp", ev.Timestamp),
		}
		// 人数を伴うアクションでは0人（退出でルームが空になった場合）も記録する
		switch ev.Action {
		case ActionJoined, ActionLeft:
			fields = append(fields, zap.Int("participant_count", ev.ParticipantCount))
		}
		if ev.IP != "" {
			fields = append(fields, zap.String("ip", ev.IP))
		}
		l.log.Info("room activity", fields...)
	}
}

// Close はチャネルを閉じ、残りのイベントを書き出してから戻ります
func (l *Logger) Close() {
	close(l.events)
	<-l.done
}
