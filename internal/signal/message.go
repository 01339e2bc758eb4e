// Package signal はルーム単位のシグナリングメッセージ中継を担当します
// WebRTCの接続確立に必要な offer / answer / ICE candidate の交換と、
// 参加・退出通知、疎通確認（ping/pong）を扱います
package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind はメッセージの種類を表す閉じた集合
// 未知のタグは KindUnknown にデコードされ、エラー応答の対象になります
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice_candidate"
	KindPing         Kind = "ping"
	KindMediaState   Kind = "media_state"
	KindUnknown      Kind = ""
)

// Inbound はクライアントから受信するメッセージ
// Type と種類ごとの必須ペイロードを持ち、Target は任意です
type Inbound struct {
	Type      string          `json:"type"`
	Target    string          `json:"target,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
}

// Outbound はクライアントへ送信するメッセージ
type Outbound struct {
	Type          string          `json:"type"`
	Sender        string          `json:"sender,omitempty"`
	ParticipantId string          `json:"participant_id,omitempty"`
	Offer         json.RawMessage `json:"offer,omitempty"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	Candidate     json.RawMessage `json:"candidate,omitempty"`
	State         json.RawMessage `json:"state,omitempty"`
	Message       string          `json:"message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ProtocolError はクライアントの不正なメッセージに対するエラー
// 送信者のみに通知され、接続は切断されません
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ParseInbound は受信フレームを検証付きでデコードします
// JSONとして解釈できない、種類が未知、または種類ごとの必須フィールドが
// 欠けている場合は ProtocolError を返します
func ParseInbound(data []byte) (Inbound, Kind, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, KindUnknown, protocolErrorf("invalid JSON format")
	}
	if msg.Type == "" {
		return Inbound{}, KindUnknown, protocolErrorf("message type is required")
	}

	switch Kind(msg.Type) {
	case KindOffer:
		if len(msg.Offer) == 0 {
			return Inbound{}, KindUnknown, protocolErrorf("offer data is required")
		}
		return msg, KindOffer, nil
	case KindAnswer:
		if len(msg.Answer) == 0 {
			return Inbound{}, KindUnknown, protocolErrorf("answer data is required")
		}
		return msg, KindAnswer, nil
	case KindICECandidate:
		if len(msg.Candidate) == 0 {
			return Inbound{}, KindUnknown, protocolErrorf("ICE candidate data is required")
		}
		return msg, KindICECandidate, nil
	case KindMediaState:
		if len(msg.State) == 0 {
			msg.State = json.RawMessage(`{}`)
		}
		return msg, KindMediaState, nil
	case KindPing:
		return msg, KindPing, nil
	default:
		return Inbound{}, KindUnknown, protocolErrorf("unknown message type: %s", msg.Type)
	}
}

func errorFrame(reason string) *Outbound {
	return &Outbound{Type: "error", Message: reason, Timestamp: time.Now()}
}

func pongFrame() *Outbound {
	return &Outbound{Type: "pong", Timestamp: time.Now()}
}

func presenceFrame(kind, participantId string) *Outbound {
	return &Outbound{Type: kind, ParticipantId: participantId, Timestamp: time.Now()}
}

// relayFrame は受信メッセージを中継用の送信フレームに変換します
func relayFrame(msg Inbound, kind Kind, sender string) *Outbound {
	out := &Outbound{Type: string(kind), Sender: sender, Timestamp: time.Now()}
	switch kind {
	case KindOffer:
		out.Offer = msg.Offer
	case KindAnswer:
		out.Answer = msg.Answer
	case KindICECandidate:
		out.Candidate = msg.Candidate
	case KindMediaState:
		out.State = msg.State
	}
	return out
}
