package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// 書き込みの許容時間
	writeWait = 10 * time.Second

	// Pong応答の待ち時間。これを過ぎると死んだ接続とみなす
	pongWait = 60 * time.Second

	// Ping送信間隔。pongWait より短くする必要がある
	pingPeriod = (pongWait * 9) / 10

	// 受信メッセージの最大サイズ（SDPが収まる十分な大きさ）
	maxMessageSize = 64 * 1024

	// 送信バッファのメッセージ数
	sendBufferSize = 256
)

// Client は1つのWebSocket接続を表します
// 受信ループ（readPump）と送信ループ（writePump）を別goroutineで動かし、
// 配送は送信チャネル経由で行うため、遅い受信者が他の接続の受信処理を
// 妨げることはありません
type Client struct {
	roomId        string
	participantId string
	conn          *websocket.Conn
	relay         *Relay
	log           *zap.Logger

	// sendMu は send への書き込みと close を直列化します
	// リレーがスナップショットしたハンドルへの配送が切断と競合しても、
	// 閉じたチャネルへの送信にならないようにするため
	sendMu     sync.Mutex
	sendClosed bool
	send       chan *Outbound

	closeOnce sync.Once
}

// NewClient は新しいClientを作成します（ポンプはまだ開始しません）
// ルームIDは Relay.Connect が識別子を解決した後に Bind で設定します
func NewClient(participantId string, conn *websocket.Conn, relay *Relay, log *zap.Logger) *Client {
	return &Client{
		participantId: participantId,
		conn:          conn,
		relay:         relay,
		log:           log,
		send:          make(chan *Outbound, sendBufferSize),
	}
}

// Bind は解決済みの正規ルームIDを設定します。Run の前に呼ぶこと
func (c *Client) Bind(roomId string) { c.roomId = roomId }

func (c *Client) ParticipantID() string { return c.participantId }

// Deliver はメッセージを送信チャネルに積みます。ブロックしません
// バッファが満杯の場合（受信者が極端に遅い場合）はメッセージを破棄します
// 切断済みのクライアントへの配送も安全に破棄されます
func (c *Client) Deliver(msg *Outbound) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, dropping message",
			zap.String("room_id", c.roomId),
			zap.String("participant_id", c.participantId),
			zap.String("type", msg.Type))
	}
}

// Run は読み書きのポンプを開始します
// 読み取りループが終了する（切断・エラー）と戻ります
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// shutdown は切断処理を行います。複数の経路から呼ばれても
// リレーからの登録解除は1回だけ実行されます
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.relay.Disconnect(c.roomId, c)
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

// readPump は接続からメッセージを読み、リレーに渡します
// 接続ごとに1つのgoroutineで動き、読み取りはここに集約されます
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error",
					zap.String("room_id", c.roomId),
					zap.String("participant_id", c.participantId),
					zap.Error(err))
			}
			break
		}
		c.relay.Dispatch(c.roomId, c, data)
	}
}

// writePump は送信チャネルのメッセージを接続へ書き込みます
// 書き込みはここに集約され、定期的にPingを送って接続を維持します
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 送信チャネルが閉じられた
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
