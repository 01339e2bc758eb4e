package signal_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/s6ptember/videocall-app/internal/signal"
)

// 切断済みクライアントへの配送が安全に破棄されること
// 対象指定の配送はハンドルをスナップショットしてから行うため、
// その間に相手が切断しても送信側を巻き込んではいけない
func TestClient_DeliverAfterDisconnect(t *testing.T) {
	relay, directory := newRelay(t, testConfig())
	room := createRoom(t, directory)

	upgrader := websocket.Upgrader{}
	clientCh := make(chan *signal.Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := signal.NewClient("alice", conn, relay, zap.NewNop())
		if _, err := relay.Connect(r.Context(), room.RoomId, "alice", "", client); err != nil {
			conn.Close()
			return
		}
		client.Bind(room.RoomId)
		clientCh <- client
		client.Run()
	}))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	var client *signal.Client
	select {
	case client = <-clientCh:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	// トランスポートを落とし、切断処理の完了を待つ
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for relay.GroupSize(room.RoomId) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	assert.NotPanics(t, func() {
		client.Deliver(&signal.Outbound{Type: "offer", Sender: "bob", Timestamp: time.Now()})
	})
}
