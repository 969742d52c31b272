package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hr-messenger/client/channel"
	"hr-messenger/client/store"
	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

// ==================== 测试用假连接 ====================

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// deliver 模拟网关下行事件帧
func (c *fakeConn) deliver(t *testing.T, channelName, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	frame, err := json.Marshal(map[string]interface{}{
		"op":      "event",
		"channel": channelName,
		"event":   event,
		"data":    json.RawMessage(raw),
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- frame
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// ==================== 测试用REST后端 ====================

type restBackend struct {
	mu sync.Mutex
	// 用户2会话的历史，按旧到新
	directHistory []map[string]interface{}
}

func historyItem(id, from, to int64, content string) map[string]interface{} {
	return map[string]interface{}{
		"message_id":   id,
		"from":         from,
		"to":           to,
		"group_id":     0,
		"content":      content,
		"message_type": 1,
		"client_nonce": fmt.Sprintf("nonce-%d", id),
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	}
}

func (b *restBackend) appendHistory(items ...map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.directHistory = append(b.directHistory, items...)
}

func (b *restBackend) server() *httptest.Server {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/messenger/conversations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true, "conversations": []interface{}{}})
	})
	mux.HandleFunc("/messenger/groups", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true, "groups": []interface{}{}})
	})
	mux.HandleFunc("/messenger/users", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true, "users": []interface{}{}})
	})
	mux.HandleFunc("/messenger/read", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true})
	})
	mux.HandleFunc("/messenger/messages/2", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		msgs := make([]map[string]interface{}, len(b.directHistory))
		copy(msgs, b.directHistory)
		b.mu.Unlock()
		writeJSON(w, map[string]interface{}{"success": true, "messages": msgs})
	})
	return httptest.NewServer(mux)
}

func newTestMessenger(t *testing.T, apiURL string, dialer *fakeDialer) *Messenger {
	t.Helper()
	cfg := config.TransportConfig{
		Enabled: true,
		AppKey:  "key",
		Cluster: "local",
		WSURL:   "ws://test/messenger/ws",
		APIURL:  apiURL,
	}
	return New(1, "token", cfg, dialer, logger.GetLogger())
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", desc)
}

func findEntry(msgLog *store.MessageLog, id int64) (store.Entry, bool) {
	for _, e := range msgLog.Entries() {
		if e.Message.ID == id {
			return e, true
		}
	}
	return store.Entry{}, false
}

// 对端的已读回执按读方定位本端会话日志：
// 服务端回执携带读方视角的target_id（即本端自己），展示侧必须落到与读方的会话
func TestInboundDirectReceiptMarksSenderLog(t *testing.T) {
	backend := &restBackend{}
	backend.appendHistory(historyItem(10, 1, 2, "你好"))
	server := backend.server()
	defer server.Close()

	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestMessenger(t, server.URL, dialer)
	defer m.Stop()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	waitFor(t, "连接建立", func() bool {
		return m.provider.State() == channel.StateConnected
	})

	msgLog, err := m.OpenConversation(context.Background(), 2)
	if err != nil {
		t.Fatalf("打开会话失败: %v", err)
	}
	if entry, ok := findEntry(msgLog, 10); !ok || entry.Read {
		t.Fatalf("回执前消息应存在且未读: %+v", entry)
	}

	conn.deliver(t, "user-1", "read_receipt", map[string]interface{}{
		"target_kind": "direct",
		"target_id":   1,
		"reader_id":   2,
		"message_id":  10,
		"read_at":     time.Now().Unix(),
	})

	waitFor(t, "本端消息标记已读", func() bool {
		entry, ok := findEntry(msgLog, 10)
		return ok && entry.Read
	})
}

// 断线窗口的消息不补发：重连后重拉历史必须补齐全部缺口消息
func TestReconnectRefetchesMissedMessages(t *testing.T) {
	backend := &restBackend{}
	backend.appendHistory(historyItem(10, 1, 2, "你好"))
	server := backend.server()
	defer server.Close()

	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	m := newTestMessenger(t, server.URL, dialer)
	defer m.Stop()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	waitFor(t, "连接建立", func() bool {
		return m.provider.State() == channel.StateConnected
	})

	msgLog, err := m.OpenConversation(context.Background(), 2)
	if err != nil {
		t.Fatalf("打开会话失败: %v", err)
	}
	if got := len(msgLog.Entries()); got != 1 {
		t.Fatalf("初始历史条数错误: %d", got)
	}

	// 断线窗口内对端发来5条消息，实时通道不会补发
	for id := int64(11); id <= 15; id++ {
		backend.appendHistory(historyItem(id, 2, 1, fmt.Sprintf("离线消息%d", id)))
	}
	conn1.Close()

	// 重连完成后经REST重拉，5条缺口消息全部到位
	waitFor(t, "重连后补齐缺口消息", func() bool {
		for id := int64(11); id <= 15; id++ {
			if _, ok := findEntry(msgLog, id); !ok {
				return false
			}
		}
		return true
	})
	if got := len(msgLog.Entries()); got != 6 {
		t.Fatalf("重拉后历史条数错误: %d", got)
	}
}
