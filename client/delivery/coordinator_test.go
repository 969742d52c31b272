package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hr-messenger/client/model"
	"hr-messenger/client/rest"
	"hr-messenger/client/store"
	"hr-messenger/pkg/logger"
)

func newTestCoordinator(t *testing.T, serverURL string) (*Coordinator, *store.MessageLog) {
	t.Helper()

	msgLog := store.NewMessageLog()
	convs := store.NewConversationStore(1)
	groups := store.NewGroupStore(1)

	resolve := func(_ string, _ int64) *store.MessageLog {
		return msgLog
	}

	c := NewCoordinator(1, rest.NewClient(serverURL, "token"), convs, groups, resolve, logger.GetLogger())
	return c, msgLog
}

func waitStatus(t *testing.T, msgLog *store.MessageLog, want store.Status) store.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries := msgLog.Entries()
		if len(entries) == 1 && entries[0].Status == want {
			return entries[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待条目状态%s超时: %+v", want, msgLog.Entries())
	return store.Entry{}
}

func TestSendValidationSynchronous(t *testing.T) {
	c, msgLog := newTestCoordinator(t, "http://127.0.0.1:1")

	var verr *ValidationError

	if _, err := c.Send(context.Background(), model.TargetKindDirect, 2, "   "); !errors.As(err, &verr) {
		t.Fatalf("空消息应同步返回ValidationError, got %v", err)
	}
	if _, err := c.Send(context.Background(), model.TargetKindDirect, 0, "hi"); !errors.As(err, &verr) {
		t.Fatalf("无效目标应同步返回ValidationError, got %v", err)
	}
	if _, err := c.Send(context.Background(), "channel", 2, "hi"); !errors.As(err, &verr) {
		t.Fatalf("未知目标类别应同步返回ValidationError, got %v", err)
	}

	// 校验失败不应触碰日志
	if len(msgLog.Entries()) != 0 {
		t.Fatalf("校验失败不应产生乐观条目")
	}
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ReceiverID  int64  `json:"receiver_id"`
			Message     string `json:"message"`
			ClientNonce string `json:"client_nonce"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": map[string]interface{}{
				"message_id":   int64(500),
				"from":         int64(1),
				"to":           req.ReceiverID,
				"content":      req.Message,
				"client_nonce": req.ClientNonce,
				"created_at":   time.Now().UTC().Format(time.RFC3339),
			},
		})
	}))
	defer srv.Close()

	c, msgLog := newTestCoordinator(t, srv.URL)

	nonce, err := c.Send(context.Background(), model.TargetKindDirect, 2, "Hello")
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if nonce == "" {
		t.Fatalf("应立即返回nonce")
	}

	entry := waitStatus(t, msgLog, store.StatusConfirmed)
	if entry.Message.ID != 500 {
		t.Fatalf("确认后应携带服务端ID: %+v", entry.Message)
	}
	if entry.Message.ClientNonce != nonce {
		t.Fatalf("nonce应贯穿始终: %s != %s", entry.Message.ClientNonce, nonce)
	}
}

func TestSendFailureMarksEntryFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, msgLog := newTestCoordinator(t, srv.URL)

	failures := make(chan *SendFailed, 1)
	c.OnSendFailed(func(f *SendFailed) {
		failures <- f
	})

	nonce, err := c.Send(context.Background(), model.TargetKindDirect, 2, "Hello")
	if err != nil {
		t.Fatalf("Send本身不应报错: %v", err)
	}

	entry := waitStatus(t, msgLog, store.StatusFailed)
	if entry.Message.Content != "Hello" {
		t.Fatalf("失败条目应保留原内容: %+v", entry.Message)
	}

	select {
	case f := <-failures:
		if f.Nonce != nonce {
			t.Fatalf("失败通知应携带nonce: %s != %s", f.Nonce, nonce)
		}
		var fetchErr *rest.FetchError
		if !errors.As(f.Err, &fetchErr) {
			t.Fatalf("底层错误应为FetchError: %v", f.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("等待失败通知超时")
	}
}

func TestRetryUsesFreshNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, msgLog := newTestCoordinator(t, srv.URL)

	first, err := c.Send(context.Background(), model.TargetKindDirect, 2, "Hello")
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	waitStatus(t, msgLog, store.StatusFailed)

	// 重试取代失败条目，新nonce
	second, err := c.Retry(context.Background(), model.TargetKindDirect, 2, "Hello", first)
	if err != nil {
		t.Fatalf("重试失败: %v", err)
	}
	if second == first {
		t.Fatalf("重试应使用新nonce")
	}

	entry := waitStatus(t, msgLog, store.StatusFailed)
	if entry.Message.ClientNonce != second {
		t.Fatalf("日志中应只剩新nonce的条目: %+v", entry.Message)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	c, _ := newTestCoordinator(t, "http://127.0.0.1:1")

	var verr *ValidationError
	if _, err := c.CreateGroup(context.Background(), " ", "", "custom", []int64{2}); !errors.As(err, &verr) {
		t.Fatalf("空群名应同步返回ValidationError, got %v", err)
	}
	if _, err := c.CreateGroup(context.Background(), "g", "", "custom", nil); !errors.As(err, &verr) {
		t.Fatalf("无成员应同步返回ValidationError, got %v", err)
	}
}
