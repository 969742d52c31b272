package store

import (
	"math/rand"
	"testing"

	"hr-messenger/client/model"
)

func confirmedIDs(l *MessageLog) []int64 {
	out := make([]int64, 0)
	for _, e := range l.Entries() {
		if e.Status == StatusConfirmed {
			out = append(out, e.Message.ID)
		}
	}
	return out
}

func TestAppendLiveTotalOrder(t *testing.T) {
	// 任意到达顺序，最终序列都等于按ID排序的序列
	ids := []int64{101, 102, 103, 104, 105, 106, 107, 108}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		l := NewMessageLog()

		shuffled := make([]int64, len(ids))
		copy(shuffled, ids)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, id := range shuffled {
			l.AppendLive(&model.Message{ID: id, From: 2, To: 1, Content: "m"})
		}

		got := confirmedIDs(l)
		if len(got) != len(ids) {
			t.Fatalf("trial %d: 条目数错误 %d", trial, len(got))
		}
		for i, id := range ids {
			if got[i] != id {
				t.Fatalf("trial %d: 顺序错误 %v", trial, got)
			}
		}
	}
}

func TestAppendLiveDuplicateID(t *testing.T) {
	l := NewMessageLog()

	msg := &model.Message{ID: 7, From: 2, To: 1, Content: "hi"}
	l.AppendLive(msg)
	l.AppendLive(msg)

	if got := confirmedIDs(l); len(got) != 1 {
		t.Fatalf("重复ID应收敛为一条, got %v", got)
	}
}

func TestOptimisticConfirmedByRESTFirst(t *testing.T) {
	l := NewMessageLog()

	l.AppendOptimistic(&model.Message{From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})

	entries := l.Entries()
	if len(entries) != 1 || entries[0].Status != StatusPending {
		t.Fatalf("乐观追加后应有一条pending条目: %+v", entries)
	}

	confirmed := &model.Message{ID: 50, From: 1, To: 2, Content: "Hello", ClientNonce: "n1"}
	l.Confirm("n1", confirmed)

	// 实时回声后到，no-op
	l.AppendLive(confirmed)

	entries = l.Entries()
	if len(entries) != 1 {
		t.Fatalf("REST确认+回声应收敛为一条, got %d", len(entries))
	}
	if entries[0].Status != StatusConfirmed || entries[0].Message.ID != 50 {
		t.Fatalf("条目应为confirmed且携带服务端ID: %+v", entries[0])
	}
}

func TestOptimisticConfirmedByEchoFirst(t *testing.T) {
	l := NewMessageLog()

	l.AppendOptimistic(&model.Message{From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})

	// 回声先到，完成提升
	echo := &model.Message{ID: 50, From: 1, To: 2, Content: "Hello", ClientNonce: "n1"}
	l.AppendLive(echo)

	entries := l.Entries()
	if len(entries) != 1 || entries[0].Status != StatusConfirmed {
		t.Fatalf("回声应就地提升乐观条目: %+v", entries)
	}

	// REST响应后到，no-op
	l.Confirm("n1", echo)
	if entries := l.Entries(); len(entries) != 1 {
		t.Fatalf("后到的确认应为no-op, got %d", len(entries))
	}
}

func TestFailedEntryStaysVisible(t *testing.T) {
	l := NewMessageLog()

	l.AppendOptimistic(&model.Message{From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})
	l.Fail("n1")

	entries := l.Entries()
	if len(entries) != 1 || entries[0].Status != StatusFailed {
		t.Fatalf("失败条目应保留且状态为failed: %+v", entries)
	}
}

func TestFailAfterEchoIsNoop(t *testing.T) {
	l := NewMessageLog()

	l.AppendOptimistic(&model.Message{From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})
	l.AppendLive(&model.Message{ID: 9, From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})
	l.Fail("n1")

	entries := l.Entries()
	if entries[0].Status != StatusConfirmed {
		t.Fatalf("回声已确认的条目不应被标记failed: %+v", entries[0])
	}
}

func TestDropSupersedesFailedEntry(t *testing.T) {
	l := NewMessageLog()

	l.AppendOptimistic(&model.Message{From: 1, To: 2, Content: "Hello", ClientNonce: "n1"})
	l.Fail("n1")
	l.Drop("n1")

	if entries := l.Entries(); len(entries) != 0 {
		t.Fatalf("重试前旧条目应被取代, got %d", len(entries))
	}
}

func TestLoadHistoryReplacesState(t *testing.T) {
	l := NewMessageLog()

	l.AppendLive(&model.Message{ID: 1, From: 2, To: 1, Content: "old"})

	// 断线重连后整体重拉：断线窗口内错过的消息必须全部出现
	history := []*model.Message{
		{ID: 1, From: 2, To: 1, Content: "old"},
		{ID: 2, From: 2, To: 1, Content: "missed-1"},
		{ID: 3, From: 2, To: 1, Content: "missed-2"},
		{ID: 4, From: 2, To: 1, Content: "missed-3"},
		{ID: 5, From: 2, To: 1, Content: "missed-4"},
		{ID: 6, From: 2, To: 1, Content: "missed-5"},
	}
	l.LoadHistory(history)

	got := confirmedIDs(l)
	if len(got) != 6 {
		t.Fatalf("重拉后应有全部6条消息, got %d", len(got))
	}
	for i := range got {
		if got[i] != int64(i+1) {
			t.Fatalf("历史应按ID升序: %v", got)
		}
	}
}

func TestApplyReadWatermark(t *testing.T) {
	l := NewMessageLog()

	l.AppendLive(&model.Message{ID: 1, From: 1, To: 2, Content: "a"})
	l.AppendLive(&model.Message{ID: 2, From: 2, To: 1, Content: "b"})
	l.AppendLive(&model.Message{ID: 3, From: 1, To: 2, Content: "c"})

	// 对端读到ID 2
	l.ApplyReadWatermark(1, 2)

	entries := l.Entries()
	if !entries[0].Read {
		t.Fatalf("ID 1应标记已读")
	}
	if entries[1].Read {
		t.Fatalf("对端自己的消息不应标记")
	}
	if entries[2].Read {
		t.Fatalf("水位之上的消息不应标记")
	}
}

func TestMaxID(t *testing.T) {
	l := NewMessageLog()
	if l.MaxID() != 0 {
		t.Fatalf("空日志MaxID应为0")
	}

	l.AppendLive(&model.Message{ID: 3, From: 2, To: 1})
	l.AppendLive(&model.Message{ID: 9, From: 2, To: 1})
	l.AppendLive(&model.Message{ID: 5, From: 2, To: 1})

	if got := l.MaxID(); got != 9 {
		t.Fatalf("MaxID应为9, got %d", got)
	}
}
