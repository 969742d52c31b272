package store

import (
	"testing"
	"time"

	"hr-messenger/client/model"
)

func TestUnreadIncrementsForClosedConversation(t *testing.T) {
	s := NewConversationStore(2)

	// B(2)未打开与A(1)的会话，A发来一条消息
	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 1, To: 2, Content: "Hello", Timestamp: time.Now().Unix()})

	if got := s.UnreadCount(1); got != 1 {
		t.Fatalf("关闭会话收到消息未读应为1, got %d", got)
	}

	s.ApplyIncomingMessage(&model.Message{ID: 2, From: 1, To: 2, Content: "again", Timestamp: time.Now().Unix()})
	if got := s.UnreadCount(1); got != 2 {
		t.Fatalf("未读只增不减, got %d", got)
	}

	s.MarkRead(1)
	if got := s.UnreadCount(1); got != 0 {
		t.Fatalf("MarkRead后未读应清零, got %d", got)
	}
}

func TestUnreadNotIncrementedWhenForeground(t *testing.T) {
	s := NewConversationStore(2)
	s.SetOpen(1)

	foreground := s.ApplyIncomingMessage(&model.Message{ID: 1, From: 1, To: 2, Content: "Hello", Timestamp: time.Now().Unix()})

	if !foreground {
		t.Fatalf("前台会话的消息应返回true以便立即推进水位")
	}
	if got := s.UnreadCount(1); got != 0 {
		t.Fatalf("前台会话不应累计未读, got %d", got)
	}
}

func TestOwnMessageDoesNotIncrementUnread(t *testing.T) {
	s := NewConversationStore(1)

	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 1, To: 2, Content: "Hello", Timestamp: time.Now().Unix()})

	if got := s.UnreadCount(2); got != 0 {
		t.Fatalf("本人发出的消息不应计未读, got %d", got)
	}
}

func TestConversationListOrdering(t *testing.T) {
	s := NewConversationStore(1)

	base := time.Now()
	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 2, To: 1, Content: "a", Timestamp: base.Unix()})
	s.ApplyIncomingMessage(&model.Message{ID: 2, From: 3, To: 1, Content: "b", Timestamp: base.Add(time.Minute).Unix()})

	list := s.List()
	if list[0].UserID != 3 || list[1].UserID != 2 {
		t.Fatalf("最近活跃的会话应排在最前: %+v", list)
	}

	// 用户2新消息后重新置顶
	s.ApplyIncomingMessage(&model.Message{ID: 3, From: 2, To: 1, Content: "c", Timestamp: base.Add(2 * time.Minute).Unix()})
	list = s.List()
	if list[0].UserID != 2 {
		t.Fatalf("新消息应把会话重新置顶: %+v", list)
	}
}

func TestConversationListTieBreak(t *testing.T) {
	s := NewConversationStore(1)

	ts := time.Now().Unix()
	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 5, To: 1, Content: "x", Timestamp: ts})
	s.ApplyIncomingMessage(&model.Message{ID: 2, From: 3, To: 1, Content: "y", Timestamp: ts})

	list := s.List()
	if list[0].UserID != 3 || list[1].UserID != 5 {
		t.Fatalf("相同活跃时间按对端ID升序保证确定性: %+v", list)
	}
}

func TestGroupUnreadExcludesSender(t *testing.T) {
	s := NewGroupStore(2)
	s.ReplaceAll([]*model.Group{{ID: 10, Name: "g"}})

	// 本人发送，不计未读
	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 2, GroupID: 10, Content: "Status update", Timestamp: time.Now().Unix()})
	if got := s.UnreadCount(10); got != 0 {
		t.Fatalf("发送者不应累计未读, got %d", got)
	}

	// 他人发送，未读+1
	s.ApplyIncomingMessage(&model.Message{ID: 2, From: 3, GroupID: 10, Content: "re", Timestamp: time.Now().Unix()})
	if got := s.UnreadCount(10); got != 1 {
		t.Fatalf("他人消息未读应为1, got %d", got)
	}
}

func TestGroupForegroundMarksRead(t *testing.T) {
	s := NewGroupStore(1)
	s.ReplaceAll([]*model.Group{{ID: 10, Name: "g"}})
	s.SetOpen(10)

	foreground := s.ApplyIncomingMessage(&model.Message{ID: 1, From: 2, GroupID: 10, Content: "hi", Timestamp: time.Now().Unix()})
	if !foreground {
		t.Fatalf("前台群组的消息应返回true")
	}
	if got := s.UnreadCount(10); got != 0 {
		t.Fatalf("前台群组不应累计未读, got %d", got)
	}
}

func TestGroupUnknownMessageIgnored(t *testing.T) {
	s := NewGroupStore(1)

	// 未知群组不凭事件造条目，等下次loadAll
	s.ApplyIncomingMessage(&model.Message{ID: 1, From: 2, GroupID: 99, Content: "hi", Timestamp: time.Now().Unix()})
	if len(s.List()) != 0 {
		t.Fatalf("未知群组的消息不应创建条目")
	}
}
