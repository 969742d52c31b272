package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/pkg/logger"
	"hr-messenger/pkg/snowflake"
)

// ==================== 测试用fake ====================

type fakeMessengerDAO struct {
	conversations map[string]*model.Conversation
	groups        map[int64]*model.Group
	members       map[int64][]*model.GroupMember
	readStates    map[string]int64
	users         map[int64]*model.User
	nextGroupID   int64
}

func newFakeMessengerDAO() *fakeMessengerDAO {
	return &fakeMessengerDAO{
		conversations: make(map[string]*model.Conversation),
		groups:        make(map[int64]*model.Group),
		members:       make(map[int64][]*model.GroupMember),
		readStates:    make(map[string]int64),
		users:         make(map[int64]*model.User),
		nextGroupID:   1,
	}
}

func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (f *fakeMessengerDAO) GetOrCreateConversation(_ context.Context, userA, userB int64) (*model.Conversation, error) {
	key := pairKey(userA, userB)
	if conv, ok := f.conversations[key]; ok {
		return conv, nil
	}
	a, b := userA, userB
	if a > b {
		a, b = b, a
	}
	conv := &model.Conversation{ID: int64(len(f.conversations) + 1), UserA: a, UserB: b}
	f.conversations[key] = conv
	return conv, nil
}

func (f *fakeMessengerDAO) TouchConversation(_ context.Context, convID, messageID int64, preview string) error {
	for _, conv := range f.conversations {
		if conv.ID == convID && conv.LastMessageID < messageID {
			conv.LastMessageID = messageID
			conv.LastMessagePreview = preview
			conv.LastMessageAt = time.Now()
		}
	}
	return nil
}

func (f *fakeMessengerDAO) ListConversations(_ context.Context, userID int64) ([]*model.Conversation, error) {
	out := make([]*model.Conversation, 0)
	for _, conv := range f.conversations {
		if conv.UserA == userID || conv.UserB == userID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeMessengerDAO) CreateGroup(_ context.Context, group *model.Group, memberIDs []int64) error {
	group.ID = f.nextGroupID
	f.nextGroupID++
	f.groups[group.ID] = group

	f.members[group.ID] = []*model.GroupMember{{GroupID: group.ID, UserID: group.CreatedBy, Role: model.RoleAdmin}}
	for _, id := range memberIDs {
		if id == group.CreatedBy {
			continue
		}
		f.members[group.ID] = append(f.members[group.ID], &model.GroupMember{GroupID: group.ID, UserID: id, Role: model.RoleMember})
	}
	group.MemberCount = int32(len(f.members[group.ID]))
	return nil
}

func (f *fakeMessengerDAO) GetGroup(_ context.Context, groupID int64) (*model.Group, error) {
	if g, ok := f.groups[groupID]; ok {
		return g, nil
	}
	return nil, errors.New("group not found")
}

func (f *fakeMessengerDAO) ListUserGroups(_ context.Context, userID int64) ([]*model.Group, error) {
	out := make([]*model.Group, 0)
	for gid, members := range f.members {
		for _, m := range members {
			if m.UserID == userID {
				out = append(out, f.groups[gid])
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMessengerDAO) GetMember(_ context.Context, groupID, userID int64) (*model.GroupMember, error) {
	for _, m := range f.members[groupID] {
		if m.UserID == userID {
			return m, nil
		}
	}
	return nil, errors.New("member not found")
}

func (f *fakeMessengerDAO) GetGroupMembers(_ context.Context, groupID int64) ([]*model.GroupMember, error) {
	return f.members[groupID], nil
}

func (f *fakeMessengerDAO) AddMember(_ context.Context, member *model.GroupMember) error {
	f.members[member.GroupID] = append(f.members[member.GroupID], member)
	return nil
}

func (f *fakeMessengerDAO) RemoveMember(_ context.Context, groupID, userID int64) error {
	members := f.members[groupID]
	for i, m := range members {
		if m.UserID == userID {
			f.members[groupID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return errors.New("member not found")
}

func (f *fakeMessengerDAO) CountAdmins(_ context.Context, groupID int64) (int64, error) {
	var count int64
	for _, m := range f.members[groupID] {
		if m.Role == model.RoleAdmin {
			count++
		}
	}
	return count, nil
}

func readStateKey(kind string, targetID, userID int64) string {
	return fmt.Sprintf("%s:%d:%d", kind, targetID, userID)
}

func (f *fakeMessengerDAO) GetReadState(_ context.Context, targetKind string, targetID, userID int64) (int64, error) {
	return f.readStates[readStateKey(targetKind, targetID, userID)], nil
}

func (f *fakeMessengerDAO) AdvanceReadState(_ context.Context, targetKind string, targetID, userID, messageID int64) (bool, error) {
	key := readStateKey(targetKind, targetID, userID)
	if messageID <= f.readStates[key] {
		return false, nil
	}
	f.readStates[key] = messageID
	return true, nil
}

func (f *fakeMessengerDAO) ListUsers(_ context.Context) ([]*model.User, error) {
	out := make([]*model.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeMessengerDAO) GetUser(_ context.Context, userID int64) (*model.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

type fakeMessageDAO struct {
	messages []*model.Message
}

func (f *fakeMessageDAO) SaveMessage(_ context.Context, msg *model.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessageDAO) FindByNonce(_ context.Context, senderID int64, nonce string) (*model.Message, error) {
	if nonce == "" {
		return nil, nil
	}
	for _, m := range f.messages {
		if m.From == senderID && m.ClientNonce == nonce {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessageDAO) DirectHistory(_ context.Context, userA, userB, _ int64) ([]*model.Message, error) {
	out := make([]*model.Message, 0)
	for _, m := range f.messages {
		if m.GroupID == 0 && ((m.From == userA && m.To == userB) || (m.From == userB && m.To == userA)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageDAO) GroupHistory(_ context.Context, groupID, _ int64) ([]*model.Message, error) {
	out := make([]*model.Message, 0)
	for _, m := range f.messages {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageDAO) CountDirectUnread(_ context.Context, viewerID, otherID, watermark int64) (int64, error) {
	var count int64
	for _, m := range f.messages {
		if m.GroupID == 0 && m.From == otherID && m.To == viewerID && m.MessageID > watermark {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessageDAO) CountGroupUnread(_ context.Context, groupID, viewerID, watermark int64) (int64, error) {
	var count int64
	for _, m := range f.messages {
		if m.GroupID == groupID && m.From != viewerID && m.MessageID > watermark {
			count++
		}
	}
	return count, nil
}

type fakeCache struct {
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return "", errors.New("cache miss")
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeCache) SIsMember(_ context.Context, _ string, _ interface{}) (bool, error) {
	return false, nil
}

type fakePublisher struct {
	events []*model.MessageEvent
	keys   []string
}

func (f *fakePublisher) SendMessage(_ string, key, value []byte) error {
	var event model.MessageEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	f.events = append(f.events, &event)
	f.keys = append(f.keys, string(key))
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeMessengerDAO, *fakeMessageDAO, *fakePublisher) {
	t.Helper()

	idGen, err := snowflake.NewSnowflake(1)
	if err != nil {
		t.Fatalf("创建snowflake失败: %v", err)
	}

	mdao := newFakeMessengerDAO()
	msgDAO := &fakeMessageDAO{}
	pub := &fakePublisher{}
	svc := NewService(mdao, msgDAO, newFakeCache(), pub, idGen, logger.GetLogger())
	return svc, mdao, msgDAO, pub
}

// ==================== 用例 ====================

func TestSendDirectEmptyBody(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SendDirect(context.Background(), 1, &model.SendMessageRequest{
		ReceiverID: 2,
		Message:    "   ",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("空消息应返回校验错误, got %v", err)
	}
}

func TestSendDirectNonceIdempotent(t *testing.T) {
	svc, _, msgDAO, pub := newTestService(t)
	ctx := context.Background()

	req := &model.SendMessageRequest{ReceiverID: 2, Message: "Hello", ClientNonce: "nonce-1"}

	first, err := svc.SendDirect(ctx, 1, req)
	if err != nil {
		t.Fatalf("首次发送失败: %v", err)
	}
	second, err := svc.SendDirect(ctx, 1, req)
	if err != nil {
		t.Fatalf("重复发送失败: %v", err)
	}

	if first.MessageID != second.MessageID {
		t.Fatalf("相同nonce应返回同一条消息: %d != %d", first.MessageID, second.MessageID)
	}
	if len(msgDAO.messages) != 1 {
		t.Fatalf("相同nonce只应落库一次, got %d", len(msgDAO.messages))
	}
	if len(pub.events) != 1 {
		t.Fatalf("相同nonce只应发布一次事件, got %d", len(pub.events))
	}
}

func TestSendDirectPublishesEvent(t *testing.T) {
	svc, _, _, pub := newTestService(t)

	msg, err := svc.SendDirect(context.Background(), 1, &model.SendMessageRequest{
		ReceiverID: 2, Message: "Hello", ClientNonce: "n1",
	})
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("应发布1个事件, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.Type != model.EventTypeNewMessage {
		t.Fatalf("事件类型错误: %s", event.Type)
	}
	if event.Message.MessageID != msg.MessageID || event.Message.Content != "Hello" {
		t.Fatalf("事件消息体不一致: %+v", event.Message)
	}
	if pub.keys[0] != "d:1:2" {
		t.Fatalf("分区key应为规范化用户对, got %s", pub.keys[0])
	}
}

func TestSendGroupRequiresMembership(t *testing.T) {
	svc, mdao, _, _ := newTestService(t)
	ctx := context.Background()

	if err := mdao.CreateGroup(ctx, &model.Group{Name: "g", CreatedBy: 1}, []int64{2}); err != nil {
		t.Fatalf("建群失败: %v", err)
	}

	_, err := svc.SendGroup(ctx, 99, 1, &model.SendGroupMessageRequest{Message: "hi", ClientNonce: "n"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("非成员发群消息应被拒绝, got %v", err)
	}
}

func TestSendGroupCarriesMemberSnapshot(t *testing.T) {
	svc, mdao, _, pub := newTestService(t)
	ctx := context.Background()

	if err := mdao.CreateGroup(ctx, &model.Group{Name: "g", CreatedBy: 1}, []int64{2, 3}); err != nil {
		t.Fatalf("建群失败: %v", err)
	}

	if _, err := svc.SendGroup(ctx, 2, 1, &model.SendGroupMessageRequest{Message: "status", ClientNonce: "n2"}); err != nil {
		t.Fatalf("发送群消息失败: %v", err)
	}

	event := pub.events[len(pub.events)-1]
	if event.Type != model.EventTypeNewGroupMessage {
		t.Fatalf("事件类型错误: %s", event.Type)
	}
	if len(event.MemberIDs) != 3 {
		t.Fatalf("成员快照应包含发送时刻的全部成员, got %v", event.MemberIDs)
	}
}

func TestMarkReadMonotonic(t *testing.T) {
	svc, _, _, pub := newTestService(t)
	ctx := context.Background()

	if err := svc.MarkRead(ctx, 2, &model.MarkReadRequest{TargetKind: model.TargetKindDirect, TargetID: 1, MessageID: 100}); err != nil {
		t.Fatalf("首次上报失败: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != model.EventTypeReadReceipt {
		t.Fatalf("水位前进应发布回执事件")
	}

	// 过期水位是no-op，不发布事件
	if err := svc.MarkRead(ctx, 2, &model.MarkReadRequest{TargetKind: model.TargetKindDirect, TargetID: 1, MessageID: 50}); err != nil {
		t.Fatalf("过期上报不应报错: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("过期水位不应发布事件, got %d", len(pub.events))
	}
}

func TestMarkReadUnknownKind(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.MarkRead(context.Background(), 1, &model.MarkReadRequest{TargetKind: "channel", TargetID: 1, MessageID: 1})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("未知目标类别应返回校验错误, got %v", err)
	}
}

func TestRemoveLastAdminRejected(t *testing.T) {
	svc, mdao, _, _ := newTestService(t)
	ctx := context.Background()

	if err := mdao.CreateGroup(ctx, &model.Group{Name: "g", CreatedBy: 1}, []int64{2}); err != nil {
		t.Fatalf("建群失败: %v", err)
	}

	err := svc.RemoveMember(ctx, 1, 1, 1)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("移除最后一名admin应被拒绝, got %v", err)
	}

	// 普通成员可以移除
	if err := svc.RemoveMember(ctx, 1, 1, 2); err != nil {
		t.Fatalf("移除普通成员失败: %v", err)
	}
}

func TestRemoveMemberRequiresAdmin(t *testing.T) {
	svc, mdao, _, _ := newTestService(t)
	ctx := context.Background()

	if err := mdao.CreateGroup(ctx, &model.Group{Name: "g", CreatedBy: 1}, []int64{2, 3}); err != nil {
		t.Fatalf("建群失败: %v", err)
	}

	err := svc.RemoveMember(ctx, 2, 1, 3)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("普通成员不应有移人权限, got %v", err)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateGroup(ctx, 1, &model.CreateGroupRequest{Name: " ", MemberIDs: []int64{2}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("空群名应被拒绝, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, 1, &model.CreateGroupRequest{Name: "g"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("无成员应被拒绝, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, 1, &model.CreateGroupRequest{Name: "g", GroupType: "secret", MemberIDs: []int64{2}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("未知群类型应被拒绝, got %v", err)
	}
}

func TestGroupUnreadExcludesSender(t *testing.T) {
	svc, mdao, _, _ := newTestService(t)
	ctx := context.Background()

	if err := mdao.CreateGroup(ctx, &model.Group{Name: "g", CreatedBy: 1}, []int64{2, 3}); err != nil {
		t.Fatalf("建群失败: %v", err)
	}

	if _, err := svc.SendGroup(ctx, 2, 1, &model.SendGroupMessageRequest{Message: "Status update", ClientNonce: "n3"}); err != nil {
		t.Fatalf("发送群消息失败: %v", err)
	}

	// 发送者自己的未读为0，其他成员为1
	senderGroups, err := svc.ListGroups(ctx, 2)
	if err != nil {
		t.Fatalf("拉取群列表失败: %v", err)
	}
	if len(senderGroups) != 1 || senderGroups[0].UnreadCount != 0 {
		t.Fatalf("发送者未读应为0: %+v", senderGroups)
	}

	otherGroups, err := svc.ListGroups(ctx, 3)
	if err != nil {
		t.Fatalf("拉取群列表失败: %v", err)
	}
	if len(otherGroups) != 1 || otherGroups[0].UnreadCount != 1 {
		t.Fatalf("其他成员未读应为1: %+v", otherGroups)
	}
}

func TestTruncatePreview(t *testing.T) {
	short := "hello"
	if got := truncatePreview(short); got != short {
		t.Fatalf("短消息不应截断: %s", got)
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "长"
	}
	got := truncatePreview(long)
	if len([]rune(got)) != previewMaxLen {
		t.Fatalf("长消息应截断到%d字符, got %d", previewMaxLen, len([]rune(got)))
	}
}
