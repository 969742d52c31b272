// Package client 即时消息客户端SDK
// 组合通道提供者、REST客户端与本地Store，对外提供完整的收发/已读/在线语义
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"hr-messenger/client/channel"
	"hr-messenger/client/delivery"
	"hr-messenger/client/model"
	"hr-messenger/client/presence"
	"hr-messenger/client/receipt"
	"hr-messenger/client/rest"
	"hr-messenger/client/store"
	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

// Messenger 即时消息客户端
// 实时事件只是刷新提示：任何连接缺口之后以REST重拉为准
type Messenger struct {
	viewerID int64

	provider *channel.Provider
	rest     *rest.Client
	convs    *store.ConversationStore
	groups   *store.GroupStore
	presence *presence.Tracker
	receipts *receipt.Tracker
	delivery *delivery.Coordinator
	log      logger.Logger

	mu sync.Mutex
	// 每个打开过的目标一份日志，key "direct:2" / "group:5"
	logs map[string]*store.MessageLog
	// 已订阅的群频道
	groupSubs map[int64]bool

	restOnly bool

	// 入站消息通知（UI渲染用）
	onIncoming func(*model.Message)
}

// New 创建客户端
// transport配置不完整时降级为仅REST模式，其余功能不受影响
func New(viewerID int64, token string, cfg config.TransportConfig, dialer channel.Dialer, log logger.Logger) *Messenger {
	restClient := rest.NewClient(cfg.APIURL, token)

	m := &Messenger{
		viewerID:  viewerID,
		provider:  channel.NewProvider(cfg, token, dialer, log),
		rest:      restClient,
		convs:     store.NewConversationStore(viewerID),
		groups:    store.NewGroupStore(viewerID),
		presence:  presence.NewTracker(),
		log:       log,
		logs:      make(map[string]*store.MessageLog),
		groupSubs: make(map[int64]bool),
	}

	m.receipts = receipt.NewTracker(restClient.MarkRead, log)
	m.delivery = delivery.NewCoordinator(viewerID, restClient, m.convs, m.groups, m.lookupLog, log)

	return m
}

// Start 启动客户端：建立实时通道并订阅私有频道
func (m *Messenger) Start(ctx context.Context) error {
	userChannel := fmt.Sprintf("user-%d", m.viewerID)
	if err := m.provider.Subscribe(userChannel); err != nil {
		return err
	}

	// 各组件独立观察同一事件，无需相互协调
	m.provider.Bind(userChannel, model.EventNewMessage, m.onNewMessage)
	m.provider.Bind(userChannel, model.EventReadReceipt, m.onReadReceipt)

	if err := m.provider.Subscribe(model.ChannelBroadcast); err != nil {
		return err
	}
	m.provider.Bind(model.ChannelBroadcast, model.EventPresence, m.onPresence)

	m.provider.OnStateChange(m.onStateChange)
	m.provider.OnResync(m.onResync)

	if err := m.provider.Connect(ctx); err != nil {
		if err == channel.ErrTransportUnavailable {
			m.restOnly = true
			return nil
		}
		return err
	}
	return nil
}

// Stop 关闭客户端
func (m *Messenger) Stop() {
	m.receipts.Stop()
	m.provider.Stop()
}

// RESTOnly 是否运行在无实时通道的降级模式
func (m *Messenger) RESTOnly() bool {
	return m.restOnly
}

// Conversations 会话Store
func (m *Messenger) Conversations() *store.ConversationStore {
	return m.convs
}

// Groups 群组Store
func (m *Messenger) Groups() *store.GroupStore {
	return m.groups
}

// Presence 在线状态跟踪器
func (m *Messenger) Presence() *presence.Tracker {
	return m.presence
}

// Receipts 已读水位跟踪器
func (m *Messenger) Receipts() *receipt.Tracker {
	return m.receipts
}

// Delivery 发送协调器
func (m *Messenger) Delivery() *delivery.Coordinator {
	return m.delivery
}

// Refresh 拉取会话、群组与目录，刷新本地Store
// 失败返回FetchError，重试策略由调用方决定
func (m *Messenger) Refresh(ctx context.Context) error {
	convs, err := m.rest.Conversations(ctx)
	if err != nil {
		return err
	}
	m.convs.ReplaceAll(convs)

	groups, err := m.rest.Groups(ctx)
	if err != nil {
		return err
	}
	m.groups.ReplaceAll(groups)

	users, err := m.rest.Users(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		m.presence.SetOnline(u.ID, u.Online)
	}

	return nil
}

// Users 员工目录
func (m *Messenger) Users(ctx context.Context) ([]*model.User, error) {
	return m.rest.Users(ctx)
}

// OpenConversation 打开单聊：拉历史、进前台、推进已读水位
func (m *Messenger) OpenConversation(ctx context.Context, otherID int64) (*store.MessageLog, error) {
	msgs, err := m.rest.DirectHistory(ctx, otherID)
	if err != nil {
		return nil, err
	}

	msgLog := m.logFor(model.TargetKindDirect, otherID)
	msgLog.LoadHistory(msgs)

	m.convs.SetOpen(otherID)
	m.convs.MarkRead(otherID)
	if maxID := msgLog.MaxID(); maxID > 0 {
		m.receipts.MarkWatermark(model.TargetKindDirect, otherID, maxID)
	}

	return msgLog, nil
}

// CloseConversation 单聊退出前台
func (m *Messenger) CloseConversation() {
	m.convs.SetOpen(0)
}

// OpenGroup 打开群聊：订阅群频道、拉历史、进前台、推进已读水位
func (m *Messenger) OpenGroup(ctx context.Context, groupID int64) (*store.MessageLog, error) {
	if err := m.subscribeGroup(groupID); err != nil {
		return nil, err
	}

	msgs, err := m.rest.GroupHistory(ctx, groupID)
	if err != nil {
		return nil, err
	}

	msgLog := m.logFor(model.TargetKindGroup, groupID)
	msgLog.LoadHistory(msgs)

	m.groups.SetOpen(groupID)
	m.groups.MarkRead(groupID)
	if maxID := msgLog.MaxID(); maxID > 0 {
		m.receipts.MarkWatermark(model.TargetKindGroup, groupID, maxID)
	}

	return msgLog, nil
}

// CloseGroup 群聊退出前台
func (m *Messenger) CloseGroup() {
	m.groups.SetOpen(0)
}

// subscribeGroup 订阅群频道并绑定事件（每群一次）
func (m *Messenger) subscribeGroup(groupID int64) error {
	m.mu.Lock()
	already := m.groupSubs[groupID]
	m.groupSubs[groupID] = true
	m.mu.Unlock()

	if already {
		return nil
	}

	groupChannel := fmt.Sprintf("group-%d", groupID)
	if err := m.provider.Subscribe(groupChannel); err != nil {
		return err
	}
	m.provider.Bind(groupChannel, model.EventNewGroupMessage, m.onNewGroupMessage)
	m.provider.Bind(groupChannel, model.EventReadReceipt, m.onReadReceipt)
	return nil
}

// onNewMessage 入站单聊消息
func (m *Messenger) onNewMessage(_ string, data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn(context.Background(), "Malformed new_message payload", logger.F("error", err.Error()))
		return
	}
	m.applyIncoming(&msg)
}

// onNewGroupMessage 入站群消息
func (m *Messenger) onNewGroupMessage(_ string, data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn(context.Background(), "Malformed new_group_message payload", logger.F("error", err.Error()))
		return
	}
	m.applyIncoming(&msg)
}

// applyIncoming 入站消息进日志与Store
// 命中前台会话时立即推进已读水位，消息直接落为已读
func (m *Messenger) applyIncoming(msg *model.Message) {
	targetKind := msg.TargetKind()
	targetID := msg.TargetID(m.viewerID)

	if msgLog := m.lookupLog(targetKind, targetID); msgLog != nil {
		msgLog.AppendLive(msg)
	}

	var foreground bool
	if targetKind == model.TargetKindGroup {
		foreground = m.groups.ApplyIncomingMessage(msg)
	} else {
		foreground = m.convs.ApplyIncomingMessage(msg)
	}

	if foreground {
		m.receipts.MarkWatermark(targetKind, targetID, msg.ID)
	}

	if m.onIncoming != nil {
		m.onIncoming(msg)
	}
}

// OnIncomingMessage 注册入站消息回调，须在Start之前调用
func (m *Messenger) OnIncomingMessage(fn func(*model.Message)) {
	m.onIncoming = fn
}

// onReadReceipt 入站已读回执
// 水位单调，过期回执不回退展示状态
func (m *Messenger) onReadReceipt(_ string, data json.RawMessage) {
	var r model.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		m.log.Warn(context.Background(), "Malformed read_receipt payload", logger.F("error", err.Error()))
		return
	}
	if r.ReaderID == m.viewerID {
		return
	}
	if !m.receipts.Apply(&r) {
		return
	}

	// 直聊回执的target_id是读方视角（即本端自己），本端日志按对端=读方定位
	targetID := r.TargetID
	if r.TargetKind == model.TargetKindDirect {
		targetID = r.ReaderID
	}
	if msgLog := m.lookupLog(r.TargetKind, targetID); msgLog != nil {
		msgLog.ApplyReadWatermark(m.viewerID, r.MessageID)
	}
}

// onPresence 他人上下线通知
// 下线走宽限期，短暂重连不在目录里抖动
func (m *Messenger) onPresence(_ string, data json.RawMessage) {
	var p model.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		m.log.Warn(context.Background(), "Malformed presence payload", logger.F("error", err.Error()))
		return
	}
	if p.UserID == m.viewerID {
		return
	}
	if p.Online {
		m.presence.MarkOnline(p.UserID)
	} else {
		m.presence.MarkDisconnected(p.UserID)
	}
}

// onStateChange 连接状态进在线跟踪器
func (m *Messenger) onStateChange(state channel.State) {
	switch state {
	case channel.StateConnected:
		m.presence.MarkOnline(m.viewerID)
	case channel.StateDisconnected, channel.StateFailed:
		m.presence.MarkDisconnected(m.viewerID)
	}
}

// onResync 重连完成：断线窗口的消息不会补发，一律REST重拉
func (m *Messenger) onResync() {
	ctx := context.Background()

	if err := m.Refresh(ctx); err != nil {
		m.log.Warn(ctx, "Post-reconnect refresh failed", logger.F("error", err.Error()))
	}

	// 重拉前台目标的历史，补齐缺口
	if otherID := m.convs.Open(); otherID > 0 {
		if msgs, err := m.rest.DirectHistory(ctx, otherID); err == nil {
			m.logFor(model.TargetKindDirect, otherID).LoadHistory(msgs)
		} else {
			m.log.Warn(ctx, "Post-reconnect history refetch failed", logger.F("error", err.Error()))
		}
	}
	if groupID := m.groups.Open(); groupID > 0 {
		if msgs, err := m.rest.GroupHistory(ctx, groupID); err == nil {
			m.logFor(model.TargetKindGroup, groupID).LoadHistory(msgs)
		} else {
			m.log.Warn(ctx, "Post-reconnect history refetch failed", logger.F("error", err.Error()))
		}
	}
}

// logFor 取或建目标日志
func (m *Messenger) logFor(targetKind string, targetID int64) *store.MessageLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := logKey(targetKind, targetID)
	msgLog, ok := m.logs[key]
	if !ok {
		msgLog = store.NewMessageLog()
		m.logs[key] = msgLog
	}
	return msgLog
}

// lookupLog 查目标日志，未打开过返回nil
func (m *Messenger) lookupLog(targetKind string, targetID int64) *store.MessageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[logKey(targetKind, targetID)]
}

func logKey(targetKind string, targetID int64) string {
	return fmt.Sprintf("%s:%d", targetKind, targetID)
}
