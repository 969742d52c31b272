package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hr-messenger/client/model"
	"hr-messenger/client/rest"
	"hr-messenger/client/store"
	"hr-messenger/pkg/logger"
)

// ValidationError 同步校验失败，未发起任何网络调用
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// SendFailed 乐观追加后持久化失败
// 携带nonce供UI定位失败条目并提供重试
type SendFailed struct {
	Nonce string
	Err   error
}

func (e *SendFailed) Error() string {
	return fmt.Sprintf("send failed (nonce %s): %v", e.Nonce, e.Err)
}

func (e *SendFailed) Unwrap() error {
	return e.Err
}

// Coordinator 发送协调器 - 所有发送的唯一入口
// 乐观追加 → REST持久化 → confirmed/failed，与实时回声按nonce收敛为一条
type Coordinator struct {
	viewerID int64
	rest     *rest.Client
	convs    *store.ConversationStore
	groups   *store.GroupStore
	log      logger.Logger

	// 目标日志解析，由上层按打开的会话提供
	resolveLog func(targetKind string, targetID int64) *store.MessageLog
	// 失败通知，UI据此提示重试
	onSendFailed func(*SendFailed)
}

// NewCoordinator 创建发送协调器
func NewCoordinator(viewerID int64, restClient *rest.Client, convs *store.ConversationStore, groups *store.GroupStore, resolveLog func(string, int64) *store.MessageLog, log logger.Logger) *Coordinator {
	return &Coordinator{
		viewerID:   viewerID,
		rest:       restClient,
		convs:      convs,
		groups:     groups,
		resolveLog: resolveLog,
		log:        log,
	}
}

// OnSendFailed 注册发送失败回调
func (c *Coordinator) OnSendFailed(fn func(*SendFailed)) {
	c.onSendFailed = fn
}

// Send 发送消息
// 同步校验并立即返回nonce；完成状态通过日志条目状态观察，不阻塞调用方。
// 失败的条目保留为failed，重试用新nonce发起新调用取代旧条目
func (c *Coordinator) Send(ctx context.Context, targetKind string, targetID int64, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", &ValidationError{Reason: "message body is empty"}
	}
	if targetID <= 0 {
		return "", &ValidationError{Reason: "invalid target"}
	}
	if targetKind != model.TargetKindDirect && targetKind != model.TargetKindGroup {
		return "", &ValidationError{Reason: "unknown target kind " + targetKind}
	}

	nonce := uuid.New().String()

	optimistic := &model.Message{
		From:        c.viewerID,
		Content:     body,
		ClientNonce: nonce,
		Timestamp:   time.Now().Unix(),
	}
	if targetKind == model.TargetKindGroup {
		optimistic.GroupID = targetID
	} else {
		optimistic.To = targetID
	}

	msgLog := c.resolveLog(targetKind, targetID)
	if msgLog != nil {
		msgLog.AppendOptimistic(optimistic)
	}

	go c.persist(ctx, targetKind, targetID, body, nonce, msgLog)

	return nonce, nil
}

// Retry 重试失败条目：丢弃旧条目，用新nonce重新发送
func (c *Coordinator) Retry(ctx context.Context, targetKind string, targetID int64, body, failedNonce string) (string, error) {
	if msgLog := c.resolveLog(targetKind, targetID); msgLog != nil {
		msgLog.Drop(failedNonce)
	}
	return c.Send(ctx, targetKind, targetID, body)
}

// persist REST持久化与结果回填
func (c *Coordinator) persist(ctx context.Context, targetKind string, targetID int64, body, nonce string, msgLog *store.MessageLog) {
	var msg *model.Message
	var err error

	if targetKind == model.TargetKindGroup {
		msg, err = c.rest.SendGroup(ctx, targetID, body, nonce)
	} else {
		msg, err = c.rest.SendDirect(ctx, targetID, body, 0, nonce)
	}

	if err != nil {
		if msgLog != nil {
			msgLog.Fail(nonce)
		}
		failure := &SendFailed{Nonce: nonce, Err: err}
		c.log.Warn(ctx, "Message persist failed",
			logger.F("targetKind", targetKind),
			logger.F("targetID", targetID),
			logger.F("nonce", nonce),
			logger.F("error", err.Error()))
		if c.onSendFailed != nil {
			c.onSendFailed(failure)
		}
		return
	}

	// 与实时回声先到者生效，后到是no-op
	if msgLog != nil {
		msgLog.Confirm(nonce, msg)
	}

	if targetKind == model.TargetKindGroup {
		c.groups.ApplyIncomingMessage(msg)
	} else {
		c.convs.ApplyIncomingMessage(msg)
	}
}

// CreateGroup 创建群组，一次性REST操作，无乐观阶段
func (c *Coordinator) CreateGroup(ctx context.Context, name, description, groupType string, memberIDs []int64) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, &ValidationError{Reason: "group name is empty"}
	}
	if len(memberIDs) == 0 {
		return 0, &ValidationError{Reason: "no members selected"}
	}
	return c.rest.CreateGroup(ctx, name, description, groupType, memberIDs)
}

// AddMember 添加群成员
func (c *Coordinator) AddMember(ctx context.Context, groupID, userID int64, role string) error {
	if groupID <= 0 || userID <= 0 {
		return &ValidationError{Reason: "invalid group or user"}
	}
	return c.rest.AddMember(ctx, groupID, userID, role)
}

// RemoveMember 移除群成员
func (c *Coordinator) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if groupID <= 0 || userID <= 0 {
		return &ValidationError{Reason: "invalid group or user"}
	}
	return c.rest.RemoveMember(ctx, groupID, userID)
}
