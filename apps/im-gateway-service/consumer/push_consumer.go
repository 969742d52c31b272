package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"hr-messenger/apps/im-gateway-service/model"
	"hr-messenger/apps/im-gateway-service/service"
	"hr-messenger/pkg/logger"
	"hr-messenger/pkg/redis"
)

// 推送去重标记TTL，覆盖消费组重平衡窗口
const dedupTTL = 10 * time.Minute

// PushConsumer 消费消息事件并下行到WebSocket连接
type PushConsumer struct {
	svc   *service.Service
	redis *redis.RedisClient
	log   logger.Logger
}

// NewPushConsumer 创建推送消费者
func NewPushConsumer(svc *service.Service, redisClient *redis.RedisClient, log logger.Logger) *PushConsumer {
	return &PushConsumer{
		svc:   svc,
		redis: redisClient,
		log:   log,
	}
}

// HandleMessage 处理一条Kafka消息
// 通过partition/offset的SetNX去重，重平衡后的重复消费不会二次推送
func (pc *PushConsumer) HandleMessage(msg *sarama.ConsumerMessage) error {
	ctx := context.Background()

	dedupKey := fmt.Sprintf("messenger:push:dedup:%d:%d", msg.Partition, msg.Offset)
	fresh, err := pc.redis.SetNX(ctx, dedupKey, "1", dedupTTL)
	if err != nil {
		pc.log.Warn(ctx, "Push dedup check failed", logger.F("error", err.Error()))
	} else if !fresh {
		return nil
	}

	var event model.MessageEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		pc.log.Error(ctx, "Unmarshal message event failed",
			logger.F("partition", msg.Partition),
			logger.F("offset", msg.Offset),
			logger.F("error", err.Error()))
		// 坏消息不重试
		return nil
	}

	switch event.Type {
	case model.EventTypeNewMessage:
		pc.handleNewMessage(ctx, &event)
	case model.EventTypeNewGroupMessage:
		pc.handleNewGroupMessage(ctx, &event)
	case model.EventTypeReadReceipt:
		pc.handleReadReceipt(ctx, &event)
	default:
		pc.log.Warn(ctx, "Unknown event type", logger.F("type", event.Type))
	}

	return nil
}

// handleNewMessage 单聊消息：推给双方的私有频道
// 发送方收到的是回声，客户端按message_id/nonce去重
func (pc *PushConsumer) handleNewMessage(ctx context.Context, event *model.MessageEvent) {
	if event.Message == nil {
		return
	}
	msg := event.Message

	pc.svc.PushToUsers(ctx, []int64{msg.To}, model.UserChannel(msg.To), model.EventTypeNewMessage, msg)
	pc.svc.PushToUsers(ctx, []int64{msg.From}, model.UserChannel(msg.From), model.EventTypeNewMessage, msg)
}

// handleNewGroupMessage 群消息：按发送时刻的成员快照投递
// 发送后被移除的成员仍收到该条在途消息
func (pc *PushConsumer) handleNewGroupMessage(ctx context.Context, event *model.MessageEvent) {
	if event.Message == nil {
		return
	}
	msg := event.Message

	pc.svc.PushToUsers(ctx, event.MemberIDs, model.GroupChannel(msg.GroupID), model.EventTypeNewGroupMessage, msg)
}

// handleReadReceipt 已读回执：单聊推给对端，群聊推给频道订阅者
func (pc *PushConsumer) handleReadReceipt(ctx context.Context, event *model.MessageEvent) {
	if event.Receipt == nil {
		return
	}
	receipt := event.Receipt

	if receipt.TargetKind == "direct" {
		pc.svc.PushToUsers(ctx, []int64{receipt.TargetID}, model.UserChannel(receipt.TargetID), model.EventTypeReadReceipt, receipt)
		return
	}
	pc.svc.PushToChannel(ctx, model.GroupChannel(receipt.TargetID), model.EventTypeReadReceipt, receipt)
}
