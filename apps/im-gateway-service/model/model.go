package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 消息事件Kafka主题（与messenger-service共用）
const MessageEventTopic = "message-events"

// 事件类型
const (
	EventTypeNewMessage      = "new_message"
	EventTypeNewGroupMessage = "new_group_message"
	EventTypeReadReceipt     = "read_receipt"
	EventTypePresence        = "presence"
)

// 客户端帧操作
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// 服务端帧操作
const (
	OpEvent = "event"
	OpPong  = "pong"
	OpError = "error"
)

// 频道前缀
const (
	ChannelPrefixUser    = "user-"
	ChannelPrefixGroup   = "group-"
	ChannelBroadcast     = "broadcast"
	ChannelAnnouncements = "announcements"
)

// MessageEvent Kafka消息事件（与messenger-service的写入格式一致）
type MessageEvent struct {
	Type      string        `json:"type"`
	Message   *EventMessage `json:"message,omitempty"`
	Receipt   *EventReceipt `json:"receipt,omitempty"`
	MemberIDs []int64       `json:"member_ids,omitempty"`
}

// EventMessage 事件中的消息体
type EventMessage struct {
	MessageID   int64  `json:"message_id"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	GroupID     int64  `json:"group_id"`
	Content     string `json:"content"`
	MessageType int32  `json:"message_type"`
	ClientNonce string `json:"client_nonce"`
	Timestamp   int64  `json:"timestamp"`
}

// EventPresence 广播频道上的上下线通知
type EventPresence struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// EventReceipt 事件中的已读回执
type EventReceipt struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
	ReaderID   int64  `json:"reader_id"`
	MessageID  int64  `json:"message_id"`
	ReadAt     int64  `json:"read_at"`
}

// ClientFrame 客户端发送的WebSocket帧
type ClientFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
}

// ServerFrame 服务端下发的WebSocket帧
type ServerFrame struct {
	Op      string          `json:"op"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// UserChannel 用户私有频道名
func UserChannel(userID int64) string {
	return ChannelPrefixUser + strconv.FormatInt(userID, 10)
}

// GroupChannel 群组频道名
func GroupChannel(groupID int64) string {
	return ChannelPrefixGroup + strconv.FormatInt(groupID, 10)
}

// ParseChannel 解析频道名
// 返回频道类别与数字ID；broadcast/announcements无ID
func ParseChannel(channel string) (kind string, id int64, err error) {
	switch {
	case channel == ChannelBroadcast:
		return ChannelBroadcast, 0, nil
	case channel == ChannelAnnouncements:
		return ChannelAnnouncements, 0, nil
	case strings.HasPrefix(channel, ChannelPrefixUser):
		id, err = strconv.ParseInt(strings.TrimPrefix(channel, ChannelPrefixUser), 10, 64)
		if err != nil || id <= 0 {
			return "", 0, fmt.Errorf("invalid user channel %q", channel)
		}
		return ChannelPrefixUser, id, nil
	case strings.HasPrefix(channel, ChannelPrefixGroup):
		id, err = strconv.ParseInt(strings.TrimPrefix(channel, ChannelPrefixGroup), 10, 64)
		if err != nil || id <= 0 {
			return "", 0, fmt.Errorf("invalid group channel %q", channel)
		}
		return ChannelPrefixGroup, id, nil
	default:
		return "", 0, fmt.Errorf("unknown channel %q", channel)
	}
}
