package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hr-messenger/apps/im-gateway-service/model"
	"hr-messenger/pkg/logger"
)

// PresenceStore 在线状态存储（*redis.RedisClient实现）
type PresenceStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const (
	// 在线用户集合key（messenger-service读取该集合渲染目录在线状态）
	onlineSetKey = "messenger:online"
	// 单用户在线标记TTL，心跳续期
	presenceTTL = 60 * time.Second
	// 下行发送缓冲，写满视为慢客户端并断开
	sendBufferSize = 256
)

// Connection 一条WebSocket连接
type Connection struct {
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// NewConnection 创建连接包装
func NewConnection(userID int64, conn *websocket.Conn) *Connection {
	return &Connection{
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]struct{}),
	}
}

// subscribe 记录订阅
func (c *Connection) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

// unsubscribe 移除订阅
func (c *Connection) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

// subscribed 是否订阅了频道
func (c *Connection) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue 投递下行帧，缓冲写满返回false
// 持锁覆盖发送动作，避免与markClosed的close(Send)竞争
func (c *Connection) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// markClosed 标记连接关闭并释放发送通道
func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Service IM网关服务 - 连接管理、订阅授权、在线状态、消息下行
type Service struct {
	mu          sync.RWMutex
	connections map[int64][]*Connection

	redis PresenceStore
	log   logger.Logger
}

// NewService 创建网关服务实例
func NewService(presenceStore PresenceStore, log logger.Logger) *Service {
	return &Service{
		connections: make(map[int64][]*Connection),
		redis:       presenceStore,
		log:         log,
	}
}

// Register 注册连接并上线
func (s *Service) Register(ctx context.Context, conn *Connection) {
	s.mu.Lock()
	s.connections[conn.UserID] = append(s.connections[conn.UserID], conn)
	count := len(s.connections[conn.UserID])
	s.mu.Unlock()

	s.markOnline(ctx, conn.UserID)
	if count == 1 {
		s.broadcastPresence(ctx, conn.UserID, true)
	}

	s.log.Info(ctx, "WebSocket connection registered",
		logger.F("userID", conn.UserID),
		logger.F("connections", count))
}

// Unregister 注销连接，最后一条连接断开即下线
func (s *Service) Unregister(ctx context.Context, conn *Connection) {
	conn.markClosed()

	s.mu.Lock()
	conns := s.connections[conn.UserID]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(s.connections, conn.UserID)
	} else {
		s.connections[conn.UserID] = conns
	}
	remaining := len(conns)
	s.mu.Unlock()

	if remaining == 0 {
		s.markOffline(ctx, conn.UserID)
		s.broadcastPresence(ctx, conn.UserID, false)
	}

	s.log.Info(ctx, "WebSocket connection unregistered",
		logger.F("userID", conn.UserID),
		logger.F("remaining", remaining))
}

// Subscribe 订阅频道
// 用户私有频道仅允许本人订阅；群成员资格在事件下行时按成员快照校验
func (s *Service) Subscribe(conn *Connection, channel string) error {
	kind, id, err := model.ParseChannel(channel)
	if err != nil {
		return err
	}
	if kind == model.ChannelPrefixUser && id != conn.UserID {
		return fmt.Errorf("channel %q is not yours", channel)
	}

	conn.subscribe(channel)
	return nil
}

// Unsubscribe 取消订阅
func (s *Service) Unsubscribe(conn *Connection, channel string) {
	conn.unsubscribe(channel)
}

// Heartbeat 心跳续期在线标记
func (s *Service) Heartbeat(ctx context.Context, userID int64) {
	s.markOnline(ctx, userID)
}

// PushToUsers 向指定用户的订阅连接下行事件
func (s *Service) PushToUsers(ctx context.Context, userIDs []int64, channel, event string, data interface{}) {
	payload, err := s.buildEventFrame(channel, event, data)
	if err != nil {
		s.log.Error(ctx, "Build event frame failed", logger.F("error", err.Error()))
		return
	}

	s.mu.RLock()
	targets := make([]*Connection, 0)
	for _, userID := range userIDs {
		for _, conn := range s.connections[userID] {
			if conn.subscribed(channel) {
				targets = append(targets, conn)
			}
		}
	}
	s.mu.RUnlock()

	s.deliver(ctx, targets, payload)
}

// PushToChannel 向频道的全部订阅连接下行事件
func (s *Service) PushToChannel(ctx context.Context, channel, event string, data interface{}) {
	payload, err := s.buildEventFrame(channel, event, data)
	if err != nil {
		s.log.Error(ctx, "Build event frame failed", logger.F("error", err.Error()))
		return
	}

	s.mu.RLock()
	targets := make([]*Connection, 0)
	for _, conns := range s.connections {
		for _, conn := range conns {
			if conn.subscribed(channel) {
				targets = append(targets, conn)
			}
		}
	}
	s.mu.RUnlock()

	s.deliver(ctx, targets, payload)
}

// OnlineUserIDs 当前本节点的连接用户
func (s *Service) OnlineUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.connections))
	for userID := range s.connections {
		ids = append(ids, userID)
	}
	return ids
}

// buildEventFrame 构造事件帧
func (s *Service) buildEventFrame(channel, event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return json.Marshal(&model.ServerFrame{
		Op:      model.OpEvent,
		Channel: channel,
		Event:   event,
		Data:    raw,
	})
}

// deliver 批量投递，慢客户端直接断开
func (s *Service) deliver(ctx context.Context, targets []*Connection, payload []byte) {
	for _, conn := range targets {
		if !conn.enqueue(payload) {
			s.log.Warn(ctx, "Slow consumer, dropping connection", logger.F("userID", conn.UserID))
			conn.Conn.Close()
		}
	}
}

// broadcastPresence 将上下线通知推给broadcast频道订阅者
func (s *Service) broadcastPresence(ctx context.Context, userID int64, online bool) {
	s.PushToChannel(ctx, model.ChannelBroadcast, model.EventTypePresence, &model.EventPresence{
		UserID: userID,
		Online: online,
	})
}

// markOnline 写入在线标记
func (s *Service) markOnline(ctx context.Context, userID int64) {
	member := strconv.FormatInt(userID, 10)
	if err := s.redis.SAdd(ctx, onlineSetKey, member); err != nil {
		s.log.Warn(ctx, "Mark online failed", logger.F("userID", userID), logger.F("error", err.Error()))
	}
	if err := s.redis.Set(ctx, presenceKey(userID), "1", presenceTTL); err != nil {
		s.log.Warn(ctx, "Presence TTL refresh failed", logger.F("userID", userID), logger.F("error", err.Error()))
	}
}

// markOffline 清除在线标记
func (s *Service) markOffline(ctx context.Context, userID int64) {
	member := strconv.FormatInt(userID, 10)
	if err := s.redis.SRem(ctx, onlineSetKey, member); err != nil {
		s.log.Warn(ctx, "Mark offline failed", logger.F("userID", userID), logger.F("error", err.Error()))
	}
	if err := s.redis.Del(ctx, presenceKey(userID)); err != nil {
		s.log.Warn(ctx, "Presence key cleanup failed", logger.F("userID", userID), logger.F("error", err.Error()))
	}
}

func presenceKey(userID int64) string {
	return fmt.Sprintf("messenger:presence:%d", userID)
}
