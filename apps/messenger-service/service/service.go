package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hr-messenger/apps/messenger-service/dao"
	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/pkg/logger"
	"hr-messenger/pkg/snowflake"
)

// Cache 未读数缓存与在线状态查询（*redis.RedisClient实现）
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
}

// EventPublisher 消息事件发布（*kafka.Producer实现）
type EventPublisher interface {
	SendMessage(topic string, key, value []byte) error
}

// 业务错误，handler层据此映射HTTP状态码
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
)

const (
	// 预览截断长度
	previewMaxLen = 80
	// 未读数缓存TTL
	unreadCacheTTL = time.Minute
	// 在线用户集合key（网关维护）
	onlineSetKey = "messenger:online"
)

// Service Messenger服务 - 消息持久化、会话/群组管理、已读水位
type Service struct {
	dao    dao.MessengerDAO
	msgDAO dao.MessageDAO
	redis  Cache
	kafka  EventPublisher
	idGen  *snowflake.Snowflake
	log    logger.Logger
}

// NewService 创建Messenger服务实例
func NewService(messengerDAO dao.MessengerDAO, msgDAO dao.MessageDAO, cache Cache, publisher EventPublisher, idGen *snowflake.Snowflake, log logger.Logger) *Service {
	return &Service{
		dao:    messengerDAO,
		msgDAO: msgDAO,
		redis:  cache,
		kafka:  publisher,
		idGen:  idGen,
		log:    log,
	}
}

// truncatePreview 截断消息预览
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxLen {
		return content
	}
	return string(runes[:previewMaxLen])
}

// unreadCacheKey 未读数缓存key
func unreadCacheKey(targetKind string, targetID, userID int64) string {
	return fmt.Sprintf("messenger:unread:%s:%d:%d", targetKind, targetID, userID)
}

// SendDirect 发送单聊消息
// 同一发送者重复提交相同nonce时返回已保存的消息（幂等）
func (s *Service) SendDirect(ctx context.Context, senderID int64, req *model.SendMessageRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message body is empty", ErrValidation)
	}
	if req.ReceiverID <= 0 || req.ReceiverID == senderID {
		return nil, fmt.Errorf("%w: invalid receiver", ErrValidation)
	}

	// nonce幂等检查：乐观发送的重试不会产生第二条消息
	if existing, err := s.msgDAO.FindByNonce(ctx, senderID, req.ClientNonce); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	msg := &model.Message{
		MessageID:   s.idGen.Generate(),
		From:        senderID,
		To:          req.ReceiverID,
		Content:     req.Message,
		MessageType: req.MessageType,
		ClientNonce: req.ClientNonce,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now(),
	}

	if err := s.msgDAO.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	conv, err := s.dao.GetOrCreateConversation(ctx, senderID, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if err := s.dao.TouchConversation(ctx, conv.ID, msg.MessageID, truncatePreview(msg.Content)); err != nil {
		s.log.Error(ctx, "Touch conversation failed", logger.F("error", err.Error()))
	}

	// 接收方未读数缓存失效
	s.invalidateUnread(ctx, model.TargetKindDirect, senderID, req.ReceiverID)

	s.publishEvent(ctx, directEventKey(senderID, req.ReceiverID), &model.MessageEvent{
		Type:    model.EventTypeNewMessage,
		Message: toEventMessage(msg),
	})

	return msg, nil
}

// SendGroup 发送群消息
// 成员快照在发送时刻解析并随事件下发：发送后被移除的成员仍会收到在途消息
func (s *Service) SendGroup(ctx context.Context, senderID, groupID int64, req *model.SendGroupMessageRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message body is empty", ErrValidation)
	}

	if _, err := s.dao.GetMember(ctx, groupID, senderID); err != nil {
		return nil, fmt.Errorf("%w: not a group member", ErrForbidden)
	}

	if existing, err := s.msgDAO.FindByNonce(ctx, senderID, req.ClientNonce); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	members, err := s.dao.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		MessageID:   s.idGen.Generate(),
		From:        senderID,
		GroupID:     groupID,
		Content:     req.Message,
		ClientNonce: req.ClientNonce,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now(),
	}

	if err := s.msgDAO.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}

	memberIDs := make([]int64, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
		if m.UserID != senderID {
			s.invalidateUnreadKey(ctx, unreadCacheKey(model.TargetKindGroup, groupID, m.UserID))
		}
	}

	s.publishEvent(ctx, groupEventKey(groupID), &model.MessageEvent{
		Type:      model.EventTypeNewGroupMessage,
		Message:   toEventMessage(msg),
		MemberIDs: memberIDs,
	})

	return msg, nil
}

// ListConversations 获取会话列表，按最近活跃倒序
func (s *Service) ListConversations(ctx context.Context, viewerID int64) ([]*model.ConversationView, error) {
	convs, err := s.dao.ListConversations(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]*model.ConversationView, 0, len(convs))
	for _, conv := range convs {
		otherID := conv.UserA
		if otherID == viewerID {
			otherID = conv.UserB
		}

		other, err := s.dao.GetUser(ctx, otherID)
		if err != nil {
			s.log.Warn(ctx, "Conversation counterpart not in directory", logger.F("userID", otherID))
			other = &model.User{ID: otherID}
		}

		unread, err := s.directUnread(ctx, viewerID, otherID)
		if err != nil {
			return nil, err
		}

		views = append(views, &model.ConversationView{
			UserID:          otherID,
			UserName:        other.Name,
			UserPhoto:       other.Photo,
			LastMessage:     conv.LastMessagePreview,
			LastMessageTime: conv.LastMessageAt.UTC().Format(time.RFC3339),
			UnreadCount:     unread,
		})
	}
	return views, nil
}

// ListGroups 获取群组列表
func (s *Service) ListGroups(ctx context.Context, viewerID int64) ([]*model.GroupView, error) {
	groups, err := s.dao.ListUserGroups(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]*model.GroupView, 0, len(groups))
	for _, g := range groups {
		member, err := s.dao.GetMember(ctx, g.ID, viewerID)
		if err != nil {
			continue
		}

		unread, err := s.groupUnread(ctx, g.ID, viewerID)
		if err != nil {
			return nil, err
		}

		creatorName := ""
		if creator, err := s.dao.GetUser(ctx, g.CreatedBy); err == nil {
			creatorName = creator.Name
		}

		views = append(views, &model.GroupView{
			ID:            g.ID,
			Name:          g.Name,
			Description:   g.Description,
			GroupType:     g.GroupType,
			MemberCount:   g.MemberCount,
			UnreadCount:   unread,
			UserRole:      member.Role,
			CreatedByName: creatorName,
		})
	}
	return views, nil
}

// ListUsers 获取员工目录（含在线状态）
func (s *Service) ListUsers(ctx context.Context, viewerID int64) ([]*model.UserView, error) {
	users, err := s.dao.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*model.UserView, 0, len(users))
	for _, u := range users {
		if u.ID == viewerID {
			continue
		}

		online := false
		if s.redis != nil {
			online, _ = s.redis.SIsMember(ctx, onlineSetKey, strconv.FormatInt(u.ID, 10))
		}

		views = append(views, &model.UserView{
			ID:     u.ID,
			Name:   u.Name,
			Photo:  u.Photo,
			Online: online,
		})
	}
	return views, nil
}

// DirectHistory 获取单聊历史，最旧在前
func (s *Service) DirectHistory(ctx context.Context, viewerID, otherID int64, limit int64) ([]*model.Message, error) {
	return s.msgDAO.DirectHistory(ctx, viewerID, otherID, limit)
}

// GroupHistory 获取群聊历史，最旧在前（仅成员可见）
func (s *Service) GroupHistory(ctx context.Context, viewerID, groupID int64, limit int64) ([]*model.Message, error) {
	if _, err := s.dao.GetMember(ctx, groupID, viewerID); err != nil {
		return nil, fmt.Errorf("%w: not a group member", ErrForbidden)
	}
	return s.msgDAO.GroupHistory(ctx, groupID, limit)
}

// CreateGroup 创建群组，创建者自动成为admin
func (s *Service) CreateGroup(ctx context.Context, creatorID int64, req *model.CreateGroupRequest) (*model.Group, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: group name is empty", ErrValidation)
	}
	if len(req.MemberIDs) == 0 {
		return nil, fmt.Errorf("%w: no members selected", ErrValidation)
	}

	groupType := req.GroupType
	switch groupType {
	case model.GroupTypeTeamLead, model.GroupTypeManagement, model.GroupTypeAccounts,
		model.GroupTypeHR, model.GroupTypeDepartment, model.GroupTypeCustom:
	case "":
		groupType = model.GroupTypeCustom
	default:
		return nil, fmt.Errorf("%w: unknown group type %q", ErrValidation, req.GroupType)
	}

	group := &model.Group{
		Name:        req.Name,
		Description: req.Description,
		GroupType:   groupType,
		CreatedBy:   creatorID,
	}

	if err := s.dao.CreateGroup(ctx, group, req.MemberIDs); err != nil {
		return nil, err
	}

	return group, nil
}

// AddMember 添加群成员（仅admin）
func (s *Service) AddMember(ctx context.Context, operatorID, groupID int64, req *model.AddMemberRequest) error {
	if err := s.requireAdmin(ctx, groupID, operatorID); err != nil {
		return err
	}

	role := req.Role
	if role == "" {
		role = model.RoleMember
	}
	if role != model.RoleMember && role != model.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, req.Role)
	}

	return s.dao.AddMember(ctx, &model.GroupMember{
		GroupID: groupID,
		UserID:  req.UserID,
		Role:    role,
	})
}

// RemoveMember 移除群成员（仅admin；不允许移除最后一名admin）
func (s *Service) RemoveMember(ctx context.Context, operatorID, groupID, userID int64) error {
	if err := s.requireAdmin(ctx, groupID, operatorID); err != nil {
		return err
	}

	member, err := s.dao.GetMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("%w: member", ErrNotFound)
	}

	if member.Role == model.RoleAdmin {
		admins, err := s.dao.CountAdmins(ctx, groupID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: cannot remove the last admin", ErrValidation)
		}
	}

	return s.dao.RemoveMember(ctx, groupID, userID)
}

// MarkRead 推进已读水位
// 水位单调：过期的上报是no-op，不发布回执事件
func (s *Service) MarkRead(ctx context.Context, readerID int64, req *model.MarkReadRequest) error {
	if req.TargetKind != model.TargetKindDirect && req.TargetKind != model.TargetKindGroup {
		return fmt.Errorf("%w: unknown target kind %q", ErrValidation, req.TargetKind)
	}

	advanced, err := s.dao.AdvanceReadState(ctx, req.TargetKind, req.TargetID, readerID, req.MessageID)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	s.invalidateUnreadKey(ctx, unreadCacheKey(req.TargetKind, req.TargetID, readerID))

	receipt := &model.EventReceipt{
		TargetKind: req.TargetKind,
		TargetID:   req.TargetID,
		ReaderID:   readerID,
		MessageID:  req.MessageID,
		ReadAt:     time.Now().Unix(),
	}

	key := groupEventKey(req.TargetID)
	if req.TargetKind == model.TargetKindDirect {
		key = directEventKey(readerID, req.TargetID)
	}
	s.publishEvent(ctx, key, &model.MessageEvent{
		Type:    model.EventTypeReadReceipt,
		Receipt: receipt,
	})

	return nil
}

// requireAdmin 校验操作者是群admin
func (s *Service) requireAdmin(ctx context.Context, groupID, userID int64) error {
	member, err := s.dao.GetMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("%w: not a group member", ErrForbidden)
	}
	if member.Role != model.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// directUnread 单聊未读数（经redis缓存）
func (s *Service) directUnread(ctx context.Context, viewerID, otherID int64) (int64, error) {
	key := unreadCacheKey(model.TargetKindDirect, otherID, viewerID)
	if cached, err := s.redis.Get(ctx, key); err == nil {
		if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return n, nil
		}
	}

	watermark, err := s.dao.GetReadState(ctx, model.TargetKindDirect, otherID, viewerID)
	if err != nil {
		return 0, err
	}
	count, err := s.msgDAO.CountDirectUnread(ctx, viewerID, otherID, watermark)
	if err != nil {
		return 0, err
	}

	if err := s.redis.Set(ctx, key, count, unreadCacheTTL); err != nil {
		s.log.Warn(ctx, "Unread cache set failed", logger.F("error", err.Error()))
	}
	return count, nil
}

// groupUnread 群聊未读数（经redis缓存）
func (s *Service) groupUnread(ctx context.Context, groupID, viewerID int64) (int64, error) {
	key := unreadCacheKey(model.TargetKindGroup, groupID, viewerID)
	if cached, err := s.redis.Get(ctx, key); err == nil {
		if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return n, nil
		}
	}

	watermark, err := s.dao.GetReadState(ctx, model.TargetKindGroup, groupID, viewerID)
	if err != nil {
		return 0, err
	}
	count, err := s.msgDAO.CountGroupUnread(ctx, groupID, viewerID, watermark)
	if err != nil {
		return 0, err
	}

	if err := s.redis.Set(ctx, key, count, unreadCacheTTL); err != nil {
		s.log.Warn(ctx, "Unread cache set failed", logger.F("error", err.Error()))
	}
	return count, nil
}

// invalidateUnread 单聊未读数缓存失效（接收方视角）
func (s *Service) invalidateUnread(ctx context.Context, targetKind string, senderID, receiverID int64) {
	s.invalidateUnreadKey(ctx, unreadCacheKey(targetKind, senderID, receiverID))
}

func (s *Service) invalidateUnreadKey(ctx context.Context, key string) {
	if err := s.redis.Del(ctx, key); err != nil {
		s.log.Warn(ctx, "Unread cache invalidate failed", logger.F("key", key), logger.F("error", err.Error()))
	}
}

// publishEvent 发布消息事件到Kafka
// key保证同一会话的事件落在同一分区，分区内有序
func (s *Service) publishEvent(ctx context.Context, key string, event *model.MessageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error(ctx, "Marshal message event failed", logger.F("error", err.Error()))
		return
	}
	if err := s.kafka.SendMessage(model.MessageEventTopic, []byte(key), payload); err != nil {
		s.log.Error(ctx, "Publish message event failed", logger.F("error", err.Error()))
	}
}

// directEventKey 单聊事件分区key（无序用户对规范化）
func directEventKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("d:%d:%d", userA, userB)
}

// groupEventKey 群聊事件分区key
func groupEventKey(groupID int64) string {
	return fmt.Sprintf("g:%d", groupID)
}

// toEventMessage 转换为事件消息体
func toEventMessage(msg *model.Message) *model.EventMessage {
	return &model.EventMessage{
		MessageID:   msg.MessageID,
		From:        msg.From,
		To:          msg.To,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		ClientNonce: msg.ClientNonce,
		Timestamp:   msg.CreatedAt.Unix(),
	}
}
