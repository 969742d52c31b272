package converter

import (
	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/pkg/utils"
)

// MessengerConverter Messenger服务响应转换器
type MessengerConverter struct{}

// NewMessengerConverter 创建转换器实例
func NewMessengerConverter() *MessengerConverter {
	return &MessengerConverter{}
}

// BuildMessageView 转换消息
func (c *MessengerConverter) BuildMessageView(msg *model.Message) *model.MessageView {
	if msg == nil {
		return nil
	}
	return &model.MessageView{
		MessageID:   msg.MessageID,
		From:        msg.From,
		To:          msg.To,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		ClientNonce: msg.ClientNonce,
		CreatedAt:   utils.FormatMessageTime(msg.CreatedAt),
	}
}

// BuildMessageViews 转换消息列表
func (c *MessengerConverter) BuildMessageViews(msgs []*model.Message) []*model.MessageView {
	views := make([]*model.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, c.BuildMessageView(msg))
	}
	return views
}

// BuildSendResponse 发送响应
func (c *MessengerConverter) BuildSendResponse(msg *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"message": c.BuildMessageView(msg),
	}
}

// BuildGroupResponse 群组创建响应
func (c *MessengerConverter) BuildGroupResponse(group *model.Group) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"group": map[string]interface{}{
			"id":           group.ID,
			"name":         group.Name,
			"description":  group.Description,
			"group_type":   group.GroupType,
			"member_count": group.MemberCount,
			"created_by":   group.CreatedBy,
		},
	}
}

// BuildConversationsResponse 会话列表响应
func (c *MessengerConverter) BuildConversationsResponse(convs []*model.ConversationView) map[string]interface{} {
	return map[string]interface{}{
		"success":       true,
		"conversations": convs,
	}
}

// BuildGroupsResponse 群组列表响应
func (c *MessengerConverter) BuildGroupsResponse(groups []*model.GroupView) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"groups":  groups,
	}
}

// BuildUsersResponse 员工目录响应
func (c *MessengerConverter) BuildUsersResponse(users []*model.UserView) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"users":   users,
	}
}

// BuildMessagesResponse 历史消息响应
func (c *MessengerConverter) BuildMessagesResponse(msgs []*model.Message) map[string]interface{} {
	return map[string]interface{}{
		"success":  true,
		"messages": c.BuildMessageViews(msgs),
	}
}

// BuildSuccessResponse 通用成功响应
func (c *MessengerConverter) BuildSuccessResponse() map[string]interface{} {
	return map[string]interface{}{
		"success": true,
	}
}
