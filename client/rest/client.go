package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hr-messenger/client/model"
)

// FetchError REST调用失败
// 调用方据此决定重试策略，不得吞掉后当作空列表
type FetchError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client Messenger REST客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建REST客户端
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Conversations 会话列表
func (c *Client) Conversations(ctx context.Context) ([]*model.Conversation, error) {
	var resp struct {
		Success       bool                  `json:"success"`
		Conversations []*model.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/messenger/conversations", nil, &resp); err != nil {
		return nil, err
	}
	for _, conv := range resp.Conversations {
		if t, err := time.Parse(time.RFC3339, conv.LastMessageTime); err == nil {
			conv.LastMessageAt = t
		}
	}
	return resp.Conversations, nil
}

// Groups 群组列表
func (c *Client) Groups(ctx context.Context) ([]*model.Group, error) {
	var resp struct {
		Success bool           `json:"success"`
		Groups  []*model.Group `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, "/messenger/groups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// Users 员工目录
func (c *Client) Users(ctx context.Context) ([]*model.User, error) {
	var resp struct {
		Success bool          `json:"success"`
		Users   []*model.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/messenger/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// DirectHistory 单聊历史，最旧在前
func (c *Client) DirectHistory(ctx context.Context, otherID int64) ([]*model.Message, error) {
	return c.history(ctx, fmt.Sprintf("/messenger/messages/%d", otherID))
}

// GroupHistory 群聊历史，最旧在前
func (c *Client) GroupHistory(ctx context.Context, groupID int64) ([]*model.Message, error) {
	return c.history(ctx, fmt.Sprintf("/messenger/groups/%d/messages", groupID))
}

func (c *Client) history(ctx context.Context, path string) ([]*model.Message, error) {
	var resp struct {
		Success  bool `json:"success"`
		Messages []struct {
			MessageID   int64  `json:"message_id"`
			From        int64  `json:"from"`
			To          int64  `json:"to"`
			GroupID     int64  `json:"group_id"`
			Content     string `json:"content"`
			MessageType int32  `json:"message_type"`
			ClientNonce string `json:"client_nonce"`
			CreatedAt   string `json:"created_at"`
		} `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	msgs := make([]*model.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg := &model.Message{
			ID:          m.MessageID,
			From:        m.From,
			To:          m.To,
			GroupID:     m.GroupID,
			Content:     m.Content,
			MessageType: m.MessageType,
			ClientNonce: m.ClientNonce,
		}
		if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			msg.Timestamp = t.Unix()
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SendDirect 发送单聊消息
func (c *Client) SendDirect(ctx context.Context, receiverID int64, content string, messageType int32, nonce string) (*model.Message, error) {
	body := map[string]interface{}{
		"receiver_id":  receiverID,
		"message":      content,
		"message_type": messageType,
		"client_nonce": nonce,
	}
	return c.send(ctx, "/messenger/send", body)
}

// SendGroup 发送群消息
func (c *Client) SendGroup(ctx context.Context, groupID int64, content, nonce string) (*model.Message, error) {
	body := map[string]interface{}{
		"message":      content,
		"client_nonce": nonce,
	}
	return c.send(ctx, fmt.Sprintf("/messenger/groups/%d/send", groupID), body)
}

func (c *Client) send(ctx context.Context, path string, body interface{}) (*model.Message, error) {
	var resp struct {
		Success bool `json:"success"`
		Message struct {
			MessageID   int64  `json:"message_id"`
			From        int64  `json:"from"`
			To          int64  `json:"to"`
			GroupID     int64  `json:"group_id"`
			Content     string `json:"content"`
			MessageType int32  `json:"message_type"`
			ClientNonce string `json:"client_nonce"`
			CreatedAt   string `json:"created_at"`
		} `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          resp.Message.MessageID,
		From:        resp.Message.From,
		To:          resp.Message.To,
		GroupID:     resp.Message.GroupID,
		Content:     resp.Message.Content,
		MessageType: resp.Message.MessageType,
		ClientNonce: resp.Message.ClientNonce,
	}
	if t, err := time.Parse(time.RFC3339, resp.Message.CreatedAt); err == nil {
		msg.Timestamp = t.Unix()
	}
	return msg, nil
}

// CreateGroup 创建群组
func (c *Client) CreateGroup(ctx context.Context, name, description, groupType string, memberIDs []int64) (int64, error) {
	body := map[string]interface{}{
		"name":        name,
		"description": description,
		"group_type":  groupType,
		"member_ids":  memberIDs,
	}
	var resp struct {
		Success bool `json:"success"`
		Group   struct {
			ID int64 `json:"id"`
		} `json:"group"`
	}
	if err := c.do(ctx, http.MethodPost, "/messenger/groups", body, &resp); err != nil {
		return 0, err
	}
	return resp.Group.ID, nil
}

// AddMember 添加群成员
func (c *Client) AddMember(ctx context.Context, groupID, userID int64, role string) error {
	body := map[string]interface{}{
		"user_id": userID,
		"role":    role,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/messenger/groups/%d/members", groupID), body, nil)
}

// RemoveMember 移除群成员
func (c *Client) RemoveMember(ctx context.Context, groupID, userID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/messenger/groups/%d/members/%d", groupID, userID), nil, nil)
}

// MarkRead 已读水位上报
func (c *Client) MarkRead(ctx context.Context, targetKind string, targetID, messageID int64) error {
	body := map[string]interface{}{
		"target_kind": targetKind,
		"target_id":   targetID,
		"message_id":  messageID,
	}
	return c.do(ctx, http.MethodPost, "/messenger/read", body, nil)
}

// do 发起请求并解码响应
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &FetchError{Path: path, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &FetchError{Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &FetchError{Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Path: path, Err: err}
	}
	return nil
}
