package channel

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn 传输连接抽象，便于用假连接测试
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer 拨号器抽象
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// wsConn gorilla/websocket连接包装
// 写操作串行化，gorilla连接不允许并发写
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// wsDialer WebSocket拨号器
type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer 创建WebSocket拨号器
func NewWebSocketDialer() Dialer {
	return &wsDialer{dialer: websocket.DefaultDialer}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}
