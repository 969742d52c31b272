package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

// ==================== 测试用假连接 ====================

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []clientFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}

	c.mu.Lock()
	c.writes = append(c.writes, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// deliver 模拟服务端下行
func (c *fakeConn) deliver(t *testing.T, frame *serverFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) frames() []clientFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]clientFrame, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) countOp(op, channel string) int {
	count := 0
	for _, f := range c.frames() {
		if f.Op == op && f.Channel == channel {
			count++
		}
	}
	return count
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func completeConfig() config.TransportConfig {
	return config.TransportConfig{
		Enabled: true,
		AppKey:  "key",
		Cluster: "local",
		WSURL:   "ws://test/messenger/ws",
	}
}

func newTestProvider(dialer Dialer) *Provider {
	p := NewProvider(completeConfig(), "token", dialer, logger.GetLogger())
	p.minBackoff = 10 * time.Millisecond
	p.maxBackoff = 50 * time.Millisecond
	return p
}

func waitState(t *testing.T, p *Provider, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待状态%s超时，当前%s", want, p.State())
}

// ==================== 用例 ====================

func TestConnectUnavailableIsTerminal(t *testing.T) {
	// 缺少app key，降级为不可用
	cfg := config.TransportConfig{Enabled: true, Cluster: "local"}
	p := NewProvider(cfg, "token", &fakeDialer{}, logger.GetLogger())

	if err := p.Connect(context.Background()); err != ErrTransportUnavailable {
		t.Fatalf("配置不完整应返回ErrTransportUnavailable, got %v", err)
	}
	if p.State() != StateUnavailable {
		t.Fatalf("状态应为unavailable, got %s", p.State())
	}

	// 终态，重复调用同样失败且不启动重连
	if err := p.Connect(context.Background()); err != ErrTransportUnavailable {
		t.Fatalf("重复Connect应返回同一错误, got %v", err)
	}
}

func TestConnectIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	p := newTestProvider(dialer)
	defer p.Stop()

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}
	waitState(t, p, StateConnected)

	// 已连接时再次Connect是no-op
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("重复Connect应为no-op: %v", err)
	}

	dialer.mu.Lock()
	dials := dialer.dials
	dialer.mu.Unlock()
	if dials != 1 {
		t.Fatalf("应只拨号一次, got %d", dials)
	}
}

func TestSubscribeRefCounted(t *testing.T) {
	conn := newFakeConn()
	p := newTestProvider(&fakeDialer{conns: []*fakeConn{conn}})
	defer p.Stop()

	if err := p.Subscribe("user-1"); err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	if err := p.Subscribe("user-1"); err != nil {
		t.Fatalf("重复Subscribe失败: %v", err)
	}

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}
	waitState(t, p, StateConnected)

	if got := conn.countOp("subscribe", "user-1"); got != 1 {
		t.Fatalf("引用计数订阅应只产生一次线上订阅, got %d", got)
	}

	// 第一次退订只减计数
	if err := p.Unsubscribe("user-1"); err != nil {
		t.Fatalf("Unsubscribe失败: %v", err)
	}
	if got := conn.countOp("unsubscribe", "user-1"); got != 0 {
		t.Fatalf("计数未归零不应线上退订, got %d", got)
	}

	// 归零才真正退订
	if err := p.Unsubscribe("user-1"); err != nil {
		t.Fatalf("Unsubscribe失败: %v", err)
	}
	if got := conn.countOp("unsubscribe", "user-1"); got != 1 {
		t.Fatalf("计数归零应线上退订一次, got %d", got)
	}
}

func TestBindHandlersInvokedInOrder(t *testing.T) {
	conn := newFakeConn()
	p := newTestProvider(&fakeDialer{conns: []*fakeConn{conn}})
	defer p.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	if err := p.Subscribe("user-1"); err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	// 多个组件独立观察同一事件，按注册顺序调用
	p.Bind("user-1", "new_message", func(_ string, _ json.RawMessage) {
		mu.Lock()
		order = append(order, "log")
		mu.Unlock()
	})
	p.Bind("user-1", "new_message", func(_ string, _ json.RawMessage) {
		mu.Lock()
		order = append(order, "store")
		mu.Unlock()
		close(done)
	})
	p.Bind("user-1", "other_event", func(_ string, _ json.RawMessage) {
		t.Errorf("不同事件的处理器不应被调用")
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}
	waitState(t, p, StateConnected)

	conn.deliver(t, &serverFrame{Op: "event", Channel: "user-1", Event: "new_message", Data: json.RawMessage(`{}`)})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("等待事件分发超时")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "log" || order[1] != "store" {
		t.Fatalf("处理器应按注册顺序全部调用: %v", order)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	p := newTestProvider(&fakeDialer{conns: []*fakeConn{conn1, conn2}})
	defer p.Stop()

	resynced := make(chan struct{}, 1)
	p.OnResync(func() {
		select {
		case resynced <- struct{}{}:
		default:
		}
	})

	if err := p.Subscribe("user-1"); err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	if err := p.Subscribe("group-5"); err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}
	waitState(t, p, StateConnected)

	// 断开第一条连接，触发重连
	conn1.Close()

	select {
	case <-resynced:
	case <-time.After(2 * time.Second):
		t.Fatalf("等待重连完成超时")
	}
	waitState(t, p, StateConnected)

	// 新连接上所有既有订阅已重建
	if conn2.countOp("subscribe", "user-1") != 1 || conn2.countOp("subscribe", "group-5") != 1 {
		t.Fatalf("重连后应重建全部订阅: %v", conn2.frames())
	}
}

func TestDialFailureBacksOffAndRecovers(t *testing.T) {
	conn := newFakeConn()
	// 前两次拨号失败
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	failing := &failThenSucceedDialer{failures: 2, next: dialer}

	p := newTestProvider(failing)
	defer p.Stop()

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}

	waitState(t, p, StateConnected)

	failing.mu.Lock()
	attempts := failing.attempts
	failing.mu.Unlock()
	if attempts != 3 {
		t.Fatalf("应经过2次失败后第3次成功, got %d", attempts)
	}
}

type failThenSucceedDialer struct {
	mu       sync.Mutex
	failures int
	attempts int
	next     Dialer
}

func (d *failThenSucceedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.attempts++
	attempt := d.attempts
	d.mu.Unlock()

	if attempt <= d.failures {
		return nil, errors.New("dial refused")
	}
	return d.next.Dial(ctx, url)
}

func TestStopHaltsReconnect(t *testing.T) {
	// 拨号永远失败
	p := newTestProvider(&fakeDialer{})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect失败: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	p.Stop()

	if err := p.Connect(context.Background()); err == nil {
		t.Fatalf("Stop后Connect应失败")
	}
}
