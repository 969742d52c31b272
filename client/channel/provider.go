package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

// State 连接状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateUnavailable  State = "unavailable"
	StateFailed       State = "failed"
)

// 重连退避区间
const (
	backoffMin = time.Second
	backoffMax = 30 * time.Second
)

// ErrTransportUnavailable 实时通道不可用（未启用或配置不完整）
// 终态错误，不重试；调用方降级为仅REST模式
var ErrTransportUnavailable = errors.New("realtime transport unavailable")

// Handler 事件处理回调
type Handler func(event string, data json.RawMessage)

// StateHandler 连接状态变化回调
type StateHandler func(state State)

// clientFrame 上行帧
type clientFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
}

// serverFrame 下行帧
type serverFrame struct {
	Op      string          `json:"op"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// binding 一次bind注册
type binding struct {
	event   string
	handler Handler
}

// subscription 逻辑订阅（引用计数）
type subscription struct {
	channel string
	refs    int
	// 按注册顺序逐个调用
	bindings []binding
}

// Provider 实时通道提供者
// 持有唯一一条传输连接，多路复用所有逻辑频道订阅
type Provider struct {
	cfg    config.TransportConfig
	token  string
	dialer Dialer
	log    logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	state    State
	conn     Conn
	subs     map[string]*subscription
	started  bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	reported bool

	stateHandlers  []StateHandler
	resyncHandlers []func()
}

// NewProvider 创建通道提供者
// dialer为nil时使用WebSocket拨号器
func NewProvider(cfg config.TransportConfig, token string, dialer Dialer, log logger.Logger) *Provider {
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	return &Provider{
		cfg:        cfg,
		token:      token,
		dialer:     dialer,
		log:        log,
		minBackoff: backoffMin,
		maxBackoff: backoffMax,
		state:      StateDisconnected,
		subs:       make(map[string]*subscription),
		stopCh:     make(chan struct{}),
	}
}

// State 当前连接状态
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnStateChange 注册状态变化回调
func (p *Provider) OnStateChange(h StateHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateHandlers = append(p.stateHandlers, h)
}

// OnResync 注册重连完成回调
// 回调触发时所有既有订阅已在新连接上重建；断线窗口内的消息不会补发，
// 依赖方必须经REST重拉历史
func (p *Provider) OnResync(h func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resyncHandlers = append(p.resyncHandlers, h)
}

// Connect 建立连接（幂等）
// 配置不完整时返回ErrTransportUnavailable，终态且只记录一次日志
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("provider is stopped")
	}
	if !p.cfg.Complete() {
		p.state = StateUnavailable
		alreadyReported := p.reported
		p.reported = true
		p.mu.Unlock()
		if !alreadyReported {
			p.log.Warn(ctx, "Realtime transport disabled or misconfigured, running REST-only")
			p.notifyState(StateUnavailable)
		}
		return ErrTransportUnavailable
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop 关闭连接并停止重连
func (p *Provider) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.wg.Wait()
}

// Subscribe 订阅频道（引用计数）
// 首次订阅才产生线上订阅；重复订阅复用同一逻辑订阅
func (p *Provider) Subscribe(channelName string) error {
	p.mu.Lock()
	sub, ok := p.subs[channelName]
	if !ok {
		sub = &subscription{channel: channelName}
		p.subs[channelName] = sub
	}
	sub.refs++
	first := sub.refs == 1
	conn := p.conn
	connected := p.state == StateConnected
	p.mu.Unlock()

	if first && connected && conn != nil {
		return conn.WriteJSON(&clientFrame{Op: "subscribe", Channel: channelName})
	}
	return nil
}

// Unsubscribe 取消订阅
// 引用计数归零才真正退订
func (p *Provider) Unsubscribe(channelName string) error {
	p.mu.Lock()
	sub, ok := p.subs[channelName]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	sub.refs--
	if sub.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.subs, channelName)
	conn := p.conn
	connected := p.state == StateConnected
	p.mu.Unlock()

	if connected && conn != nil {
		return conn.WriteJSON(&clientFrame{Op: "unsubscribe", Channel: channelName})
	}
	return nil
}

// Bind 绑定事件处理器
// 同一事件的多个处理器按注册顺序全部调用
func (p *Provider) Bind(channelName, event string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[channelName]
	if !ok {
		sub = &subscription{channel: channelName}
		p.subs[channelName] = sub
	}
	sub.bindings = append(sub.bindings, binding{event: event, handler: handler})
}

// run 连接主循环：拨号、重建订阅、读帧、退避重连
func (p *Provider) run() {
	defer p.wg.Done()

	backoff := p.minBackoff
	attempt := 0

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.setState(StateConnecting)

		conn, err := p.dialer.Dial(context.Background(), p.wsURL())
		if err != nil {
			p.log.Warn(context.Background(), "Transport dial failed",
				logger.F("error", err.Error()),
				logger.F("backoff", backoff.String()))
			p.setState(StateDisconnected)
			if !p.sleep(backoff) {
				return
			}
			backoff = p.nextBackoff(backoff)
			continue
		}

		// 先重建全部既有订阅，再宣告connected
		if err := p.resubscribeAll(conn); err != nil {
			conn.Close()
			p.setState(StateDisconnected)
			if !p.sleep(backoff) {
				return
			}
			backoff = p.nextBackoff(backoff)
			continue
		}

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()

		backoff = p.minBackoff
		p.setState(StateConnected)
		if attempt > 0 {
			p.notifyResync()
		}
		attempt++

		p.readLoop(conn)

		p.mu.Lock()
		p.conn = nil
		stopped := p.stopped
		p.mu.Unlock()

		conn.Close()
		if stopped {
			return
		}

		p.setState(StateDisconnected)
		if !p.sleep(backoff) {
			return
		}
		backoff = p.nextBackoff(backoff)
	}
}

// resubscribeAll 在新连接上重建订阅
func (p *Provider) resubscribeAll(conn Conn) error {
	p.mu.Lock()
	channels := make([]string, 0, len(p.subs))
	for name := range p.subs {
		channels = append(channels, name)
	}
	p.mu.Unlock()

	for _, name := range channels {
		if err := conn.WriteJSON(&clientFrame{Op: "subscribe", Channel: name}); err != nil {
			return fmt.Errorf("resubscribe %s: %w", name, err)
		}
	}
	return nil
}

// readLoop 读帧并分发，返回即连接已断
func (p *Provider) readLoop(conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			p.log.Warn(context.Background(), "Malformed server frame", logger.F("error", err.Error()))
			continue
		}

		switch frame.Op {
		case "event":
			p.dispatch(&frame)
		case "error":
			p.log.Warn(context.Background(), "Server error frame",
				logger.F("channel", frame.Channel),
				logger.F("error", frame.Error))
		case "pong":
			// 心跳应答
		}
	}
}

// dispatch 按注册顺序调用绑定的处理器
func (p *Provider) dispatch(frame *serverFrame) {
	p.mu.Lock()
	sub, ok := p.subs[frame.Channel]
	if !ok {
		p.mu.Unlock()
		return
	}
	bindings := make([]binding, len(sub.bindings))
	copy(bindings, sub.bindings)
	p.mu.Unlock()

	for _, b := range bindings {
		if b.event == frame.Event {
			b.handler(frame.Event, frame.Data)
		}
	}
}

// setState 更新状态并通知
func (p *Provider) setState(state State) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()

	p.notifyState(state)
}

func (p *Provider) notifyState(state State) {
	p.mu.Lock()
	handlers := make([]StateHandler, len(p.stateHandlers))
	copy(handlers, p.stateHandlers)
	p.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

func (p *Provider) notifyResync() {
	p.mu.Lock()
	handlers := make([]func(), len(p.resyncHandlers))
	copy(handlers, p.resyncHandlers)
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// sleep 退避等待，Stop时返回false
func (p *Provider) sleep(d time.Duration) bool {
	select {
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// wsURL 带认证token的连接地址
func (p *Provider) wsURL() string {
	return p.cfg.WSURL + "?token=" + p.token
}

// nextBackoff 指数退避
func (p *Provider) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > p.maxBackoff {
		return p.maxBackoff
	}
	return next
}
