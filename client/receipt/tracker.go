package receipt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hr-messenger/client/model"
	"hr-messenger/pkg/logger"
)

// 出站水位合并窗口：快速滚动的会话中每窗口最多上报一次
const debounceWindow = 200 * time.Millisecond

// Publisher 水位上报回调（REST POST /messenger/read）
type Publisher func(ctx context.Context, targetKind string, targetID, messageID int64) error

// target 去抖目标键
type target struct {
	kind string
	id   int64
}

// pending 去抖窗口内累积的最大水位
type pending struct {
	messageID int64
	timer     *time.Timer
}

// Tracker 已读水位跟踪器
// 出站：合并窗口内的水位推进，降低快速会话的上报频率；
// 入站：按(target, reader)单调应用，过期水位直接忽略
type Tracker struct {
	mu sync.Mutex

	publish  Publisher
	log      logger.Logger
	window   time.Duration
	outbound map[target]*pending
	// 入站已应用的最高水位
	inbound map[string]int64

	stopped bool
}

// NewTracker 创建水位跟踪器
func NewTracker(publish Publisher, log logger.Logger) *Tracker {
	return &Tracker{
		publish:  publish,
		log:      log,
		window:   debounceWindow,
		outbound: make(map[target]*pending),
		inbound:  make(map[string]int64),
	}
}

// MarkWatermark 推进出站水位
// 同一目标在窗口内的多次调用合并为一次上报，取最大水位
func (t *Tracker) MarkWatermark(targetKind string, targetID, messageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || messageID <= 0 {
		return
	}

	key := target{kind: targetKind, id: targetID}
	p, ok := t.outbound[key]
	if ok {
		if messageID > p.messageID {
			p.messageID = messageID
		}
		return
	}

	p = &pending{messageID: messageID}
	p.timer = time.AfterFunc(t.window, func() {
		t.flush(key)
	})
	t.outbound[key] = p
}

// flush 窗口到期，上报累积的最大水位
func (t *Tracker) flush(key target) {
	t.mu.Lock()
	p, ok := t.outbound[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.outbound, key)
	messageID := p.messageID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.publish(ctx, key.kind, key.id, messageID); err != nil {
		t.log.Warn(ctx, "Read watermark publish failed",
			logger.F("targetKind", key.kind),
			logger.F("targetID", key.id),
			logger.F("error", err.Error()))
	}
}

// Apply 应用入站水位，单调推进
// 返回true表示水位前进，调用方据此更新展示的已读状态；
// 过期或重复水位返回false，已读状态绝不回退
func (t *Tracker) Apply(receipt *model.Receipt) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := inboundKey(receipt.TargetKind, receipt.TargetID, receipt.ReaderID)
	if receipt.MessageID <= t.inbound[key] {
		return false
	}
	t.inbound[key] = receipt.MessageID
	return true
}

// Watermark 指定(target, reader)当前已应用的入站水位
func (t *Tracker) Watermark(targetKind string, targetID, readerID int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inbound[inboundKey(targetKind, targetID, readerID)]
}

// Stop 停止跟踪器，丢弃未上报的窗口
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for key, p := range t.outbound {
		p.timer.Stop()
		delete(t.outbound, key)
	}
}

func inboundKey(kind string, targetID, readerID int64) string {
	return fmt.Sprintf("%s:%d:%d", kind, targetID, readerID)
}
