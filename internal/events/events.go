package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type 表示交易生命周期事件的类别。
type Type string

const (
	TypeGuardViolation  Type = "guard_violation"
	TypePaymentRequired Type = "payment_required"
	TypeTxSubmitted     Type = "tx_submitted"
	TypeEmergencyStop   Type = "emergency_stop"
)

// Event 描述一次需要广播给下游（告警、审计）的生命周期事件。
type Event struct {
	Type            Type     `json:"type"`
	IntentID        string   `json:"intent_id,omitempty"`
	TxHash          string   `json:"tx_hash,omitempty"`
	TriggeredGuards []string `json:"triggered_guards,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Detail          string   `json:"detail,omitempty"`
	OccurredAt      int64    `json:"occurred_at"`
}

// Publisher 负责向下游投递事件。投递失败不应阻断交易主流程，
// 由调用方决定是否忽略错误。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Now 返回带时间戳的事件副本，便于调用方少写一行。
func Now(event Event) Event {
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	return event
}

// MemoryPublisher 使用 channel 在进程内分发事件，主要用于测试和单机部署。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建内存事件分发器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入 channel。缓冲已满时丢弃最旧语义不可取，
// 这里直接返回错误交由调用方记录。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("事件分发器已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- Now(event):
		return nil
	default:
		return errors.New("事件缓冲已满")
	}
}

// Events 返回事件读取通道，供告警消费协程使用。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close 关闭事件通道。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	p.mu.Unlock()
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)
