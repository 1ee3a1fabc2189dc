package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/observability/metrics"
	"AuraMCP/internal/tx"
)

// CodeUnknownTool 表示请求了未注册的工具。
const CodeUnknownTool xerrors.Code = "UNKNOWN_TOOL"

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:   "unknown tool",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Result 是工具调用的成功侧产出。Payment 非空时表示 x402 分支，
// 传输层需要把它映射为协议级的 402 响应。
type Result struct {
	Data    any
	Payment *tx.PaymentRequired
}

// Handler 处理一次工具调用。参数以原始 JSON 传入。
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Registry 按名字分发工具调用。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册一个工具处理器，重名时覆盖。
func (r *Registry) Register(name string, handler Handler) {
	if name == "" || handler == nil {
		return
	}
	r.mu.Lock()
	r.handlers[name] = handler
	r.mu.Unlock()
}

// Names 返回已注册工具名的有序列表。
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Dispatch 执行指定工具，未注册的名字返回 UNKNOWN_TOOL。
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		metrics.ObserveToolRequest(name, metrics.OutcomeError)
		return Result{}, xerrors.New(CodeUnknownTool, fmt.Sprintf("未知的工具: %s", name))
	}

	result, err := handler(ctx, args)
	switch {
	case err != nil:
		metrics.ObserveToolRequest(name, metrics.OutcomeError)
	case result.Payment != nil:
		metrics.ObserveToolRequest(name, metrics.OutcomePaymentRequired)
	default:
		metrics.ObserveToolRequest(name, metrics.OutcomeSuccess)
	}
	return result, err
}
