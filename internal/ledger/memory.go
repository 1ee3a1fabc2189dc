package ledger

import (
	"context"
	"sync"
	"time"

	"AuraMCP/internal/guard"
)

// MemoryCounter 以内存方式累计用量，主要用于测试和单机部署。
type MemoryCounter struct {
	mu   sync.RWMutex
	days map[string]guard.DailyUsage
}

// NewMemoryCounter 创建 MemoryCounter。
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{days: make(map[string]guard.DailyUsage)}
}

// Usage 实现 guard.UsageReader。
func (m *MemoryCounter) Usage(_ context.Context, day time.Time) (guard.DailyUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.days[dayKey(day)], nil
}

// Record 累加当日用量。
func (m *MemoryCounter) Record(_ context.Context, day time.Time, volumeUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(day)
	usage := m.days[key]
	usage.VolumeUSD += volumeUSD
	usage.Transactions++
	m.days[key] = usage
	return nil
}

// Close 对内存计数器无需操作。
func (m *MemoryCounter) Close() error {
	return nil
}

var _ Counter = (*MemoryCounter)(nil)
