package ledger

import (
	"context"
	"time"

	"AuraMCP/internal/guard"
)

// dayKey 统一各实现的按天分桶格式，使用 UTC 避免时区漂移。
const dayFormat = "2006-01-02"

// Counter 记录并读取按天累计的交易用量，供守卫引擎的日限额检查使用。
// 同一天内的记录与读取必须落在同一个桶里。
type Counter interface {
	guard.UsageReader
	Record(ctx context.Context, day time.Time, volumeUSD float64) error
	Close() error
}

func dayKey(day time.Time) string {
	return day.UTC().Format(dayFormat)
}
