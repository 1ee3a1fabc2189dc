package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/guard"
)

// MySQLCounter 使用 MySQL 持久化按天累计的交易用量。
type MySQLCounter struct {
	db *sql.DB
}

// NewMySQLCounter 创建 MySQL 计数器并确保表结构存在。
func NewMySQLCounter(ctx context.Context, dsn string) (*MySQLCounter, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	counter := &MySQLCounter{db: db}
	if err := counter.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return counter, nil
}

func (c *MySQLCounter) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS daily_tx_counters (
        day CHAR(10) PRIMARY KEY,
        volume_usd DOUBLE NOT NULL DEFAULT 0,
        tx_count BIGINT NOT NULL DEFAULT 0,
        updated_at BIGINT NOT NULL
)`
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 daily_tx_counters 表失败")
	}
	return nil
}

// Usage 实现 guard.UsageReader。
func (c *MySQLCounter) Usage(ctx context.Context, day time.Time) (guard.DailyUsage, error) {
	const query = `SELECT volume_usd, tx_count FROM daily_tx_counters WHERE day = ?`

	var usage guard.DailyUsage
	err := c.db.QueryRowContext(ctx, query, dayKey(day)).Scan(&usage.VolumeUSD, &usage.Transactions)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return guard.DailyUsage{}, nil
	}
	if err != nil {
		return guard.DailyUsage{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取当日用量失败")
	}
	return usage, nil
}

// Record 以 upsert 方式累加当日用量。
func (c *MySQLCounter) Record(ctx context.Context, day time.Time, volumeUSD float64) error {
	const stmt = `INSERT INTO daily_tx_counters (day, volume_usd, tx_count, updated_at)
        VALUES (?, ?, 1, ?)
        ON DUPLICATE KEY UPDATE
        volume_usd = volume_usd + VALUES(volume_usd),
        tx_count = tx_count + 1,
        updated_at = VALUES(updated_at)`

	if _, err := c.db.ExecContext(ctx, stmt, dayKey(day), volumeUSD, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录当日用量失败")
	}
	return nil
}

// Close 关闭数据库连接。
func (c *MySQLCounter) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

var _ Counter = (*MySQLCounter)(nil)
