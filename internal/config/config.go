package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"AuraMCP/internal/auth"
	"AuraMCP/internal/guard"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AURAMCP_CONFIG"

// Config 描述了 AuraMCP 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    auth.Config   `json:"auth"`
	Guard   guard.Config  `json:"guard"`
	Aura    AuraConfig    `json:"aura"`
	Web3    Web3Config    `json:"web3"`
	Payment PaymentConfig `json:"payment"`
	Ledger  LedgerConfig  `json:"ledger"`
	Events  EventsConfig  `json:"events"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuraConfig 描述上游 AURA 行情 API 的访问方式。
type AuraConfig struct {
	APIURL string `json:"api_url"`
	APIKey string `json:"api_key"`
	// Address 是查询策略建议时默认使用的组合地址。
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// PaymentConfig 是 x402 支付门控策略。
type PaymentConfig struct {
	ThresholdUSD float64 `json:"threshold_usd"`
	Amount       string  `json:"amount"`
	Asset        string  `json:"asset"`
	Receiver     string  `json:"receiver"`
	Description  string  `json:"description"`
}

// LedgerConfig 选择当日用量计数器的后端。
type LedgerConfig struct {
	Driver string      `json:"driver"` // memory | redis | mysql
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// EventsConfig 选择生命周期事件的投递后端。
type EventsConfig struct {
	Driver string `json:"driver"` // memory | rabbitmq
	URL    string `json:"url"`
	Queue  string `json:"queue"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MetricsConfig 控制独立的指标端口，留空则只通过 API 端口暴露。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// LoadFromEnv 按 AURAMCP_CONFIG 环境变量加载配置，未设置时使用缺省路径。
func LoadFromEnv(fallback string) (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = fallback
	}
	return Load(path)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Aura.TimeoutSeconds <= 0 {
		c.Aura.TimeoutSeconds = 30
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Logging.AuditPath != "" && !filepath.IsAbs(c.Logging.AuditPath) {
		c.Logging.AuditPath = filepath.Join(baseDir, c.Logging.AuditPath)
	}
}
