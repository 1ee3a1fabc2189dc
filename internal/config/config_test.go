package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %q", cfg.Server.Address)
	}
	if cfg.Ledger.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected drivers: %q / %q", cfg.Ledger.Driver, cfg.Events.Driver)
	}
	if cfg.Aura.TimeoutSeconds != 30 {
		t.Fatalf("unexpected aura timeout: %d", cfg.Aura.TimeoutSeconds)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"web3": {"chain_config": "chains.yaml", "default_chain": "sepolia"},
		"logging": {"audit_path": "audit.log"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	baseDir := filepath.Dir(path)
	if cfg.Web3.ChainConfig != filepath.Join(baseDir, "chains.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Web3.ChainConfig)
	}
	if cfg.Logging.AuditPath != filepath.Join(baseDir, "audit.log") {
		t.Fatalf("audit path not resolved: %q", cfg.Logging.AuditPath)
	}
	if cfg.Web3.DefaultChain != "sepolia" {
		t.Fatalf("unexpected default chain: %q", cfg.Web3.DefaultChain)
	}
}

func TestLoadGuardSection(t *testing.T) {
	path := writeConfig(t, `{
		"guard": {
			"default_rules": {"conservative": {"maxSlippagePct": 0.5}},
			"emergency_stop": false,
			"max_daily_volume_usd": 5000
		},
		"payment": {"threshold_usd": 250, "amount": "1.00", "asset": "USDC"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	rule, ok := cfg.Guard.DefaultRules["conservative"]
	if !ok {
		t.Fatalf("missing default rule: %+v", cfg.Guard.DefaultRules)
	}
	if rule.MaxSlippagePct == nil || *rule.MaxSlippagePct != 0.5 {
		t.Fatalf("unexpected slippage cap: %+v", rule)
	}
	if cfg.Guard.MaxDailyVolumeUSD == nil || *cfg.Guard.MaxDailyVolumeUSD != 5000 {
		t.Fatalf("unexpected daily volume cap: %+v", cfg.Guard.MaxDailyVolumeUSD)
	}
	if cfg.Payment.ThresholdUSD != 250 || cfg.Payment.Amount != "1.00" {
		t.Fatalf("unexpected payment policy: %+v", cfg.Payment)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `{"server": {"address": ":9090"}}`)
	t.Setenv(EnvConfigPath, path)

	cfg, err := LoadFromEnv("/nonexistent/fallback.json")
	if err != nil {
		t.Fatalf("按环境变量加载失败: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
}
