package guard

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestEmergencyStopShortCircuits(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})
	engine.SetEmergencyStop(true)

	// 即便滑点规则同样会违规，结果也只包含 emergency_stop。
	result := engine.ValidateSimulation(Simulation{SlippagePct: 2.0}, nil)
	if result.Passed {
		t.Fatal("expected validation to fail while emergency stop is active")
	}
	if !reflect.DeepEqual(result.TriggeredGuards, []string{EmergencyStopGuard}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	engine.SetEmergencyStop(false)
	result = engine.ValidateSimulation(Simulation{SlippagePct: 0.5}, nil)
	if !result.Passed {
		t.Fatalf("expected validation to pass, got %v", result.TriggeredGuards)
	}
}

func TestEmergencyStopFromStaticConfig(t *testing.T) {
	engine := NewEngine(Config{EmergencyStop: true})

	result := engine.ValidateSimulation(Simulation{}, nil)
	if !reflect.DeepEqual(result.TriggeredGuards, []string{EmergencyStopGuard}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	// 动态开关关闭不能覆盖配置中的静态开关。
	engine.SetEmergencyStop(false)
	exec := engine.ValidateExecution(context.Background(), nil)
	if exec.Passed || !reflect.DeepEqual(exec.TriggeredGuards, []string{EmergencyStopGuard}) {
		t.Fatalf("unexpected execution result: %+v", exec)
	}
}

func TestRiskRuleSlippageThreshold(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})

	result := engine.ValidateSimulation(Simulation{SlippagePct: 2.0}, nil)
	if result.Passed {
		t.Fatal("expected slippage violation")
	}
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"r1_risk"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for the slippage violation")
	}

	// 等于阈值不算违规。
	result = engine.ValidateSimulation(Simulation{SlippagePct: 1.0}, nil)
	if !result.Passed {
		t.Fatalf("expected pass at threshold, got %v", result.TriggeredGuards)
	}
}

func TestRiskRuleReservedFieldsAreNoOps(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{
		MaxDrawdownPct:  f64(10),
		MinLiquidityUSD: f64(50000),
	})

	result := engine.ValidateSimulation(Simulation{SlippagePct: 99, AvgPrice: 2000}, nil)
	if !result.Passed {
		t.Fatalf("reserved fields must not trigger, got %v", result.TriggeredGuards)
	}
}

func TestGasRuleGweiConversion(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("g1", GasParams{MaxGasGwei: f64(50)})

	// 20 gwei 低于上限。
	result := engine.ValidateSimulation(Simulation{}, TxContext{"gasPrice": "20000000000"})
	if !result.Passed {
		t.Fatalf("expected 20 gwei to pass, got %v", result.TriggeredGuards)
	}

	// 60 gwei 超过上限。
	result = engine.ValidateSimulation(Simulation{}, TxContext{"gasPrice": "60000000000"})
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"g1_gas"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	// gasPrice 缺失时该规则不生效。
	result = engine.ValidateSimulation(Simulation{}, TxContext{})
	if !result.Passed {
		t.Fatalf("expected pass without gasPrice, got %v", result.TriggeredGuards)
	}
}

func TestMultipleViolationsReportedTogether(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})
	engine.SetRule("g1", GasParams{MaxGasGwei: f64(50)})

	result := engine.ValidateSimulation(
		Simulation{SlippagePct: 2.0},
		TxContext{"gasPrice": "60000000000"},
	)
	if result.Passed {
		t.Fatal("expected failure")
	}
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"g1_gas", "r1_risk"}) {
		t.Fatalf("expected both guards triggered, got %v", result.TriggeredGuards)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected two warnings, got %v", result.Warnings)
	}
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})
	engine.ToggleRule("r1", false)

	result := engine.ValidateSimulation(Simulation{SlippagePct: 5.0}, nil)
	if !result.Passed {
		t.Fatalf("disabled rule must not trigger, got %v", result.TriggeredGuards)
	}

	engine.ToggleRule("r1", true)
	result = engine.ValidateSimulation(Simulation{SlippagePct: 5.0}, nil)
	if result.Passed {
		t.Fatal("re-enabled rule must trigger again")
	}
}

func TestToggleAbsentRuleIsNoOp(t *testing.T) {
	engine := NewEngine(Config{})
	engine.ToggleRule("missing", true)
	if len(engine.Rules()) != 0 {
		t.Fatal("toggling an absent rule must not create it")
	}
}

func TestRemoveRule(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})
	engine.RemoveRule("r1")
	engine.RemoveRule("r1") // 幂等

	if _, ok := engine.Rules()["r1"]; ok {
		t.Fatal("rule should be gone after removal")
	}

	result := engine.ValidateSimulation(Simulation{SlippagePct: 5.0}, nil)
	if !result.Passed {
		t.Fatalf("removed rule must not trigger, got %v", result.TriggeredGuards)
	}

	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})
	result = engine.ValidateSimulation(Simulation{SlippagePct: 5.0}, nil)
	if result.Passed {
		t.Fatal("re-added rule must evaluate normally")
	}
}

func TestRulesReturnsIsolatedSnapshot(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("route", RouteParams{AllowedDexes: []string{"uniswap"}})

	snapshot := engine.Rules()
	params := snapshot["route"].Params.(RouteParams)
	params.AllowedDexes[0] = "mutated"
	delete(snapshot, "route")

	rules := engine.Rules()
	rule, ok := rules["route"]
	if !ok {
		t.Fatal("rule missing after snapshot mutation")
	}
	if got := rule.Params.(RouteParams).AllowedDexes[0]; got != "uniswap" {
		t.Fatalf("snapshot mutation leaked into store: %q", got)
	}
}

func TestDefaultRulesLoadedAsRisk(t *testing.T) {
	engine := NewEngine(Config{
		DefaultRules: map[string]RiskParams{
			"default_slippage": {MaxSlippagePct: f64(0.5)},
		},
	})

	rules := engine.Rules()
	rule, ok := rules["default_slippage"]
	if !ok {
		t.Fatal("default rule not loaded")
	}
	if rule.Kind != KindRisk || !rule.Enabled {
		t.Fatalf("unexpected default rule: %+v", rule)
	}

	result := engine.ValidateSimulation(Simulation{SlippagePct: 1.0}, nil)
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"default_slippage_risk"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}
}

func TestRouteRuleChecks(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("route", RouteParams{
		AllowedDexes:  []string{"uniswap"},
		BlockedTokens: []string{"0xdeadbeef00000000000000000000000000000000"},
	})

	// 路由只经过 sushiswap，不在许可列表中。
	result := engine.ValidateSimulation(Simulation{Route: "sushiswap direct"}, nil)
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"route_route"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	// 许可的 DEX 出现在路由中则放行。
	result = engine.ValidateSimulation(Simulation{Route: "AURA:uniswap-v3"}, nil)
	if !result.Passed {
		t.Fatalf("expected allowed dex to pass, got %v", result.Warnings)
	}

	// 代币封禁匹配不区分大小写。
	result = engine.ValidateSimulation(Simulation{Route: "uniswap"}, TxContext{
		"tokenAddresses": []any{"0xDEADBEEF00000000000000000000000000000000"},
	})
	if result.Passed {
		t.Fatal("expected blocked token to trigger")
	}

	// 路由描述缺失时许可检查跳过。
	result = engine.ValidateSimulation(Simulation{}, nil)
	if !result.Passed {
		t.Fatalf("expected pass without route, got %v", result.TriggeredGuards)
	}
}

func TestDenyRuleChecks(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("deny", DenyParams{
		BlockedAddresses: []string{"0xBAD0000000000000000000000000000000000bad"},
		BlockedProtocols: []string{"aave"},
	})

	result := engine.ValidateSimulation(Simulation{}, TxContext{
		"to": "0xbad0000000000000000000000000000000000BAD",
	})
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"deny_deny"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	result = engine.ValidateSimulation(Simulation{Route: "repay via aave"}, nil)
	if result.Passed {
		t.Fatal("expected blocked protocol to trigger")
	}

	// 同一规则两种违规只产生一个守卫标识，但保留全部警告。
	result = engine.ValidateSimulation(Simulation{Route: "aave"}, TxContext{
		"to": "0xbad0000000000000000000000000000000000bad",
	})
	if !reflect.DeepEqual(result.TriggeredGuards, []string{"deny_deny"}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected two warnings, got %v", result.Warnings)
	}
}

type fakeUsageReader struct {
	usage DailyUsage
	err   error
}

func (f *fakeUsageReader) Usage(context.Context, time.Time) (DailyUsage, error) {
	return f.usage, f.err
}

func TestValidateExecutionDailyLimits(t *testing.T) {
	reader := &fakeUsageReader{usage: DailyUsage{VolumeUSD: 900, Transactions: 4}}
	engine := NewEngine(Config{
		MaxDailyVolumeUSD:    f64(1000),
		MaxDailyTransactions: i64(5),
	}, WithUsageReader(reader))

	ctx := context.Background()

	result := engine.ValidateExecution(ctx, TxContext{"value": 50.0})
	if !result.Passed {
		t.Fatalf("expected pass under limits, got %v", result.TriggeredGuards)
	}

	result = engine.ValidateExecution(ctx, TxContext{"value": 200.0})
	if !reflect.DeepEqual(result.TriggeredGuards, []string{DailyVolumeGuard}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}

	reader.usage = DailyUsage{VolumeUSD: 100, Transactions: 5}
	result = engine.ValidateExecution(ctx, TxContext{"value": 10.0})
	if !reflect.DeepEqual(result.TriggeredGuards, []string{DailyTransactionGuard}) {
		t.Fatalf("unexpected triggered guards: %v", result.TriggeredGuards)
	}
}

func TestValidateExecutionWithoutUsageReader(t *testing.T) {
	engine := NewEngine(Config{MaxDailyVolumeUSD: f64(1)})

	// 未注入计数存储时日限额检查为文档化的空操作。
	result := engine.ValidateExecution(context.Background(), TxContext{"value": 10000.0})
	if !result.Passed {
		t.Fatalf("expected documented no-op to pass, got %v", result.TriggeredGuards)
	}
}

func TestValidateExecutionUsageReaderFailureFailsOpen(t *testing.T) {
	reader := &fakeUsageReader{err: errors.New("redis down")}
	engine := NewEngine(Config{MaxDailyVolumeUSD: f64(1)}, WithUsageReader(reader))

	result := engine.ValidateExecution(context.Background(), TxContext{"value": 10000.0})
	if !result.Passed {
		t.Fatalf("expected fail-open on reader error, got %v", result.TriggeredGuards)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the skipped check")
	}
}

func TestParseParamsIgnoresIrrelevantFields(t *testing.T) {
	raw := json.RawMessage(`{"maxSlippagePct":1.5,"allowedDexes":["uniswap"],"unknownField":true}`)
	params, err := ParseParams(KindRisk, raw)
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	risk, ok := params.(RiskParams)
	if !ok {
		t.Fatalf("unexpected params type: %T", params)
	}
	if risk.MaxSlippagePct == nil || *risk.MaxSlippagePct != 1.5 {
		t.Fatalf("unexpected risk params: %+v", risk)
	}

	if _, err := ParseParams("bogus", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestConcurrentMutationAndValidation(t *testing.T) {
	engine := NewEngine(Config{})
	engine.SetRule("r1", RiskParams{MaxSlippagePct: f64(1.0)})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			engine.SetRule("r2", GasParams{MaxGasGwei: f64(float64(i%100 + 1))})
			engine.ToggleRule("r1", i%2 == 0)
			engine.SetEmergencyStop(i%3 == 0)
		}
	}()

	for i := 0; i < 1000; i++ {
		result := engine.ValidateSimulation(Simulation{SlippagePct: 2.0}, TxContext{"gasPrice": "60000000000"})
		// 紧急停止生效时绝不允许出现其他守卫标识。
		for _, id := range result.TriggeredGuards {
			if id == EmergencyStopGuard && len(result.TriggeredGuards) != 1 {
				t.Fatalf("emergency stop mixed with other guards: %v", result.TriggeredGuards)
			}
		}
	}
	close(stop)
	wg.Wait()
}
