package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// EmergencyStopGuard 是紧急停止触发时返回的守卫标识。
const EmergencyStopGuard = "emergency_stop"

// 日限额检查触发时返回的守卫标识。
const (
	DailyVolumeGuard      = "daily_volume_limit"
	DailyTransactionGuard = "daily_transaction_limit"
)

// Config 是引擎构造时的不可变配置。DefaultRules 在启动阶段被加载为
// risk 类规则，名称取自 map 的键，作为未显式配置时的兜底防线。
type Config struct {
	DefaultRules         map[string]RiskParams `json:"default_rules"`
	EmergencyStop        bool                  `json:"emergency_stop"`
	MaxDailyVolumeUSD    *float64              `json:"max_daily_volume_usd,omitempty"`
	MaxDailyTransactions *int64                `json:"max_daily_transactions,omitempty"`
}

// DailyUsage 描述当日已累计的交易用量。
type DailyUsage struct {
	VolumeUSD    float64
	Transactions int64
}

// UsageReader 提供按天累计的用量读取能力，由外部计数存储实现。
type UsageReader interface {
	Usage(ctx context.Context, day time.Time) (DailyUsage, error)
}

// Engine 维护命名守卫规则与进程级紧急停止开关，并对模拟结果和
// 执行请求进行评估。规则与开关被并发请求共享，读写均受锁保护，
// 读取方看到的始终是完整应用前或完整应用后的状态。
type Engine struct {
	mu            sync.RWMutex
	rules         map[string]Rule
	emergencyStop bool
	cfg           Config
	usage         UsageReader
}

// EngineOption 定义可选的引擎配置。
type EngineOption func(*Engine)

// WithUsageReader 注入日限额检查所需的用量读取器。未注入时，
// 日限额检查退化为文档化的空操作。
func WithUsageReader(reader UsageReader) EngineOption {
	return func(e *Engine) {
		e.usage = reader
	}
}

// NewEngine 创建守卫引擎并加载配置中的默认规则。
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	engine := &Engine{
		rules: make(map[string]Rule),
		cfg:   cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	for name, params := range cfg.DefaultRules {
		engine.SetRule(name, params)
	}
	return engine
}

// SetRule 新增或覆盖一条规则，并总是将其置为启用状态。
func (e *Engine) SetRule(name string, params RuleParams) {
	if params == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[name] = Rule{Kind: params.Kind(), Params: params, Enabled: true}
}

// RemoveRule 删除规则。删除不存在的规则是空操作。
func (e *Engine) RemoveRule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, name)
}

// ToggleRule 启用或停用规则。规则不存在时不做任何事，也不报错。
func (e *Engine) ToggleRule(name string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[name]
	if !ok {
		return
	}
	rule.Enabled = enabled
	e.rules[name] = rule
}

// Rules 返回当前规则集的快照。修改快照不影响引擎内部状态。
func (e *Engine) Rules() map[string]Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make(map[string]Rule, len(e.rules))
	for name, rule := range e.rules {
		snapshot[name] = cloneRule(rule)
	}
	return snapshot
}

// SetEmergencyStop 设置进程级紧急停止开关，独立于配置中的静态开关。
func (e *Engine) SetEmergencyStop(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = enabled
}

// EmergencyStopped 报告紧急停止是否生效（动态开关或配置开关任一为真）。
func (e *Engine) EmergencyStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emergencyStop || e.cfg.EmergencyStop
}

// ValidateSimulation 对一次模拟结果评估全部启用规则。
// 紧急停止优先于所有规则检查：一旦生效立即短路返回，其余规则一律跳过。
// 规则检查不短路，单次评估会报告所有违规。
func (e *Engine) ValidateSimulation(sim Simulation, txCtx TxContext) Result {
	stopped, rules := e.snapshot()
	if stopped {
		return emergencyResult()
	}

	var triggered []string
	var warnings []string
	for _, entry := range rules {
		if !entry.rule.Enabled {
			continue
		}
		ruleWarnings := checkRule(entry.rule, sim, txCtx)
		if len(ruleWarnings) == 0 {
			continue
		}
		triggered = append(triggered, fmt.Sprintf("%s_%s", entry.name, entry.rule.Kind))
		warnings = append(warnings, ruleWarnings...)
	}

	return Result{
		Passed:          len(triggered) == 0,
		TriggeredGuards: triggered,
		Warnings:        warnings,
	}
}

// ValidateExecution 对执行请求评估紧急停止与日限额。
// 紧急停止的优先级与 ValidateSimulation 完全一致。
func (e *Engine) ValidateExecution(ctx context.Context, txCtx TxContext) Result {
	stopped, _ := e.snapshot()
	if stopped {
		return emergencyResult()
	}

	var triggered []string
	var warnings []string

	e.mu.RLock()
	maxVolume := e.cfg.MaxDailyVolumeUSD
	maxCount := e.cfg.MaxDailyTransactions
	reader := e.usage
	e.mu.RUnlock()

	if (maxVolume != nil || maxCount != nil) && reader != nil {
		usage, err := reader.Usage(ctx, time.Now())
		if err != nil {
			// 用量读取失败时放行但记录警告，避免外部存储故障阻断全部交易。
			warnings = append(warnings, fmt.Sprintf("读取当日用量失败，日限额检查已跳过: %v", err))
		} else {
			if maxVolume != nil && usage.VolumeUSD+txCtx.ValueUSD() > *maxVolume {
				triggered = append(triggered, DailyVolumeGuard)
				warnings = append(warnings, fmt.Sprintf(
					"当日成交额 %.2f 美元加本笔 %.2f 美元将超过上限 %.2f 美元",
					usage.VolumeUSD, txCtx.ValueUSD(), *maxVolume))
			}
			if maxCount != nil && usage.Transactions+1 > *maxCount {
				triggered = append(triggered, DailyTransactionGuard)
				warnings = append(warnings, fmt.Sprintf(
					"当日交易笔数 %d 已达上限 %d", usage.Transactions, *maxCount))
			}
		}
	}

	return Result{
		Passed:          len(triggered) == 0,
		TriggeredGuards: triggered,
		Warnings:        warnings,
	}
}

type namedRule struct {
	name string
	rule Rule
}

// snapshot 在单次加锁内读取紧急停止状态与规则集，保证两者一致。
// 规则按名称排序，使触发标识的顺序可预期。
func (e *Engine) snapshot() (bool, []namedRule) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stopped := e.emergencyStop || e.cfg.EmergencyStop
	rules := make([]namedRule, 0, len(e.rules))
	for name, rule := range e.rules {
		rules = append(rules, namedRule{name: name, rule: rule})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].name < rules[j].name })
	return stopped, rules
}

func emergencyResult() Result {
	return Result{
		Passed:          false,
		TriggeredGuards: []string{EmergencyStopGuard},
		Warnings:        []string{"紧急停止已启用，所有交易被阻断"},
	}
}

// checkRule 按类别分派到对应的子检查，返回该规则产生的全部警告。
// 返回空切片表示通过。
func checkRule(rule Rule, sim Simulation, txCtx TxContext) []string {
	switch params := rule.Params.(type) {
	case RiskParams:
		return checkRisk(params, sim)
	case GasParams:
		return checkGas(params, txCtx)
	case RouteParams:
		return checkRoute(params, sim, txCtx)
	case DenyParams:
		return checkDeny(params, sim, txCtx)
	default:
		return nil
	}
}

// checkRisk 只评估滑点阈值。MaxDrawdownPct 与 MinLiquidityUSD 是为
// 未来的历史/流动性数据检查保留的字段，当前接受但不参与匹配。
func checkRisk(params RiskParams, sim Simulation) []string {
	var warnings []string
	if params.MaxSlippagePct != nil && sim.SlippagePct > *params.MaxSlippagePct {
		warnings = append(warnings, fmt.Sprintf(
			"滑点 %.4g%% 超过上限 %.4g%%", sim.SlippagePct, *params.MaxSlippagePct))
	}
	return warnings
}

func checkGas(params GasParams, txCtx TxContext) []string {
	if params.MaxGasGwei == nil {
		return nil
	}
	gasPriceWei, ok := txCtx.GasPriceWei()
	if !ok {
		return nil
	}
	gasPriceGwei := gasPriceWei / 1e9
	if gasPriceGwei > *params.MaxGasGwei {
		return []string{fmt.Sprintf(
			"燃气价格 %.4g gwei 超过上限 %.4g gwei", gasPriceGwei, *params.MaxGasGwei)}
	}
	return nil
}

func checkRoute(params RouteParams, sim Simulation, txCtx TxContext) []string {
	var warnings []string

	route := sim.Route
	if route == "" {
		route = txCtx.Route()
	}
	if len(params.AllowedDexes) > 0 && route != "" {
		routeDexes := DexesInRoute(route)
		if !anyFold(routeDexes, params.AllowedDexes) {
			warnings = append(warnings, fmt.Sprintf(
				"unauthorized_dex: 路由使用了未授权的 DEX: %s", strings.Join(routeDexes, ", ")))
		}
	}

	if len(params.BlockedTokens) > 0 {
		blocked := intersectFold(txCtx.TokenAddresses(), params.BlockedTokens)
		if len(blocked) > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"blocked_token: 交易涉及被封禁的代币: %s", strings.Join(blocked, ", ")))
		}
	}

	return warnings
}

func checkDeny(params DenyParams, sim Simulation, txCtx TxContext) []string {
	var warnings []string

	if to := txCtx.To(); to != "" && containsFold(params.BlockedAddresses, to) {
		warnings = append(warnings, fmt.Sprintf(
			"blocked_address: 交易目标地址被封禁: %s", to))
	}

	route := sim.Route
	if route == "" {
		route = txCtx.Route()
	}
	if len(params.BlockedProtocols) > 0 && route != "" {
		blocked := intersectFold(ProtocolsInRoute(route), params.BlockedProtocols)
		if len(blocked) > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"blocked_protocol: 路由使用了被封禁的协议: %s", strings.Join(blocked, ", ")))
		}
	}

	return warnings
}

func cloneRule(rule Rule) Rule {
	clone := rule
	switch params := rule.Params.(type) {
	case RouteParams:
		clone.Params = RouteParams{
			AllowedDexes:  append([]string(nil), params.AllowedDexes...),
			BlockedTokens: append([]string(nil), params.BlockedTokens...),
		}
	case DenyParams:
		clone.Params = DenyParams{
			BlockedAddresses: append([]string(nil), params.BlockedAddresses...),
			BlockedProtocols: append([]string(nil), params.BlockedProtocols...),
		}
	}
	return clone
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}

func anyFold(items, list []string) bool {
	for _, item := range items {
		if containsFold(list, item) {
			return true
		}
	}
	return false
}

func intersectFold(items, list []string) []string {
	var matched []string
	for _, item := range items {
		if containsFold(list, item) {
			matched = append(matched, item)
		}
	}
	return matched
}
