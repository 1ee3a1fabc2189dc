package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"AuraMCP/internal/aura"
	xerrors "AuraMCP/internal/errors"
	"AuraMCP/pkg/logger"
)

// 支持的策略意图。
const (
	IntentDCAEventAware    = "dca_event_aware"
	IntentLiquidationGuard = "liquidation_guard"
)

// CodeUnknownStrategy 表示请求了未注册的策略意图。
const CodeUnknownStrategy xerrors.Code = "UNKNOWN_STRATEGY"

func init() {
	xerrors.Register(CodeUnknownStrategy, xerrors.Attributes{
		Message:   "unknown strategy intent",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// DCAParams 是事件感知定投策略的输入参数。
type DCAParams struct {
	Asset     string  `json:"asset"`
	BudgetUSD float64 `json:"budgetUsd"`
	Cadence   string  `json:"cadence"`
}

// LiquidationParams 是清算防护策略的输入参数。
type LiquidationParams struct {
	Protocols          []string `json:"protocols"`
	MaxHealthFactor    float64  `json:"maxHealthFactor"`
	MinHealthFactor    float64  `json:"minHealthFactor"`
	AutoRepayThreshold float64  `json:"autoRepayThreshold"`
}

// DCAPlan 是定投策略的执行计划。
type DCAPlan struct {
	Splits          int                   `json:"splits"`
	WindowDays      int                   `json:"windowDays"`
	Venue           []string              `json:"venue"`
	MaxSlipPct      float64               `json:"maxSlipPct"`
	BudgetUSD       float64               `json:"budgetUsd"`
	Asset           string                `json:"asset"`
	Recommendations []aura.Recommendation `json:"auraRecommendations"`
}

// LiquidationPlan 是清算防护策略的执行计划。
type LiquidationPlan struct {
	Protocols          []string              `json:"protocols"`
	MaxHealthFactor    float64               `json:"maxHealthFactor"`
	MinHealthFactor    float64               `json:"minHealthFactor"`
	AutoRepayThreshold float64               `json:"autoRepayThreshold"`
	Recommendations    []aura.Recommendation `json:"auraRecommendations"`
}

// Proposal 是策略规划的产出，next 指向调用方的下一步工具。
type Proposal struct {
	IntentID string   `json:"intentId"`
	Plan     any      `json:"plan"`
	Risks    []string `json:"risks"`
	Next     string   `json:"next"`
}

// Planner 把策略意图转换成可交给交易管线的执行计划。
// 上游建议不可用时降级为本地计划，不阻断规划流程。
type Planner struct {
	provider aura.Provider
	address  string
	log      *slog.Logger
}

// NewPlanner 创建策略规划器。address 是查询上游建议时使用的组合地址。
func NewPlanner(provider aura.Provider, address string) *Planner {
	return &Planner{
		provider: provider,
		address:  strings.TrimSpace(address),
		log:      logger.Named("strategy"),
	}
}

// Propose 根据意图生成策略提案。参数以原始 JSON 传入，
// 由各意图自行解析需要的字段。
func (p *Planner) Propose(ctx context.Context, intent string, raw json.RawMessage) (*Proposal, error) {
	switch intent {
	case IntentDCAEventAware:
		var params DCAParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if params.BudgetUSD <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "budgetUsd 必须大于 0")
		}
		sets := p.fetchStrategies(ctx)
		return p.proposeDCA(intent, params, sets), nil

	case IntentLiquidationGuard:
		var params LiquidationParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		sets := p.fetchStrategies(ctx)
		return p.proposeLiquidationGuard(intent, params, sets), nil

	default:
		return nil, xerrors.New(CodeUnknownStrategy, fmt.Sprintf("未知的策略意图: %s", intent))
	}
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "缺少策略参数")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析策略参数失败")
	}
	return nil
}

// fetchStrategies 查询上游建议。失败时返回 nil 并记录告警，
// 规划流程继续使用本地默认计划。
func (p *Planner) fetchStrategies(ctx context.Context) []aura.StrategySet {
	if p.provider == nil || p.address == "" {
		return nil
	}
	sets, err := p.provider.Strategies(ctx, p.address)
	if err != nil {
		p.log.Warn("获取上游策略建议失败，使用本地默认计划", "error", err)
		return nil
	}
	return sets
}

func (p *Planner) proposeDCA(intent string, params DCAParams, sets []aura.StrategySet) *Proposal {
	matched := matchStrategySet(sets, "dca", "dollar cost")
	recommendations := recommendationsOf(matched, sets)

	plan := DCAPlan{
		Splits:          int(math.Ceil(params.BudgetUSD / 50)),
		WindowDays:      cadenceToDays(params.Cadence),
		Venue:           []string{"uniswap", "1inch"},
		MaxSlipPct:      0.5,
		BudgetUSD:       params.BudgetUSD,
		Asset:           params.Asset,
		Recommendations: recommendations,
	}

	return &Proposal{
		IntentID: newIntentID(intent),
		Plan:     plan,
		Risks:    extractRisks(matched),
		Next:     "tx.simulate",
	}
}

func (p *Planner) proposeLiquidationGuard(intent string, params LiquidationParams, sets []aura.StrategySet) *Proposal {
	matched := matchStrategySet(sets, "liquidation", "guard")
	recommendations := recommendationsOf(matched, sets)

	plan := LiquidationPlan{
		Protocols:          params.Protocols,
		MaxHealthFactor:    params.MaxHealthFactor,
		MinHealthFactor:    params.MinHealthFactor,
		AutoRepayThreshold: params.AutoRepayThreshold,
		Recommendations:    recommendations,
	}

	return &Proposal{
		IntentID: newIntentID(intent),
		Plan:     plan,
		Risks:    extractRisks(matched),
		Next:     "tx.simulate",
	}
}

func newIntentID(intent string) string {
	return fmt.Sprintf("%s_%s", intent, uuid.NewString())
}

// matchStrategySet 找到名字里带有关键词的建议集合。
func matchStrategySet(sets []aura.StrategySet, keywords ...string) *aura.StrategySet {
	for i := range sets {
		for _, rec := range sets[i].Response {
			name := strings.ToLower(rec.Name)
			for _, keyword := range keywords {
				if strings.Contains(name, keyword) {
					return &sets[i]
				}
			}
		}
	}
	return nil
}

// recommendationsOf 优先返回命中的集合，否则把所有建议摊平返回。
func recommendationsOf(matched *aura.StrategySet, sets []aura.StrategySet) []aura.Recommendation {
	if matched != nil {
		return matched.Response
	}
	all := []aura.Recommendation{}
	for _, set := range sets {
		all = append(all, set.Response...)
	}
	return all
}

// extractRisks 把上游风险标签映射成固定的风险标记。
func extractRisks(matched *aura.StrategySet) []string {
	risks := []string{}
	if matched == nil {
		return risks
	}
	for _, rec := range matched.Response {
		switch rec.Risk {
		case "high":
			risks = append(risks, "high_risk_detected")
		case "moderate":
			risks = append(risks, "moderate_risk")
		case "opportunistic":
			risks = append(risks, "opportunistic_strategy")
		}
	}
	return risks
}

// cadenceToDays 把节奏描述转换成执行窗口天数。
func cadenceToDays(cadence string) int {
	cadence = strings.ToLower(cadence)
	switch {
	case strings.Contains(cadence, "daily"):
		return 1
	case strings.Contains(cadence, "2x/week"):
		return 3
	case strings.Contains(cadence, "bi-weekly"):
		return 14
	case strings.Contains(cadence, "weekly"):
		return 7
	default:
		return 7
	}
}
