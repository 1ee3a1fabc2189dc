package guard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	xerrors "AuraMCP/internal/errors"
)

// RuleKind 表示守卫规则的类别。
type RuleKind string

const (
	KindRisk  RuleKind = "risk"
	KindGas   RuleKind = "gas"
	KindRoute RuleKind = "route"
	KindDeny  RuleKind = "deny"
)

// IsValidKind 检查给定的规则类别是否为支持的枚举值。
func IsValidKind(kind RuleKind) bool {
	switch kind {
	case KindRisk, KindGas, KindRoute, KindDeny:
		return true
	default:
		return false
	}
}

// RuleParams 是按类别区分的规则参数。每个类别对应一个具体实现，
// 评估阶段通过类型分派而不是外部的 type 标签。
type RuleParams interface {
	Kind() RuleKind
}

// RiskParams 描述风险类规则的阈值。未设置的字段表示该维度不受约束。
type RiskParams struct {
	MaxSlippagePct  *float64 `json:"maxSlippagePct,omitempty"`
	MaxGasGwei      *float64 `json:"maxGasGwei,omitempty"`
	MaxDrawdownPct  *float64 `json:"maxDrawdownPct,omitempty"`
	MinLiquidityUSD *float64 `json:"minLiquidityUsd,omitempty"`
}

// Kind 实现 RuleParams 接口。
func (RiskParams) Kind() RuleKind { return KindRisk }

// GasParams 描述燃气价格规则的阈值。
type GasParams struct {
	MaxGasGwei *float64 `json:"maxGasGwei,omitempty"`
}

// Kind 实现 RuleParams 接口。
func (GasParams) Kind() RuleKind { return KindGas }

// RouteParams 描述路由类规则的约束。
type RouteParams struct {
	AllowedDexes  []string `json:"allowedDexes,omitempty"`
	BlockedTokens []string `json:"blockedTokens,omitempty"`
}

// Kind 实现 RuleParams 接口。
func (RouteParams) Kind() RuleKind { return KindRoute }

// DenyParams 描述拒绝名单类规则的约束。
type DenyParams struct {
	BlockedAddresses []string `json:"blockedAddresses,omitempty"`
	BlockedProtocols []string `json:"blockedProtocols,omitempty"`
}

// Kind 实现 RuleParams 接口。
func (DenyParams) Kind() RuleKind { return KindDeny }

// ParseParams 按规则类别解析参数包。与类别无关的字段会被静默忽略，
// 不会导致解析失败。
func ParseParams(kind RuleKind, raw json.RawMessage) (RuleParams, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case KindRisk:
		var params RiskParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 risk 规则参数失败")
		}
		return params, nil
	case KindGas:
		var params GasParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 gas 规则参数失败")
		}
		return params, nil
	case KindRoute:
		var params RouteParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 route 规则参数失败")
		}
		return params, nil
	case KindDeny:
		var params DenyParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 deny 规则参数失败")
		}
		return params, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的规则类别: %s", kind))
	}
}

// Rule 表示一条命名的守卫规则。
type Rule struct {
	Kind    RuleKind   `json:"type"`
	Params  RuleParams `json:"params"`
	Enabled bool       `json:"enabled"`
}

// Result 汇总一次守卫评估的结论。每次评估都重新计算，不做持久化。
type Result struct {
	Passed          bool     `json:"passed"`
	TriggeredGuards []string `json:"triggeredGuards"`
	Warnings        []string `json:"warnings"`
}

// Simulation 是守卫评估所需的模拟结果视图。
type Simulation struct {
	SlippagePct float64
	AvgPrice    float64
	Route       string
}

// TxContext 是随交易附带的任意参数包（to、value、gasPrice 等）。
// 字段缺失或类型不符时各访问器返回零值，由具体子检查决定是否跳过。
type TxContext map[string]any

// To 返回目标地址。
func (c TxContext) To() string {
	return c.stringValue("to")
}

// Route 返回自由文本形式的路由描述。
func (c TxContext) Route() string {
	return c.stringValue("route")
}

// GasPriceWei 返回以 wei 计的燃气价格。第二个返回值表示字段是否存在且可解析。
func (c TxContext) GasPriceWei() (float64, bool) {
	return c.floatValue("gasPrice")
}

// GasLimit 返回燃气上限。
func (c TxContext) GasLimit() (float64, bool) {
	return c.floatValue("gasLimit")
}

// ValueUSD 返回交易金额（美元计）。
func (c TxContext) ValueUSD() float64 {
	value, _ := c.floatValue("value")
	return value
}

// Asset 返回交易涉及的资产符号。
func (c TxContext) Asset() string {
	return c.stringValue("asset")
}

// TokenAddresses 返回交易涉及的代币地址列表。
func (c TxContext) TokenAddresses() []string {
	if c == nil {
		return nil
	}
	raw, ok := c["tokenAddresses"]
	if !ok {
		return nil
	}
	switch value := raw.(type) {
	case []string:
		return value
	case []any:
		addresses := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				addresses = append(addresses, s)
			}
		}
		return addresses
	default:
		return nil
	}
}

func (c TxContext) stringValue(key string) string {
	if c == nil {
		return ""
	}
	if s, ok := c[key].(string); ok {
		return s
	}
	return ""
}

func (c TxContext) floatValue(key string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	raw, ok := c[key]
	if !ok {
		return 0, false
	}
	switch value := raw.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
