package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"AuraMCP/internal/aura"
	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/events"
	"AuraMCP/internal/guard"
	"AuraMCP/internal/observability/metrics"
	"AuraMCP/internal/strategy"
	"AuraMCP/internal/tx"
	"AuraMCP/pkg/logger"
)

// Service 把守卫引擎、交易管线、策略规划器和行情客户端
// 绑定成一组可分发的工具。
type Service struct {
	engine    *guard.Engine
	pipeline  *tx.Pipeline
	planner   *strategy.Planner
	provider  aura.Provider
	publisher events.Publisher
}

// NewService 创建工具服务。publisher 可以为 nil。
func NewService(engine *guard.Engine, pipeline *tx.Pipeline, planner *strategy.Planner, provider aura.Provider, publisher events.Publisher) *Service {
	return &Service{
		engine:    engine,
		pipeline:  pipeline,
		planner:   planner,
		provider:  provider,
		publisher: publisher,
	}
}

// Registry 返回注册了全部工具的分发表。
func (s *Service) Registry() *Registry {
	registry := NewRegistry()
	registry.Register("tx.simulate", s.simulate)
	registry.Register("tx.execute", s.execute)
	registry.Register("guard.setRules", s.setRules)
	registry.Register("guard.toggleRule", s.toggleRule)
	registry.Register("guard.removeRule", s.removeRule)
	registry.Register("guard.setEmergencyStop", s.setEmergencyStop)
	registry.Register("guard.listRules", s.listRules)
	registry.Register("strategy.propose", s.propose)
	registry.Register("portfolio.balances", s.balances)
	registry.Register("portfolio.positions", s.positions)
	return registry
}

func (s *Service) simulate(ctx context.Context, args json.RawMessage) (Result, error) {
	var req tx.SimulateRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}

	estimate, err := s.pipeline.Simulate(ctx, req)
	if err != nil {
		s.auditGuardFailure("tx.simulate", req.IntentID, err)
		return Result{}, err
	}
	return Result{Data: estimate}, nil
}

func (s *Service) execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var req tx.ExecuteRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}

	receipt, payment, err := s.pipeline.Execute(ctx, req)
	if err != nil {
		s.auditGuardFailure("tx.execute", req.IntentID, err)
		return Result{}, err
	}
	if payment != nil {
		return Result{Payment: payment}, nil
	}

	logger.Audit().Info("交易已提交广播",
		"intent_id", req.IntentID,
		"tx_hash", receipt.TxHash,
		"route", receipt.Route,
	)
	return Result{Data: receipt}, nil
}

type setRulesRequest struct {
	Name     string          `json:"name,omitempty"`
	RuleType string          `json:"ruleType"`
	Params   json.RawMessage `json:"params"`
}

func (s *Service) setRules(ctx context.Context, args json.RawMessage) (Result, error) {
	var req setRulesRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}

	kind := guard.RuleKind(strings.ToLower(strings.TrimSpace(req.RuleType)))
	if !guard.IsValidKind(kind) {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的规则类型: %s", req.RuleType))
	}

	params, err := guard.ParseParams(kind, req.Params)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析规则参数失败")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s_%d", kind, time.Now().UnixMilli())
	}
	s.engine.SetRule(name, params)

	logger.Audit().Info("守卫规则已更新", "rule", name, "type", string(kind))
	return Result{Data: map[string]any{"ok": true, "name": name}}, nil
}

type toggleRuleRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Service) toggleRule(ctx context.Context, args json.RawMessage) (Result, error) {
	var req toggleRuleRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "规则名不能为空")
	}
	s.engine.ToggleRule(req.Name, req.Enabled)
	return Result{Data: map[string]any{"ok": true}}, nil
}

type removeRuleRequest struct {
	Name string `json:"name"`
}

func (s *Service) removeRule(ctx context.Context, args json.RawMessage) (Result, error) {
	var req removeRuleRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "规则名不能为空")
	}
	s.engine.RemoveRule(req.Name)
	return Result{Data: map[string]any{"ok": true}}, nil
}

type emergencyStopRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Service) setEmergencyStop(ctx context.Context, args json.RawMessage) (Result, error) {
	var req emergencyStopRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}
	s.engine.SetEmergencyStop(req.Enabled)

	logger.Audit().Info("紧急停止状态变更", "enabled", req.Enabled)
	if req.Enabled && s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.Event{Type: events.TypeEmergencyStop}); err != nil {
			logger.L().Warn("发布紧急停止事件失败", "error", err)
		}
	}
	return Result{Data: map[string]any{"ok": true, "emergencyStop": req.Enabled}}, nil
}

func (s *Service) listRules(ctx context.Context, args json.RawMessage) (Result, error) {
	return Result{Data: map[string]any{
		"rules":         s.engine.Rules(),
		"emergencyStop": s.engine.EmergencyStopped(),
	}}, nil
}

type proposeRequest struct {
	Intent string          `json:"intent"`
	Params json.RawMessage `json:"params"`
}

func (s *Service) propose(ctx context.Context, args json.RawMessage) (Result, error) {
	var req proposeRequest
	if err := decode(args, &req); err != nil {
		return Result{}, err
	}
	proposal, err := s.planner.Propose(ctx, req.Intent, req.Params)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: proposal}, nil
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Service) balances(ctx context.Context, args json.RawMessage) (Result, error) {
	req, err := decodeAddress(args)
	if err != nil {
		return Result{}, err
	}
	portfolio, err := s.provider.Balances(ctx, req.Address)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeProviderFailure, err, "查询组合余额失败")
	}
	return Result{Data: portfolio}, nil
}

func (s *Service) positions(ctx context.Context, args json.RawMessage) (Result, error) {
	req, err := decodeAddress(args)
	if err != nil {
		return Result{}, err
	}
	positions, err := s.provider.Positions(ctx, req.Address)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeProviderFailure, err, "查询持仓失败")
	}
	return Result{Data: map[string]any{"positions": positions}}, nil
}

func decodeAddress(args json.RawMessage) (addressRequest, error) {
	var req addressRequest
	if err := decode(args, &req); err != nil {
		return addressRequest{}, err
	}
	if strings.TrimSpace(req.Address) == "" {
		return addressRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "address 不能为空")
	}
	return req, nil
}

func decode(args json.RawMessage, out any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析工具参数失败")
	}
	return nil
}

// auditGuardFailure 审计守卫拦截并累计指标。
func (s *Service) auditGuardFailure(tool, intentID string, err error) {
	if xerrors.CodeOf(err) != tx.CodeGuardViolation {
		return
	}
	details := xerrors.DetailsOf(err)
	guards, _ := details["triggeredGuards"].([]string)
	metrics.ObserveGuardViolations(guards)
	logger.Audit().Warn("交易被守卫拦截",
		"tool", tool,
		"intent_id", intentID,
		"guards", strings.Join(guards, ","),
	)
}
