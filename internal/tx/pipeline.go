package tx

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/events"
	"AuraMCP/internal/guard"
	"AuraMCP/pkg/logger"
)

const (
	defaultGasPriceWei = 20_000_000_000
	defaultGasLimit    = 150_000
	defaultRoute       = "AURA:uniswap-v3"
	// 估算手续费时使用的参考原生资产价格（USD）。
	referenceNativeUSD = 2000
)

// referencePrices 是已知资产的参考成交价，用于离线估算。
var referencePrices = map[string]float64{
	"ETH":  2000,
	"WETH": 2000,
	"WBTC": 60000,
	"USDC": 1,
	"USDT": 1,
	"DAI":  1,
}

// slippageHeuristics 是已知资产的滑点启发值（百分比）。
var slippageHeuristics = map[string]float64{
	"ETH":  0.1,
	"WETH": 0.1,
	"WBTC": 0.2,
	"USDC": 0.05,
	"USDT": 0.05,
	"DAI":  0.05,
}

const defaultSlippagePct = 0.3

// GuardValidator 是管线依赖的守卫评估能力。
type GuardValidator interface {
	ValidateSimulation(sim guard.Simulation, txCtx guard.TxContext) guard.Result
	ValidateExecution(ctx context.Context, txCtx guard.TxContext) guard.Result
}

// Broadcaster 负责把已签名交易提交到链上。
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, rawTx string) (common.Hash, error)
}

// GasSuggester 提供当前推荐 gas 价格。
type GasSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// VolumeRecorder 记录执行成功后的当日用量。
type VolumeRecorder interface {
	Record(ctx context.Context, day time.Time, volumeUSD float64) error
}

// Pipeline 是 simulate → execute 两阶段的交易管线。
// 每一步都先经过守卫评估，execute 额外叠加 x402 支付门控。
type Pipeline struct {
	guards      GuardValidator
	policy      PaymentPolicy
	broadcaster Broadcaster
	gas         GasSuggester
	recorder    VolumeRecorder
	publisher   events.Publisher
	log         *slog.Logger
}

// Option 配置交易管线的可选依赖。
type Option func(*Pipeline)

// WithBroadcaster 注入链上广播器。
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.broadcaster = b }
}

// WithGasSuggester 注入 gas 价格来源，模拟时优先于内置默认值。
func WithGasSuggester(g GasSuggester) Option {
	return func(p *Pipeline) { p.gas = g }
}

// WithPaymentPolicy 覆盖默认支付策略。
func WithPaymentPolicy(policy PaymentPolicy) Option {
	return func(p *Pipeline) { p.policy = policy.normalize() }
}

// WithVolumeRecorder 注入当日用量记录器。
func WithVolumeRecorder(r VolumeRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithPublisher 注入生命周期事件发布器。
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// NewPipeline 创建交易管线。
func NewPipeline(guards GuardValidator, opts ...Option) *Pipeline {
	p := &Pipeline{
		guards: guards,
		policy: DefaultPaymentPolicy(),
		log:    logger.Named("tx"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Simulate 产生费用与滑点估计并做守卫评估。
// 守卫未通过时返回 GUARD_VIOLATION，调用方不得继续执行。
func (p *Pipeline) Simulate(ctx context.Context, req SimulateRequest) (*SimulationEstimate, error) {
	txCtx := guard.TxContext(req.TxParams)
	if err := validateSimulationParams(txCtx); err != nil {
		return nil, err
	}
	estimate := p.estimate(ctx, txCtx)

	result := p.guards.ValidateSimulation(guard.Simulation{
		SlippagePct: estimate.Est.SlippagePct,
		AvgPrice:    estimate.Est.AvgPrice,
		Route:       txCtx.Route(),
	}, txCtx)
	estimate.GuardsTriggered = result.TriggeredGuards

	if !result.Passed {
		p.publishGuardViolation(ctx, req.IntentID, result)
		return nil, guardViolation("simulation blocked by guards", result)
	}
	return estimate, nil
}

// Execute 执行三分支流程：守卫、支付门控、广播。
// 返回值三选一：回执、支付要求、错误。
func (p *Pipeline) Execute(ctx context.Context, req ExecuteRequest) (*Receipt, *PaymentRequired, error) {
	txCtx := guard.TxContext(req.TxParams)

	result := p.guards.ValidateExecution(ctx, txCtx)
	if !result.Passed {
		p.publishGuardViolation(ctx, req.IntentID, result)
		return nil, nil, guardViolation("transaction blocked by guards", result)
	}

	if p.policy.requiresPayment(txCtx) && req.PaymentProof == nil {
		invoice := p.policy.invoice()
		p.publish(ctx, events.Event{
			Type:     events.TypePaymentRequired,
			IntentID: req.IntentID,
			Detail:   invoice.InvoiceID,
		})
		return nil, invoice, nil
	}

	if req.PaymentProof != nil {
		if err := p.policy.verifyProof(req.PaymentProof); err != nil {
			return nil, nil, err
		}
	}

	receipt, err := p.broadcast(ctx, req, txCtx)
	if err != nil {
		return nil, nil, err
	}

	p.recordVolume(ctx, txCtx)
	p.publish(ctx, events.Event{
		Type:     events.TypeTxSubmitted,
		IntentID: req.IntentID,
		TxHash:   receipt.TxHash,
	})
	return receipt, nil, nil
}

// validateSimulationParams 拒绝无法估算的交易参数。
func validateSimulationParams(txCtx guard.TxContext) error {
	if price, ok := txCtx.GasPriceWei(); ok && price < 0 {
		return xerrors.New(CodeSimulationError, "gasPrice 不能为负数")
	}
	if limit, ok := txCtx.GasLimit(); ok && limit <= 0 {
		return xerrors.New(CodeSimulationError, "gasLimit 必须大于 0")
	}
	if txCtx.ValueUSD() < 0 {
		return xerrors.New(CodeSimulationError, "value 不能为负数")
	}
	return nil
}

// estimate 在没有实时链上模拟的情况下做确定性估算：
// gas 价格 × gas 上限 × 参考原生资产价格，滑点按已知资产的启发值。
func (p *Pipeline) estimate(ctx context.Context, txCtx guard.TxContext) *SimulationEstimate {
	gasPriceWei := float64(defaultGasPriceWei)
	if price, ok := txCtx.GasPriceWei(); ok {
		gasPriceWei = price
	} else if p.gas != nil {
		if suggested, err := p.gas.SuggestGasPrice(ctx); err == nil && suggested != nil {
			gasPriceWei, _ = new(big.Float).SetInt(suggested).Float64()
		} else if err != nil {
			p.log.Warn("获取推荐 gas 价格失败，使用默认值", "error", err)
		}
	}

	gasLimit := float64(defaultGasLimit)
	if limit, ok := txCtx.GasLimit(); ok {
		gasLimit = limit
	}

	feeUSD := gasPriceWei / 1e18 * gasLimit * referenceNativeUSD

	asset := strings.ToUpper(strings.TrimSpace(txCtx.Asset()))
	slippage, ok := slippageHeuristics[asset]
	if !ok {
		slippage = defaultSlippagePct
	}

	return &SimulationEstimate{
		OK: true,
		Est: Estimate{
			FeeUSD:      feeUSD,
			SlippagePct: slippage,
			AvgPrice:    referencePrices[asset],
		},
		GuardsTriggered: []string{},
	}
}

// broadcast 把已签名负载交给外部广播器。
func (p *Pipeline) broadcast(ctx context.Context, req ExecuteRequest, txCtx guard.TxContext) (*Receipt, error) {
	signedTx, _ := req.TxParams["signedTx"].(string)
	signedTx = strings.TrimSpace(signedTx)
	if signedTx == "" {
		return nil, xerrors.New(CodeExecutionError, "txParams.signedTx 缺失，无法广播")
	}
	if p.broadcaster == nil {
		return nil, xerrors.New(CodeExecutionError, "未配置链上广播器")
	}

	hash, err := p.broadcaster.BroadcastTransaction(ctx, signedTx)
	if err != nil {
		return nil, xerrors.Wrap(CodeExecutionError, err, "广播交易失败")
	}

	route := defaultRoute
	if r := strings.TrimSpace(txCtx.Route()); r != "" {
		route = r
	}
	return &Receipt{
		Status: "submitted",
		TxHash: hash.Hex(),
		Route:  route,
		Notes:  "Transaction submitted successfully",
	}, nil
}

func (p *Pipeline) recordVolume(ctx context.Context, txCtx guard.TxContext) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, time.Now(), txCtx.ValueUSD()); err != nil {
		p.log.Warn("记录当日用量失败", "error", err)
	}
}

func (p *Pipeline) publishGuardViolation(ctx context.Context, intentID string, result guard.Result) {
	p.publish(ctx, events.Event{
		Type:            events.TypeGuardViolation,
		IntentID:        intentID,
		TriggeredGuards: result.TriggeredGuards,
		Warnings:        result.Warnings,
	})
}

func (p *Pipeline) publish(ctx context.Context, event events.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.log.Warn("发布生命周期事件失败", "type", event.Type, "error", err)
	}
}

// guardViolation 组装带有触发守卫与警告详情的 GUARD_VIOLATION 错误。
func guardViolation(prefix string, result guard.Result) error {
	return xerrors.New(CodeGuardViolation,
		fmt.Sprintf("%s: %s", prefix, strings.Join(result.TriggeredGuards, ", ")),
		xerrors.WithDetails("triggeredGuards", result.TriggeredGuards),
		xerrors.WithDetails("warnings", result.Warnings),
	)
}
