package tx

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "AuraMCP/internal/errors"
	"AuraMCP/internal/guard"
)

// PaymentPolicy 描述 x402 支付门控策略。
type PaymentPolicy struct {
	// ThresholdUSD 之上的交易需要先付费。
	ThresholdUSD float64
	Amount       string
	Asset        string
	Receiver     string
	Description  string
}

// DefaultPaymentPolicy 返回默认的支付策略。
func DefaultPaymentPolicy() PaymentPolicy {
	return PaymentPolicy{
		ThresholdUSD: 100,
		Amount:       "0.50",
		Asset:        "USDC",
		Receiver:     "0x0000000000000000000000000000000000000000",
		Description:  "Transaction execution fee",
	}
}

// normalize 填补缺失的策略字段。
func (p PaymentPolicy) normalize() PaymentPolicy {
	defaults := DefaultPaymentPolicy()
	if p.ThresholdUSD <= 0 {
		p.ThresholdUSD = defaults.ThresholdUSD
	}
	if strings.TrimSpace(p.Amount) == "" {
		p.Amount = defaults.Amount
	}
	if strings.TrimSpace(p.Asset) == "" {
		p.Asset = defaults.Asset
	}
	if strings.TrimSpace(p.Receiver) == "" {
		p.Receiver = defaults.Receiver
	}
	if strings.TrimSpace(p.Description) == "" {
		p.Description = defaults.Description
	}
	return p
}

// requiresPayment 判断该请求是否触发付费门控。
func (p PaymentPolicy) requiresPayment(txCtx guard.TxContext) bool {
	return txCtx.ValueUSD() > p.ThresholdUSD
}

// invoice 生成一张新的 x402 账单。
func (p PaymentPolicy) invoice() *PaymentRequired {
	return &PaymentRequired{
		InvoiceID:   "inv_" + uuid.NewString(),
		Amount:      p.Amount,
		Asset:       p.Asset,
		Receiver:    p.Receiver,
		Description: p.Description,
	}
}

// verifyProof 对支付凭证做结构校验：账单号、链上交易哈希形状、
// 资产与金额必须和策略一致。真正的链上核验由部署方在结算侧完成。
func (p PaymentPolicy) verifyProof(proof *PaymentProof) error {
	if proof == nil {
		return xerrors.New(CodeInvalidPaymentProof, "缺少支付凭证")
	}
	if !strings.HasPrefix(proof.InvoiceID, "inv_") {
		return xerrors.New(CodeInvalidPaymentProof, "账单号不合法",
			xerrors.WithDetails("invoiceId", proof.InvoiceID))
	}
	if !isTxHash(proof.TxHash) {
		return xerrors.New(CodeInvalidPaymentProof, "支付交易哈希不合法",
			xerrors.WithDetails("txHash", proof.TxHash))
	}
	if !strings.EqualFold(proof.Asset, p.Asset) {
		return xerrors.New(CodeInvalidPaymentProof,
			fmt.Sprintf("支付资产不匹配: 期望 %s 实际 %s", p.Asset, proof.Asset))
	}
	if strings.TrimSpace(proof.Amount) != p.Amount {
		return xerrors.New(CodeInvalidPaymentProof,
			fmt.Sprintf("支付金额不匹配: 期望 %s 实际 %s", p.Amount, proof.Amount))
	}
	return nil
}

// isTxHash 校验 0x 开头的 32 字节交易哈希。
func isTxHash(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) != 66 || !strings.HasPrefix(value, "0x") {
		return false
	}
	hash := common.HexToHash(value)
	return strings.EqualFold(hash.Hex(), value)
}
