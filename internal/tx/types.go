package tx

import (
	xerrors "AuraMCP/internal/errors"
)

// 交易管线对外暴露的错误码。
const (
	CodeGuardViolation      xerrors.Code = "GUARD_VIOLATION"
	CodeInvalidPaymentProof xerrors.Code = "INVALID_PAYMENT_PROOF"
	CodeSimulationError     xerrors.Code = "SIMULATION_ERROR"
	CodeExecutionError      xerrors.Code = "EXECUTION_ERROR"
)

func init() {
	xerrors.Register(CodeGuardViolation, xerrors.Attributes{
		Message:   "transaction blocked by guards",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeInvalidPaymentProof, xerrors.Attributes{
		Message:   "payment proof verification failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSimulationError, xerrors.Attributes{
		Message:   "transaction simulation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeExecutionError, xerrors.Attributes{
		Message:   "transaction execution failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// SimulateRequest 是 tx.simulate 的入参。
type SimulateRequest struct {
	IntentID string         `json:"intentId,omitempty"`
	TxParams map[string]any `json:"txParams,omitempty"`
}

// Estimate 是模拟产生的费用与滑点估计。
type Estimate struct {
	FeeUSD      float64 `json:"feeUsd"`
	SlippagePct float64 `json:"slippagePct"`
	AvgPrice    float64 `json:"avgPrice,omitempty"`
}

// SimulationEstimate 是 tx.simulate 的完整结果。
// GuardsTriggered 由模拟步骤在守卫评估后写入，是该字段的唯一权威来源。
type SimulationEstimate struct {
	OK              bool     `json:"ok"`
	Est             Estimate `json:"est"`
	GuardsTriggered []string `json:"guardsTriggered"`
}

// PaymentProof 是 x402 支付凭证。
type PaymentProof struct {
	InvoiceID string `json:"invoiceId"`
	TxHash    string `json:"txHash"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset"`
}

// ExecuteRequest 是 tx.execute 的入参。签名由外部钱包完成，
// 管线只接收 txParams.signedTx 里的已签名负载。
type ExecuteRequest struct {
	IntentID     string         `json:"intentId,omitempty"`
	TxParams     map[string]any `json:"txParams,omitempty"`
	PaymentProof *PaymentProof  `json:"paymentProof,omitempty"`
}

// PaymentRequired 是 x402 支付要求。它不是错误：调用方必须按形状
// （是否存在 invoiceId）而不是布尔标志来区分这一分支。
type PaymentRequired struct {
	InvoiceID   string `json:"invoiceId"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Receiver    string `json:"receiver"`
	Description string `json:"description,omitempty"`
}

// Receipt 是执行成功后的回执。
type Receipt struct {
	Status string `json:"status"`
	TxHash string `json:"txHash,omitempty"`
	Route  string `json:"route,omitempty"`
	Notes  string `json:"notes,omitempty"`
}
