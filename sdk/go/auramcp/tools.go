package auramcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Estimate mirrors the fee/slippage estimate produced by tx.simulate.
type Estimate struct {
	FeeUSD      float64 `json:"feeUsd"`
	SlippagePct float64 `json:"slippagePct"`
	AvgPrice    float64 `json:"avgPrice,omitempty"`
}

// Simulation is the tx.simulate result.
type Simulation struct {
	OK              bool     `json:"ok"`
	Est             Estimate `json:"est"`
	GuardsTriggered []string `json:"guardsTriggered,omitempty"`
}

// PaymentProof references an on-chain settlement of a previously issued invoice.
type PaymentProof struct {
	InvoiceID string `json:"invoiceId"`
	TxHash    string `json:"txHash"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset"`
}

// Receipt is the tx.execute result once a transaction has been handed off.
type Receipt struct {
	Status string `json:"status"`
	TxHash string `json:"txHash"`
	Route  string `json:"route"`
	Notes  string `json:"notes,omitempty"`
}

// Simulate runs tx.simulate for the given transaction parameters.
func (c *Client) Simulate(ctx context.Context, intentID string, txParams map[string]any) (*Simulation, error) {
	args := map[string]any{"txParams": txParams}
	if intentID != "" {
		args["intentId"] = intentID
	}
	result, err := c.CallTool(ctx, "tx.simulate", args)
	if err != nil {
		return nil, err
	}
	var sim Simulation
	if err := json.Unmarshal(result.Data, &sim); err != nil {
		return nil, fmt.Errorf("decode simulation: %w", err)
	}
	return &sim, nil
}

// Execute runs tx.execute. When the call is gated by x402, the payment
// challenge is returned instead of a receipt; settle it and retry with proof.
func (c *Client) Execute(ctx context.Context, intentID string, txParams map[string]any, proof *PaymentProof) (*Receipt, *PaymentRequired, error) {
	args := map[string]any{"txParams": txParams}
	if intentID != "" {
		args["intentId"] = intentID
	}
	if proof != nil {
		args["paymentProof"] = proof
	}
	result, err := c.CallTool(ctx, "tx.execute", args)
	if err != nil {
		return nil, nil, err
	}
	if result.Payment != nil {
		return nil, result.Payment, nil
	}
	var receipt Receipt
	if err := json.Unmarshal(result.Data, &receipt); err != nil {
		return nil, nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil, nil
}

// SetGuardRules installs a guard rule and returns its assigned name.
func (c *Client) SetGuardRules(ctx context.Context, name, ruleType string, params any) (string, error) {
	args := map[string]any{"ruleType": ruleType, "params": params}
	if name != "" {
		args["name"] = name
	}
	result, err := c.CallTool(ctx, "guard.setRules", args)
	if err != nil {
		return "", err
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		return "", fmt.Errorf("decode rule name: %w", err)
	}
	return payload.Name, nil
}

// SetEmergencyStop flips the global kill switch.
func (c *Client) SetEmergencyStop(ctx context.Context, enabled bool) error {
	_, err := c.CallTool(ctx, "guard.setEmergencyStop", map[string]any{"enabled": enabled})
	return err
}
