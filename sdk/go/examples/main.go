package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"AuraMCP/sdk/go/auramcp"
)

// 演示通过 SDK 完成一次模拟加执行的交易流程。
func main() {
	baseURL := os.Getenv("AURAMCP_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client := auramcp.NewClient(baseURL, nil)
	if key := os.Getenv("AURAMCP_API_KEY"); key != "" {
		client.SetAPIKey(key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	txParams := map[string]any{
		"asset":    "ETH",
		"value":    42.0,
		"gasLimit": 150000,
	}

	sim, err := client.CallTool(ctx, "tx.simulate", map[string]any{"txParams": txParams})
	if err != nil {
		log.Fatalf("模拟交易失败: %v", err)
	}
	fmt.Printf("simulate => %s\n", sim.Data)

	txParams["signedTx"] = os.Getenv("AURAMCP_SIGNED_TX")
	result, err := client.CallTool(ctx, "tx.execute", map[string]any{"txParams": txParams})
	if err != nil {
		log.Fatalf("执行交易失败: %v", err)
	}
	if result.Payment != nil {
		fmt.Printf("需要先支付: invoice=%s amount=%s %s\n",
			result.Payment.InvoiceID, result.Payment.Amount, result.Payment.Asset)
		return
	}
	fmt.Printf("execute => %s\n", result.Data)
}
