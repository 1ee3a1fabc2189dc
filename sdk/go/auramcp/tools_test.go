package auramcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSimulateHelper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["intentId"] != "dca_1" {
			t.Fatalf("intent id not forwarded: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ok":true,"est":{"feeUsd":6,"slippagePct":0.1,"avgPrice":2000}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	sim, err := client.Simulate(context.Background(), "dca_1", map[string]any{"asset": "ETH"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !sim.OK || sim.Est.FeeUSD != 6 || sim.Est.AvgPrice != 2000 {
		t.Fatalf("unexpected simulation: %+v", sim)
	}
}

func TestExecuteHelperThreeWayOutcome(t *testing.T) {
	var withProof bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, withProof = body["paymentProof"]

		w.Header().Set("Content-Type", "application/json")
		if !withProof {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"invoiceId":"inv_9","amount":"0.50","asset":"USDC","receiver":"0x0"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"submitted","txHash":"0xabc","route":"AURA:uniswap-v3"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	txParams := map[string]any{"value": 150.0, "signedTx": "0xsigned"}

	receipt, payment, err := client.Execute(context.Background(), "", txParams, nil)
	if err != nil {
		t.Fatalf("execute without proof: %v", err)
	}
	if receipt != nil || payment == nil || payment.InvoiceID != "inv_9" {
		t.Fatalf("expected payment challenge, got receipt=%+v payment=%+v", receipt, payment)
	}

	proof := &PaymentProof{InvoiceID: payment.InvoiceID, TxHash: "0xdead", Amount: "0.50", Asset: "USDC"}
	receipt, payment, err = client.Execute(context.Background(), "", txParams, proof)
	if err != nil {
		t.Fatalf("execute with proof: %v", err)
	}
	if payment != nil || receipt == nil || receipt.Status != "submitted" {
		t.Fatalf("expected receipt, got receipt=%+v payment=%+v", receipt, payment)
	}
	if !withProof {
		t.Fatal("proof was not forwarded")
	}
}

func TestSetGuardRulesHelper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/guard.setRules" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ok":true,"name":"gas_1700000000000"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	name, err := client.SetGuardRules(context.Background(), "", "gas", map[string]any{"maxGasGwei": 40})
	if err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if name != "gas_1700000000000" {
		t.Fatalf("unexpected rule name: %q", name)
	}
}

func TestSetEmergencyStopHelper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/guard.setEmergencyStop" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["enabled"] != true {
			t.Fatalf("enabled flag not forwarded: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ok":true,"emergencyStop":true}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	if err := client.SetEmergencyStop(context.Background(), true); err != nil {
		t.Fatalf("set emergency stop: %v", err)
	}
}
