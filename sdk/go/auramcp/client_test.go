package auramcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallToolSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/tx.simulate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"ok":true,"est":{"feeUsd":6}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAPIKey("secret")

	result, err := client.CallTool(context.Background(), "tx.simulate", map[string]any{"txParams": map[string]any{}})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.Payment != nil {
		t.Fatalf("unexpected payment challenge: %+v", result.Payment)
	}

	var data struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !data.OK {
		t.Fatalf("unexpected data: %s", result.Data)
	}
}

func TestCallToolPaymentRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"invoiceId":"inv_123","amount":"0.50","asset":"USDC","receiver":"0x0"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	result, err := client.CallTool(context.Background(), "tx.execute", map[string]any{})
	if err != nil {
		t.Fatalf("payment challenge must not be an error: %v", err)
	}
	if result.Payment == nil {
		t.Fatal("expected payment challenge")
	}
	if result.Payment.InvoiceID != "inv_123" || result.Payment.Amount != "0.50" {
		t.Fatalf("unexpected challenge: %+v", result.Payment)
	}
}

func TestCallToolDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"GUARD_VIOLATION","message":"blocked","details":{"triggeredGuards":["emergency_stop"]}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.CallTool(context.Background(), "tx.execute", map[string]any{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "GUARD_VIOLATION" || apiErr.StatusCode != http.StatusOK {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	guards, _ := apiErr.Details["triggeredGuards"].([]any)
	if len(guards) != 1 || guards[0] != "emergency_stop" {
		t.Fatalf("unexpected details: %+v", apiErr.Details)
	}
}

func TestCallToolUnknownTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"UNKNOWN_TOOL","message":"no such tool"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.CallTool(context.Background(), "tx.teleport", map[string]any{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "UNKNOWN_TOOL" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"tools":["tx.execute","tx.simulate"]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	tools, err := client.Tools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 || tools[0] != "tx.execute" {
		t.Fatalf("unexpected tools: %v", tools)
	}
}
