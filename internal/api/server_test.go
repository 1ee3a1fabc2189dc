package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AuraMCP/internal/aura"
	"AuraMCP/internal/auth"
	"AuraMCP/internal/guard"
	"AuraMCP/internal/strategy"
	"AuraMCP/internal/tools"
	"AuraMCP/internal/tx"
)

type fakeBroadcaster struct{}

func (fakeBroadcaster) BroadcastTransaction(ctx context.Context, rawTx string) (common.Hash, error) {
	return common.HexToHash("0x59acbd2b1dbf85a7b66d75c98e71aa33aaf0f3d2b2b3f943bd8e2a01c23bd7d9"), nil
}

type fakeProvider struct{}

func (fakeProvider) Balances(ctx context.Context, address string) (*aura.Portfolio, error) {
	return &aura.Portfolio{Native: "0", Tokens: []aura.TokenBalance{}}, nil
}

func (fakeProvider) Positions(ctx context.Context, address string) ([]aura.Position, error) {
	return []aura.Position{}, nil
}

func (fakeProvider) Strategies(ctx context.Context, address string) ([]aura.StrategySet, error) {
	return nil, nil
}

func newTestServer(t *testing.T, engine *guard.Engine, opts ...ServerOption) *httptest.Server {
	t.Helper()
	pipeline := tx.NewPipeline(engine, tx.WithBroadcaster(fakeBroadcaster{}))
	planner := strategy.NewPlanner(fakeProvider{}, "0xabc")
	service := tools.NewService(engine, pipeline, planner, fakeProvider{}, nil)
	server := NewServer("127.0.0.1:0", service.Registry(), opts...)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postTool(t *testing.T, srv *httptest.Server, name, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/tools/"+name, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", name, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestSimulateSuccessEnvelope(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, body := postTool(t, srv, "tx.simulate", `{"txParams":{"asset":"ETH"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("expected success envelope: %+v", body)
	}
	data := body["data"].(map[string]any)
	if data["ok"] != true {
		t.Fatalf("unexpected data: %+v", data)
	}
	metadata := body["metadata"].(map[string]any)
	if metadata["request_id"] == "" || metadata["timestamp"] == "" {
		t.Fatalf("metadata incomplete: %+v", metadata)
	}
}

func TestGuardViolationEnvelope(t *testing.T) {
	engine := guard.NewEngine(guard.Config{EmergencyStop: true})
	srv := newTestServer(t, engine)

	resp, body := postTool(t, srv, "tx.simulate", `{"txParams":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("domain errors keep http 200, got %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("expected failure envelope: %+v", body)
	}
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "GUARD_VIOLATION" {
		t.Fatalf("unexpected code: %+v", errBody)
	}
	details := errBody["details"].(map[string]any)
	guards := details["triggeredGuards"].([]any)
	if len(guards) != 1 || guards[0] != "emergency_stop" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestPaymentRequiredMapsTo402(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, body := postTool(t, srv, "tx.execute", `{"txParams":{"value":150,"signedTx":"0xsigned"}}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}

	// 裸 x402 对象：有 invoiceId，没有 success 字段。
	invoiceID, _ := body["invoiceId"].(string)
	if !strings.HasPrefix(invoiceID, "inv_") {
		t.Fatalf("unexpected invoice id: %+v", body)
	}
	if _, present := body["success"]; present {
		t.Fatalf("x402 object must not carry a success field: %+v", body)
	}
	if body["amount"] != "0.50" || body["asset"] != "USDC" {
		t.Fatalf("unexpected invoice: %+v", body)
	}
}

func TestUnknownToolMapsTo404(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, body := postTool(t, srv, "tx.teleport", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "UNKNOWN_TOOL" {
		t.Fatalf("unexpected code: %+v", errBody)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, body := postTool(t, srv, "tx.simulate", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("expected failure envelope: %+v", body)
	}
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, err := http.Get(srv.URL + "/api/v1/tools")
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	toolNames := body["data"].(map[string]any)["tools"].([]any)
	if len(toolNames) != 10 {
		t.Fatalf("expected 10 tools, got %d", len(toolNames))
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, guard.NewEngine(guard.Config{}))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareGuardsToolSurface(t *testing.T) {
	svc, err := auth.NewService(auth.Config{Mode: "api_key", APIKeys: []string{"secret"}})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	srv := newTestServer(t, guard.NewEngine(guard.Config{}), WithMiddleware(svc.Middleware()))

	resp, err := http.Post(srv.URL+"/api/v1/tools/tx.simulate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/tools/tx.simulate", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}
}
