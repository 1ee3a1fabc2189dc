package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Mode: "api_key"}); err == nil {
		t.Fatal("expected error when api_key mode has no keys")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("default mode must be disabled")
	}
}

func TestAuthenticate(t *testing.T) {
	svc, err := NewService(Config{Mode: "api_key", APIKeys: []string{"secret-1", "secret-2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Authenticate("secret-2"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if err := svc.Authenticate("wrong"); err != ErrInvalidCredentials {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Authenticate(""); err != ErrMissingToken {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc, err := NewService(Config{Mode: "api_key", APIKeys: []string{"secret"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reached bool
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	// 无凭证被拒绝。
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tools/tx.simulate", nil))
	if rec.Code != http.StatusUnauthorized || reached {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	// Bearer 凭证通过。
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/tx.simulate", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !reached {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}

	// X-API-Key 凭证通过。
	req = httptest.NewRequest(http.MethodPost, "/api/v1/tools/tx.simulate", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through with X-API-Key, got %d", rec.Code)
	}
}
