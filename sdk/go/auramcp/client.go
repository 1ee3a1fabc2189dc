package auramcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AuraMCP tool API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// PaymentRequired mirrors the x402 invoice returned when a tool call must be
// paid for before it executes.
type PaymentRequired struct {
	InvoiceID   string `json:"invoiceId"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Receiver    string `json:"receiver"`
	Description string `json:"description,omitempty"`
}

// ToolResult is the outcome of a tool invocation. Exactly one of Data or
// Payment is populated on success paths; errors are reported separately.
type ToolResult struct {
	Data    json.RawMessage
	Payment *PaymentRequired
}

// APIError represents a failed tool invocation, either at the transport level
// or as a domain error carried inside the response envelope.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("auramcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auramcp api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// NewClient instantiates a client for the AuraMCP API. When httpClient is nil,
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// APIKey returns the currently stored API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetAPIKey stores the key sent as a bearer credential on every call.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// CallTool invokes a named tool with an arbitrary JSON argument object.
// A payment-required outcome is returned in ToolResult.Payment, not as an
// error, so callers can settle the invoice and retry with a proof.
func (c *Client) CallTool(ctx context.Context, name string, args any) (ToolResult, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return ToolResult{}, fmt.Errorf("encode arguments: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/tools/"+name, bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ToolResult{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ToolResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var payment PaymentRequired
		if err := json.Unmarshal(data, &payment); err != nil {
			return ToolResult{}, fmt.Errorf("decode payment challenge: %w", err)
		}
		return ToolResult{Payment: &payment}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ToolResult{}, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: string(bytes.TrimSpace(data))}
		}
		apiErr.StatusCode = resp.StatusCode
		return ToolResult{}, apiErr
	}
	return ToolResult{Data: env.Data}, nil
}

// Tools lists the names of all registered tools.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/tools", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Message: "list tools failed"}
		}
		apiErr.StatusCode = resp.StatusCode
		return nil, apiErr
	}

	var payload struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return payload.Tools, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}
