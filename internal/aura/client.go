package aura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIURL  = "https://aura.adex.network"
	defaultTimeout = 30 * time.Second
)

// Config 描述访问 AURA 行情 API 所需的信息。
type Config struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

// TokenBalance 表示某条链上的一笔代币余额。
type TokenBalance struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	Balance  string  `json:"balance"`
	USD      float64 `json:"usd"`
}

// Portfolio 汇总地址在所有支持链上的余额。
type Portfolio struct {
	Native string         `json:"native"`
	Tokens []TokenBalance `json:"tokens"`
}

// Position 表示一条 DeFi 持仓记录。
type Position struct {
	Protocol     string `json:"protocol"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	BalanceUSD   string `json:"balanceUSD"`
	APY          string `json:"apy"`
	HealthFactor string `json:"healthFactor"`
	Network      string `json:"network"`
}

// Recommendation 是 AURA 策略引擎返回的一条建议。
type Recommendation struct {
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Description string `json:"description"`
}

// StrategySet 对应上游 strategies 数组中的一个元素。
type StrategySet struct {
	Response []Recommendation `json:"response"`
}

// SwapQuoteRequest 描述一次询价请求。
type SwapQuoteRequest struct {
	FromToken         string
	ToToken           string
	Amount            string
	Chain             string
	SlippageTolerance float64
	UserAddress       string
}

// QuoteToken 是询价结果中的单边代币信息。
type QuoteToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Amount   string `json:"amount"`
}

// SwapQuote 是 AURA 自动选择最优 DEX 后返回的报价。
type SwapQuote struct {
	FromToken   QuoteToken `json:"fromToken"`
	ToToken     QuoteToken `json:"toToken"`
	Price       string     `json:"price"`
	PriceImpact float64    `json:"priceImpact"`
	Route       struct {
		DEX       string   `json:"dex"`
		Path      []string `json:"path"`
		Protocols []string `json:"protocols"`
	} `json:"route"`
	EstimatedGas     string `json:"estimatedGas"`
	EstimatedGasUSD  string `json:"estimatedGasUsd"`
	GuaranteedAmount string `json:"guaranteedAmount"`
	QuoteID          string `json:"quoteId"`
}

// Provider 抽象了策略规划与组合查询依赖的上游能力，便于测试替换。
type Provider interface {
	Balances(ctx context.Context, address string) (*Portfolio, error)
	Positions(ctx context.Context, address string) ([]Position, error)
	Strategies(ctx context.Context, address string) ([]StrategySet, error)
}

// Client 通过 HTTP 调用 AURA 行情与策略 API。
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建 AURA 客户端。API Key 是可选的，
// 未提供时仍可访问公共接口，只是受更严格的限流。
func NewClient(cfg Config) *Client {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	apiURL = strings.TrimRight(apiURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiURL: apiURL,
		apiKey: strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// 上游 /api/portfolio/balances 的原始结构。
type rawPortfolio struct {
	Portfolio []struct {
		Network struct {
			Name string `json:"name"`
		} `json:"network"`
		Tokens []struct {
			Address    string      `json:"address"`
			Symbol     string      `json:"symbol"`
			Balance    json.Number `json:"balance"`
			BalanceUSD float64     `json:"balanceUSD"`
		} `json:"tokens"`
	} `json:"portfolio"`
}

// Balances 查询地址在所有链上的余额并汇总成统一视图。
func (c *Client) Balances(ctx context.Context, address string) (*Portfolio, error) {
	var raw rawPortfolio
	if err := c.get(ctx, "/api/portfolio/balances", address, &raw); err != nil {
		return nil, err
	}

	portfolio := &Portfolio{Tokens: []TokenBalance{}}
	var totalUSD float64
	for _, network := range raw.Portfolio {
		for _, token := range network.Tokens {
			totalUSD += token.BalanceUSD
			portfolio.Tokens = append(portfolio.Tokens, TokenBalance{
				Address:  token.Address,
				Symbol:   token.Symbol,
				Decimals: 18,
				Balance:  token.Balance.String(),
				USD:      token.BalanceUSD,
			})
		}
	}
	portfolio.Native = strconv.FormatFloat(totalUSD, 'f', -1, 64)
	return portfolio, nil
}

// Positions 从组合数据中提取非零持仓。
func (c *Client) Positions(ctx context.Context, address string) ([]Position, error) {
	var raw rawPortfolio
	if err := c.get(ctx, "/api/portfolio/balances", address, &raw); err != nil {
		return nil, err
	}

	positions := []Position{}
	for _, network := range raw.Portfolio {
		for _, token := range network.Tokens {
			if token.BalanceUSD <= 0 {
				continue
			}
			positions = append(positions, Position{
				Protocol:     "wallet",
				Asset:        token.Symbol,
				Balance:      token.Balance.String(),
				BalanceUSD:   strconv.FormatFloat(token.BalanceUSD, 'f', -1, 64),
				APY:          "0",
				HealthFactor: "0",
				Network:      network.Network.Name,
			})
		}
	}
	return positions, nil
}

// Strategies 查询 AURA 策略引擎针对该地址的建议。
func (c *Client) Strategies(ctx context.Context, address string) ([]StrategySet, error) {
	var raw struct {
		Strategies []StrategySet `json:"strategies"`
	}
	if err := c.get(ctx, "/api/portfolio/strategies", address, &raw); err != nil {
		return nil, err
	}
	return raw.Strategies, nil
}

// SwapQuote 向 AURA 询价，由上游自动选择最优 DEX 与路径。
func (c *Client) SwapQuote(ctx context.Context, req SwapQuoteRequest) (*SwapQuote, error) {
	slippage := req.SlippageTolerance
	if slippage <= 0 {
		slippage = 0.5
	}

	query := url.Values{}
	query.Set("fromToken", req.FromToken)
	query.Set("toToken", req.ToToken)
	query.Set("amount", req.Amount)
	query.Set("chain", req.Chain)
	query.Set("slippageTolerance", strconv.FormatFloat(slippage, 'f', -1, 64))
	if req.UserAddress != "" {
		query.Set("userAddress", req.UserAddress)
	}

	var quote SwapQuote
	if err := c.getQuery(ctx, "/api/swap/quote", query, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (c *Client) get(ctx context.Context, path, address string, out any) error {
	query := url.Values{}
	query.Set("address", address)
	return c.getQuery(ctx, path, query, out)
}

func (c *Client) getQuery(ctx context.Context, path string, query url.Values, out any) error {
	if c.apiKey != "" {
		query.Set("apiKey", c.apiKey)
	}
	endpoint := c.apiURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构建 AURA 请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 AURA 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("AURA 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 AURA 响应失败: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
