package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AuraMCP/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	BatchRPCURL string
	Notes       string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	batchClient *gethrpc.Client
	eth         *ethclient.Client
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	eth := ethclient.NewClient(rpcClient)

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			return nil, fmt.Errorf("连接批量交易节点失败: %w", err)
		}
	}

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		batchClient: batchClient,
		eth:         eth,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.batchClient != nil && c.batchClient != c.rpcClient {
		c.batchClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.batchClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// SuggestGasPrice asks the node for the current recommended gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if c == nil || c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询推荐 gas 价格失败: %w", err)
	}
	return price, nil
}

// BroadcastTransaction submits a pre-signed payload via eth_sendRawTransaction.
// The payload is decoded locally first so malformed input is rejected before
// it ever reaches the node.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx string) (common.Hash, error) {
	if c == nil || c.rpcClient == nil {
		return common.Hash{}, errors.New("未初始化的以太坊客户端")
	}
	payload, err := normalizeRawTx(rawTx)
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := c.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", payload); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return hash, nil
}

// BroadcastBatch broadcasts multiple signed payloads in a single RPC batch
// call. All payloads are validated before anything is sent.
func (c *Client) BroadcastBatch(ctx context.Context, rawTxs []string) ([]common.Hash, error) {
	if c == nil || c.batchClient == nil {
		return nil, errors.New("当前客户端未配置批量 RPC")
	}
	if len(rawTxs) == 0 {
		return nil, errors.New("没有可发送的交易")
	}

	hashes := make([]common.Hash, len(rawTxs))
	elems := make([]gethrpc.BatchElem, len(rawTxs))
	for i, rawTx := range rawTxs {
		payload, err := normalizeRawTx(rawTx)
		if err != nil {
			return nil, fmt.Errorf("交易 %d 非法: %w", i, err)
		}
		elems[i] = gethrpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []any{payload},
			Result: &hashes[i],
		}
	}

	if err := c.batchClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量发送交易失败: %w", err)
	}
	for i := range elems {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("交易 %d 发送失败: %w", i, elems[i].Error)
		}
	}
	return hashes, nil
}

// normalizeRawTx 校验并规范化签名后的交易负载。
func normalizeRawTx(rawTx string) (string, error) {
	rawTx = strings.TrimSpace(rawTx)
	if rawTx == "" {
		return "", errors.New("交易负载不能为空")
	}
	hexPayload := strings.TrimPrefix(rawTx, "0x")
	decoded, err := hex.DecodeString(hexPayload)
	if err != nil {
		return "", fmt.Errorf("交易负载不是合法的十六进制: %w", err)
	}

	var tx coretypes.Transaction
	if err := tx.UnmarshalBinary(decoded); err != nil {
		return "", fmt.Errorf("解析签名交易失败: %w", err)
	}
	return "0x" + hexPayload, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
