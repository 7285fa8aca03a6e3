package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentVault-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
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
	c.rpcClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.cachedChainID(ctx)
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

// SubmitDeployment broadcasts a pre-signed deployment payload and reports the
// transaction hash together with the block sequence observed at submission.
// destination 是逻辑合约地址，仅用于日志与回执，不参与链上编码。
func (c *Client) SubmitDeployment(ctx context.Context, destination string, payload []byte, value uint64) (web3.SubmitResult, error) {
	if c == nil || c.rpcClient == nil {
		return web3.SubmitResult{}, errors.New("未初始化的以太坊客户端")
	}
	if len(payload) == 0 {
		return web3.SubmitResult{}, errors.New("部署载荷不能为空")
	}
	if strings.TrimSpace(destination) == "" {
		return web3.SubmitResult{}, errors.New("部署目标地址不能为空")
	}

	hexPayload := "0x" + hex.EncodeToString(payload)

	var txHash string
	if err := c.rpcClient.CallContext(ctx, &txHash, "eth_sendRawTransaction", hexPayload); err != nil {
		return web3.SubmitResult{}, fmt.Errorf("广播部署交易失败: %w", err)
	}
	if txHash == "" {
		// 个别节点对已知交易返回空哈希，退化为本地计算。
		txHash = "0x" + hex.EncodeToString(crypto.Keccak256(payload))
	}

	blockSeq, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.SubmitResult{}, fmt.Errorf("获取提交时区块高度失败: %w", err)
	}

	return web3.SubmitResult{TxHash: txHash, BlockSeq: blockSeq}, nil
}

func (c *Client) cachedChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
