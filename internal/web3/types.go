package web3

import (
	"context"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// SubmitResult carries the opaque identifiers returned by a chain submission.
// 核心层只透传这两个标识，从不解析链上原生二进制。
type SubmitResult struct {
	TxHash   string
	BlockSeq uint64
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
// 交易签名与最终确认由外部协作方负责，这里只做提交与查询。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	SubmitDeployment(ctx context.Context, destination string, payload []byte, value uint64) (SubmitResult, error)
	Close()
}

// NopClient 不连接任何网络，用于测试与离线模式。
type NopClient struct{}

// FetchChainSnapshot 实现 Client 接口。
func (NopClient) FetchChainSnapshot(context.Context) (ChainSnapshot, error) {
	return ChainSnapshot{Notes: "offline"}, nil
}

// SubmitDeployment 实现 Client 接口。
func (NopClient) SubmitDeployment(context.Context, string, []byte, uint64) (SubmitResult, error) {
	return SubmitResult{}, nil
}

// Close 实现 Client 接口。
func (NopClient) Close() {}
