package strategy

import (
	xerrors "AgentVault-Chain/internal/errors"
)

// Status 表示策略在生命周期中的状态。
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	// StatusStopped 是终态，停止后的策略不可再启动。
	StatusStopped Status = "stopped"
)

// IsValidStatus 检查给定的策略状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusCreated, StatusRunning, StatusPaused, StatusStopped:
		return true
	default:
		return false
	}
}

// Strategy 描述挂载在某个代理上的交易策略。
type Strategy struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	CreatorID       string         `json:"creator_id"`
	StrategyType    string         `json:"strategy_type"`
	Version         string         `json:"version"`
	RiskLevel       int            `json:"risk_level"`
	MaxGasBudget    uint64         `json:"max_gas_budget"`
	ContractAddress string         `json:"contract_address"`
	Status          Status         `json:"status"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// Clone 返回策略副本。
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Parameters != nil {
		clone.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			clone.Parameters[k] = v
		}
	}
	return &clone
}

// ExecutionReport 汇总一次策略执行的结果。
type ExecutionReport struct {
	StrategyID  string `json:"strategy_id"`
	Amount      uint64 `json:"amount"`
	FeeAmount   uint64 `json:"fee_amount"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockSeq    uint64 `json:"block_seq,omitempty"`
	CompletedAt int64  `json:"completed_at"`
}

var (
	// ErrStrategyNotFound 表示指定的策略不存在。
	ErrStrategyNotFound = xerrors.New(CodeStrategyNotFound, "strategy not found")
	// ErrInvalidTransition 表示策略在当前状态下无法执行所请求的转换。
	ErrInvalidTransition = xerrors.New(xerrors.CodeInvalidState, "illegal strategy transition")
	// ErrBackpressure 表示并发执行数已达上限，调用方需自行重试。
	ErrBackpressure = xerrors.New(xerrors.CodeBackpressure, "execution ceiling reached")
)

const (
	CodeStrategyNotFound   xerrors.Code = "STRATEGY_NOT_FOUND"
	CodeStrategyValidation xerrors.Code = "STRATEGY_VALIDATION_FAILED"
	CodeStrategyExecution  xerrors.Code = "STRATEGY_EXECUTION_FAILED"
)

func init() {
	xerrors.Register(CodeStrategyNotFound, xerrors.Attributes{
		Message:   "strategy not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeStrategyValidation, xerrors.Attributes{
		Message:   "strategy validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeStrategyExecution, xerrors.Attributes{
		Message:   "strategy execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

func cloneParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cloned := make(map[string]any, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}
