package fees

import (
	xerrors "AgentVault-Chain/internal/errors"
)

// PayoutStatus 表示提现请求的状态。
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
)

// FeeEvent 是一次费用记账的输入。
type FeeEvent struct {
	StrategyID string `json:"strategy_id"`
	CreatorID  string `json:"creator_id"`
	Amount     uint64 `json:"amount"`
}

// FeeRecord 是记账后的不可变结果。创作者份额与平台份额之和恒等于原始金额。
type FeeRecord struct {
	StrategyID    string `json:"strategy_id"`
	CreatorID     string `json:"creator_id"`
	Amount        uint64 `json:"amount"`
	CreatorShare  uint64 `json:"creator_share"`
	PlatformShare uint64 `json:"platform_share"`
	RecordedAt    int64  `json:"recorded_at"`
}

// CreatorBalance 汇总单个创作者的账户余额。
type CreatorBalance struct {
	CreatorID    string `json:"creator_id"`
	Available    uint64 `json:"available"`
	Pending      uint64 `json:"pending"`
	Lifetime     uint64 `json:"lifetime"`
	LastPayoutAt int64  `json:"last_payout_at,omitempty"`
}

// Payout 是一条提现请求记录。
type Payout struct {
	ID          string       `json:"id"`
	CreatorID   string       `json:"creator_id"`
	Amount      uint64       `json:"amount"`
	Destination string       `json:"destination"`
	Status      PayoutStatus `json:"status"`
	RequestedAt int64        `json:"requested_at"`
	CompletedAt int64        `json:"completed_at,omitempty"`
}

var (
	// ErrPayoutNotFound 表示指定的提现请求不存在。
	ErrPayoutNotFound = xerrors.New(CodePayoutNotFound, "payout not found")
	// ErrInsufficientBalance 表示创作者可用余额不足。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "insufficient creator balance")
	// ErrBelowThreshold 表示提现金额低于最小限额。
	ErrBelowThreshold = xerrors.New(CodeBelowThreshold, "payout below minimum threshold")
)

const (
	CodePayoutNotFound      xerrors.Code = "PAYOUT_NOT_FOUND"
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeBelowThreshold      xerrors.Code = "BELOW_THRESHOLD"
	CodePayoutPublish       xerrors.Code = "PAYOUT_PUBLISH_FAILED"
	CodePayoutSettlement    xerrors.Code = "PAYOUT_SETTLEMENT_FAILED"
)

func init() {
	xerrors.Register(CodePayoutNotFound, xerrors.Attributes{
		Message:   "payout not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:   "insufficient creator balance",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBelowThreshold, xerrors.Attributes{
		Message:   "payout below minimum threshold",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePayoutPublish, xerrors.Attributes{
		Message:   "failed to publish payout",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodePayoutSettlement, xerrors.Attributes{
		Message:   "payout settlement failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
