package wallet

import (
	xerrors "AgentVault-Chain/internal/errors"
)

// Mode 表示代理钱包的托管模式。
type Mode string

const (
	// ModeNonCustodial 非托管：仅记录用户自持地址。
	ModeNonCustodial Mode = "non_custodial"
	// ModeMPC 多方计算托管：由多个参与方共同签名。
	ModeMPC Mode = "mpc"
	// ModeSmartContract 合约托管：由链上合约强制执行限额。
	ModeSmartContract Mode = "smart_contract"
)

// IsValidMode 检查托管模式是否受支持。
func IsValidMode(mode Mode) bool {
	switch mode {
	case ModeNonCustodial, ModeMPC, ModeSmartContract:
		return true
	default:
		return false
	}
}

// MPCConfig 描述多方计算托管所需的协同元数据。
type MPCConfig struct {
	ParticipantKeys   []string `json:"participant_keys"`
	SigningThreshold  int      `json:"signing_threshold"`
	CoordinatorURL    string   `json:"coordinator_url,omitempty"`
	SpendingLimitWei  uint64   `json:"spending_limit_wei,omitempty"`
	RotationPeriodSec int64    `json:"rotation_period_sec,omitempty"`
}

// Validate 校验 MPC 配置。
func (c *MPCConfig) Validate() error {
	if c == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "MPC 模式缺少配置")
	}
	if len(c.ParticipantKeys) < 2 {
		return xerrors.New(xerrors.CodeInvalidArgument, "MPC 参与方至少需要 2 个")
	}
	if c.SigningThreshold < 1 || c.SigningThreshold > len(c.ParticipantKeys) {
		return xerrors.New(xerrors.CodeInvalidArgument, "MPC 签名阈值必须在 1 与参与方数量之间")
	}
	return nil
}

// SmartContractLimits 描述合约托管模式下的限额规则。
type SmartContractLimits struct {
	MaxPerTransaction uint64   `json:"max_per_transaction"`
	DailyLimit        uint64   `json:"daily_limit"`
	Whitelist         []string `json:"whitelist,omitempty"`
	AllowedTxTypes    []string `json:"allowed_tx_types,omitempty"`
	MultisigThreshold uint64   `json:"multisig_threshold"`
}

// Validate 校验合约托管限额。
func (l *SmartContractLimits) Validate() error {
	if l == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "合约托管模式缺少限额配置")
	}
	if l.MaxPerTransaction == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "单笔限额必须大于 0")
	}
	if l.DailyLimit > 0 && l.DailyLimit < l.MaxPerTransaction {
		return xerrors.New(xerrors.CodeInvalidArgument, "日限额不能小于单笔限额")
	}
	return nil
}

// Wallet 是一次托管配置的结果，对外提供统一的查询口径。
type Wallet struct {
	AgentID       string               `json:"agent_id"`
	Address       string               `json:"address"`
	Mode          Mode                 `json:"mode"`
	Balance       uint64               `json:"balance"`
	MPC           *MPCConfig           `json:"mpc,omitempty"`
	Limits        *SmartContractLimits `json:"limits,omitempty"`
	ProvisionedAt int64                `json:"provisioned_at"`
}

// Clone 返回钱包记录的副本。
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	clone := *w
	if w.MPC != nil {
		mpc := *w.MPC
		mpc.ParticipantKeys = append([]string(nil), w.MPC.ParticipantKeys...)
		clone.MPC = &mpc
	}
	if w.Limits != nil {
		limits := *w.Limits
		limits.Whitelist = append([]string(nil), w.Limits.Whitelist...)
		limits.AllowedTxTypes = append([]string(nil), w.Limits.AllowedTxTypes...)
		clone.Limits = &limits
	}
	return &clone
}
