package wallet

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/pkg/logger"
)

// ProvisionRequest 描述一次钱包托管配置请求。
// 模式相关的配置由工厂在调用前完成校验，这里再做一次兜底检查。
type ProvisionRequest struct {
	AgentID     string
	UserAddress string
	Mode        Mode
	MPC         *MPCConfig
	Limits      *SmartContractLimits
}

// Validate 校验请求的完整性。
func (r *ProvisionRequest) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "代理 ID 不能为空")
	}
	if !IsValidMode(r.Mode) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的托管模式: "+string(r.Mode))
	}
	switch r.Mode {
	case ModeNonCustodial:
		if strings.TrimSpace(r.UserAddress) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "非托管模式必须提供用户地址")
		}
	case ModeMPC:
		if err := r.MPC.Validate(); err != nil {
			return err
		}
	case ModeSmartContract:
		if err := r.Limits.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Provisioner 负责按托管模式建档代理钱包，并提供统一查询。
type Provisioner struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	logger  *slog.Logger
}

// NewProvisioner 创建钱包配置器。
func NewProvisioner() *Provisioner {
	return &Provisioner{
		wallets: make(map[string]*Wallet),
		logger:  logger.Named("wallet"),
	}
}

// Provision 根据请求建档钱包。同一代理重复建档返回冲突错误。
func (p *Provisioner) Provision(req ProvisionRequest) (*Wallet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.wallets[req.AgentID]; exists {
		return nil, xerrors.New(xerrors.CodeConflict, "代理钱包已存在: "+req.AgentID)
	}

	w := &Wallet{
		AgentID:       req.AgentID,
		Address:       req.UserAddress,
		Mode:          req.Mode,
		ProvisionedAt: time.Now().Unix(),
	}
	switch req.Mode {
	case ModeMPC:
		mpc := *req.MPC
		mpc.ParticipantKeys = append([]string(nil), req.MPC.ParticipantKeys...)
		w.MPC = &mpc
	case ModeSmartContract:
		limits := *req.Limits
		limits.Whitelist = append([]string(nil), req.Limits.Whitelist...)
		limits.AllowedTxTypes = append([]string(nil), req.Limits.AllowedTxTypes...)
		w.Limits = &limits
	}
	p.wallets[req.AgentID] = w

	p.logger.Info("钱包建档完成",
		slog.String("agent_id", req.AgentID),
		slog.String("mode", string(req.Mode)),
	)
	return w.Clone(), nil
}

// Get 返回指定代理的钱包记录。
func (p *Provisioner) Get(agentID string) (*Wallet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.wallets[agentID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "代理钱包不存在: "+agentID)
	}
	return w.Clone(), nil
}

// Credit 给钱包入账。
func (p *Provisioner) Credit(agentID string, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.wallets[agentID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "代理钱包不存在: "+agentID)
	}
	w.Balance += amount
	return nil
}

// Debit 从钱包出账，余额不足时报错且不改动余额。
func (p *Provisioner) Debit(agentID string, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.wallets[agentID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "代理钱包不存在: "+agentID)
	}
	if w.Balance < amount {
		return xerrors.New(xerrors.CodeInvalidState, "钱包余额不足")
	}
	w.Balance -= amount
	return nil
}

// Count 返回已建档的钱包数量。
func (p *Provisioner) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.wallets)
}
