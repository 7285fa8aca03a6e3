package wallet

import (
	stdErrors "errors"
	"testing"

	xerrors "AgentVault-Chain/internal/errors"
)

func TestProvisionNonCustodial(t *testing.T) {
	p := NewProvisioner()

	w, err := p.Provision(ProvisionRequest{
		AgentID:     "a1",
		UserAddress: "0xuser",
		Mode:        ModeNonCustodial,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if w.Mode != ModeNonCustodial || w.Address != "0xuser" {
		t.Fatalf("钱包记录错误: %+v", w)
	}
}

func TestProvisionMPCRequiresConfig(t *testing.T) {
	p := NewProvisioner()

	_, err := p.Provision(ProvisionRequest{AgentID: "a1", Mode: ModeMPC})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("缺少 MPC 配置应返回参数错误: %v", err)
	}

	_, err = p.Provision(ProvisionRequest{
		AgentID: "a1",
		Mode:    ModeMPC,
		MPC:     &MPCConfig{ParticipantKeys: []string{"k1", "k2", "k3"}, SigningThreshold: 2},
	})
	if err != nil {
		t.Fatalf("合法 MPC 配置建档失败: %v", err)
	}
}

func TestProvisionSmartContractLimits(t *testing.T) {
	p := NewProvisioner()

	_, err := p.Provision(ProvisionRequest{
		AgentID: "a1",
		Mode:    ModeSmartContract,
		Limits:  &SmartContractLimits{MaxPerTransaction: 100, DailyLimit: 50},
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("日限额小于单笔限额应报错: %v", err)
	}

	w, err := p.Provision(ProvisionRequest{
		AgentID: "a1",
		Mode:    ModeSmartContract,
		Limits: &SmartContractLimits{
			MaxPerTransaction: 100,
			DailyLimit:        1000,
			Whitelist:         []string{"0xdex"},
			MultisigThreshold: 500,
		},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if w.Limits == nil || w.Limits.DailyLimit != 1000 {
		t.Fatalf("限额未保存: %+v", w)
	}
}

func TestProvisionDuplicateAgent(t *testing.T) {
	p := NewProvisioner()

	req := ProvisionRequest{AgentID: "a1", UserAddress: "0xuser", Mode: ModeNonCustodial}
	if _, err := p.Provision(req); err != nil {
		t.Fatalf("首次建档失败: %v", err)
	}
	_, err := p.Provision(req)
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("重复建档应返回冲突: %v", err)
	}
}

func TestWalletBalance(t *testing.T) {
	p := NewProvisioner()
	if _, err := p.Provision(ProvisionRequest{AgentID: "a1", UserAddress: "0xuser", Mode: ModeNonCustodial}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := p.Credit("a1", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := p.Debit("a1", 40); err != nil {
		t.Fatalf("debit: %v", err)
	}
	err := p.Debit("a1", 100)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("超额出账应报错: %v", err)
	}

	w, err := p.Get("a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.Balance != 60 {
		t.Fatalf("余额错误: %d", w.Balance)
	}
}

func TestGetUnknownWallet(t *testing.T) {
	p := NewProvisioner()
	_, err := p.Get("missing")
	if !stdErrors.Is(err, xerrors.New(xerrors.CodeNotFound, "")) {
		t.Fatalf("未知钱包应返回 NOT_FOUND: %v", err)
	}
}
