package factory

import (
	stdErrors "errors"
	"sync/atomic"
	"testing"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
)

func TestProposeUpgrade(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	if _, err := m.ProposeUpgrade("0xnobody", "0:target", "code", "hash-1"); !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	var proposed atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.UpgradeProposed {
			proposed.Add(1)
		}
		return nil
	})

	proposal, err := m.ProposeUpgrade(testOwner, "0:target", "code", "hash-1")
	if err != nil {
		t.Fatalf("propose upgrade: %v", err)
	}
	if proposal.Status != ProposalPending {
		t.Fatalf("expected pending proposal, got %s", proposal.Status)
	}
	// 提案人自动计入第一个审批。
	if len(proposal.Approvers) != 1 || proposal.Approvers[0] != testOwner {
		t.Fatalf("proposer must be the first approver: %+v", proposal.Approvers)
	}
	if proposed.Load() != 1 {
		t.Fatalf("expected 1 upgrade.proposed event, got %d", proposed.Load())
	}
}

func TestApproveUpgradeAutoExecutes(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.UpgradeApprovals = 2 })

	if _, err := m.GrantRole(testOwner, "0xsecond", "approver", []Permission{PermissionUpgrade}); err != nil {
		t.Fatalf("grant role: %v", err)
	}

	var executed atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.UpgradeExecuted {
			executed.Add(1)
		}
		return nil
	})

	proposal, err := m.ProposeUpgrade(testOwner, "0:target", "code", "hash-1")
	if err != nil {
		t.Fatalf("propose upgrade: %v", err)
	}

	// 提案人重复审批是幂等的，不会推进到阈值。
	same, err := m.ApproveUpgrade(proposal.ProposalID, testOwner)
	if err != nil {
		t.Fatalf("idempotent approve: %v", err)
	}
	if same.Status != ProposalPending || len(same.Approvers) != 1 {
		t.Fatalf("duplicate approval must not count: %+v", same)
	}

	// 第二个不同的审批人达到 2/2，提案在同一调用内执行。
	final, err := m.ApproveUpgrade(proposal.ProposalID, "0xsecond")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if final.Status != ProposalExecuted {
		t.Fatalf("expected executed proposal, got %s", final.Status)
	}
	if len(final.Approvers) != 2 {
		t.Fatalf("expected 2 distinct approvers, got %d", len(final.Approvers))
	}
	if executed.Load() != 1 {
		t.Fatalf("upgrade.executed must fire exactly once, got %d", executed.Load())
	}

	// 已执行的提案不再接受审批。
	if _, err := m.ApproveUpgrade(proposal.ProposalID, testOwner); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("expected invalid state after execution, got %v", err)
	}
}

func TestApproveUpgradeErrors(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	if _, err := m.ApproveUpgrade("missing", testOwner); !stdErrors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected proposal not found, got %v", err)
	}

	proposal, err := m.ProposeUpgrade(testOwner, "0:target", "code", "hash-1")
	if err != nil {
		t.Fatalf("propose upgrade: %v", err)
	}
	if _, err := m.ApproveUpgrade(proposal.ProposalID, "0xnobody"); !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestExecuteUpgradeThreshold(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.UpgradeApprovals = 2 })

	if _, err := m.ExecuteUpgrade("missing"); !stdErrors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected proposal not found, got %v", err)
	}

	proposal, err := m.ProposeUpgrade(testOwner, "0:target", "code", "hash-1")
	if err != nil {
		t.Fatalf("propose upgrade: %v", err)
	}

	// 1/2 审批时执行必须失败，且状态不变。
	if _, err := m.ExecuteUpgrade(proposal.ProposalID); !stdErrors.Is(err, ErrInsufficientApprovals) {
		t.Fatalf("expected insufficient approvals, got %v", err)
	}
	current, err := m.Proposal(proposal.ProposalID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if current.Status != ProposalPending {
		t.Fatalf("failed execution must not change status, got %s", current.Status)
	}

	if _, err := m.GrantRole(testOwner, "0xsecond", "approver", []Permission{PermissionUpgrade}); err != nil {
		t.Fatalf("grant role: %v", err)
	}

	var executed atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.UpgradeExecuted {
			executed.Add(1)
		}
		return nil
	})

	if _, err := m.ApproveUpgrade(proposal.ProposalID, "0xsecond"); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if executed.Load() != 1 {
		t.Fatalf("expected exactly one executed event, got %d", executed.Load())
	}

	// 已执行的提案再次显式执行报状态错误。
	if _, err := m.ExecuteUpgrade(proposal.ProposalID); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestExecuteUpgradeDirectly(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *Config) { c.UpgradeApprovals = 1 })

	proposal, err := m.ProposeUpgrade(testOwner, "0:target", "code", "hash-2")
	if err != nil {
		t.Fatalf("propose upgrade: %v", err)
	}
	if proposal.Status != ProposalPending {
		t.Fatalf("new proposal must be pending, got %s", proposal.Status)
	}

	var executed atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.UpgradeExecuted {
			executed.Add(1)
		}
		return nil
	})

	// 显式执行走 pending → approved → executed，与审批触发的路径一致。
	snapshot, err := m.ExecuteUpgrade(proposal.ProposalID)
	if err != nil {
		t.Fatalf("execute upgrade: %v", err)
	}
	if snapshot.Status != ProposalExecuted {
		t.Fatalf("expected executed, got %s", snapshot.Status)
	}
	if len(snapshot.Approvers) != 1 || snapshot.Approvers[0] != testOwner {
		t.Fatalf("approvers snapshot incorrect: %v", snapshot.Approvers)
	}
	if executed.Load() != 1 {
		t.Fatalf("expected exactly one executed event, got %d", executed.Load())
	}
}
