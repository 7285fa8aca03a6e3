package factory

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/pkg/logger"
)

// ProposeUpgrade 创建一条升级提案。提案人自动计入第一个审批人。
func (m *Manager) ProposeUpgrade(proposer, targetContract, upgradeType, newCodeHash string) (*UpgradeProposal, error) {
	if strings.TrimSpace(proposer) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提案人地址不能为空")
	}
	if strings.TrimSpace(targetContract) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "升级目标合约不能为空")
	}
	if strings.TrimSpace(newCodeHash) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "新代码哈希不能为空")
	}
	if !m.HasPermission(proposer, PermissionUpgrade) {
		return nil, ErrPermissionDenied
	}

	proposal := &UpgradeProposal{
		ProposalID:        uuid.NewString(),
		Proposer:          proposer,
		TargetContract:    targetContract,
		UpgradeType:       upgradeType,
		NewCodeHash:       newCodeHash,
		ApprovalsRequired: m.config.UpgradeApprovals,
		Approvers:         []string{proposer},
		Status:            ProposalPending,
		CreatedAt:         time.Now().Unix(),
	}

	m.mu.Lock()
	m.proposals[proposal.ProposalID] = proposal
	snapshot := proposal.Clone()
	m.mu.Unlock()

	m.bus.Publish(events.UpgradeProposed, events.UpgradeProposedData{
		ProposalID:     snapshot.ProposalID,
		Proposer:       snapshot.Proposer,
		TargetContract: snapshot.TargetContract,
		UpgradeType:    snapshot.UpgradeType,
	})
	logger.Audit().Info("升级提案已创建",
		slog.String("proposal_id", snapshot.ProposalID),
		slog.String("proposer", snapshot.Proposer),
		slog.String("target", snapshot.TargetContract),
	)
	return snapshot, nil
}

// ApproveUpgrade 为提案追加审批。同一地址重复审批是幂等的。
// 当去重后的审批数达到阈值时，提案在本次调用内直接执行。
func (m *Manager) ApproveUpgrade(proposalID, approver string) (*UpgradeProposal, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "审批人地址不能为空")
	}
	if !m.HasPermission(approver, PermissionUpgrade) {
		return nil, ErrPermissionDenied
	}

	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrProposalNotFound
	}
	if proposal.Status != ProposalPending {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeInvalidState, "提案已不在待审批状态")
	}

	if !proposal.hasApprover(approver) {
		proposal.Approvers = append(proposal.Approvers, approver)
	}

	var executedData *events.UpgradeExecutedData
	if len(proposal.Approvers) >= proposal.ApprovalsRequired {
		proposal.Status = ProposalApproved
		executedData = m.executeProposalLocked(proposal)
	}
	snapshot := proposal.Clone()
	m.mu.Unlock()

	if executedData != nil {
		m.bus.Publish(events.UpgradeExecuted, *executedData)
		logger.Audit().Info("升级提案自动执行",
			slog.String("proposal_id", snapshot.ProposalID),
			slog.Int("approvals", len(snapshot.Approvers)),
		)
	}
	return snapshot, nil
}

// ExecuteUpgrade 执行已获足够审批的提案。审批不足时返回错误且状态不变。
func (m *Manager) ExecuteUpgrade(proposalID string) (*UpgradeProposal, error) {
	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrProposalNotFound
	}
	if proposal.Status == ProposalExecuted {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeInvalidState, "提案已执行")
	}
	if len(proposal.Approvers) < proposal.ApprovalsRequired {
		m.mu.Unlock()
		return nil, ErrInsufficientApprovals
	}

	proposal.Status = ProposalApproved
	executedData := m.executeProposalLocked(proposal)
	snapshot := proposal.Clone()
	m.mu.Unlock()

	m.bus.Publish(events.UpgradeExecuted, *executedData)
	logger.Audit().Info("升级提案已执行",
		slog.String("proposal_id", snapshot.ProposalID),
		slog.String("target", snapshot.TargetContract),
	)
	return snapshot, nil
}

// executeProposalLocked 完成状态切换并组装事件负载。真正把新代码应用到
// 链上合约由外部链客户端负责。
func (m *Manager) executeProposalLocked(proposal *UpgradeProposal) *events.UpgradeExecutedData {
	proposal.Status = ProposalExecuted
	return &events.UpgradeExecutedData{
		ProposalID:     proposal.ProposalID,
		TargetContract: proposal.TargetContract,
		NewCodeHash:    proposal.NewCodeHash,
		Approvers:      append([]string(nil), proposal.Approvers...),
	}
}

// Proposal 返回指定提案的快照。
func (m *Manager) Proposal(proposalID string) (*UpgradeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return proposal.Clone(), nil
}

// Proposals 返回全部提案快照。
func (m *Manager) Proposals() []*UpgradeProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]*UpgradeProposal, 0, len(m.proposals))
	for _, proposal := range m.proposals {
		results = append(results, proposal.Clone())
	}
	return results
}
