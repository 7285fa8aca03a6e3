package factory

import (
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/wallet"
)

// Config 是工厂的构造配置。除 UpdateConfig 明确允许的字段外，
// 其余字段在构造后不可变。
type Config struct {
	OwnerAddress         string  `json:"owner_address"`
	TreasuryAddress      string  `json:"treasury_address"`
	Version              string  `json:"version"`
	DeploymentFee        uint64  `json:"deployment_fee"`
	ProtocolFeeBps       uint32  `json:"protocol_fee_bps"`
	MaxAgentsPerOwner    int     `json:"max_agents_per_owner"`
	AcceptingDeployments bool    `json:"accepting_deployments"`
	Workchains           []int32 `json:"workchains"`
	UpgradeApprovals     int     `json:"upgrade_approvals"`
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "v1.0.0"
	}
	if c.MaxAgentsPerOwner <= 0 {
		c.MaxAgentsPerOwner = 10
	}
	if c.UpgradeApprovals <= 0 {
		c.UpgradeApprovals = 2
	}
	if len(c.Workchains) == 0 {
		c.Workchains = []int32{0}
	}
}

// ConfigUpdate 描述运行期允许调整的配置子集，nil 字段表示不变。
type ConfigUpdate struct {
	DeploymentFee        *uint64 `json:"deployment_fee,omitempty"`
	ProtocolFeeBps       *uint32 `json:"protocol_fee_bps,omitempty"`
	MaxAgentsPerOwner    *int    `json:"max_agents_per_owner,omitempty"`
	AcceptingDeployments *bool   `json:"accepting_deployments,omitempty"`
}

// DeployAgentInput 描述一次代理部署请求。
type DeployAgentInput struct {
	OwnerID      string                      `json:"owner_id"`
	OwnerAddress string                      `json:"owner_address"`
	WalletMode   wallet.Mode                 `json:"wallet_mode"`
	MPC          *wallet.MPCConfig           `json:"mpc,omitempty"`
	Limits       *wallet.SmartContractLimits `json:"limits,omitempty"`
	Workchain    int32                       `json:"workchain"`
	Metadata     map[string]string           `json:"metadata,omitempty"`
}

// DeployStrategyInput 描述一次策略部署请求。
type DeployStrategyInput struct {
	AgentID      string         `json:"agent_id"`
	CreatorID    string         `json:"creator_id"`
	StrategyType string         `json:"strategy_type"`
	Version      string         `json:"version"`
	RiskLevel    int            `json:"risk_level"`
	MaxGasBudget uint64         `json:"max_gas_budget"`
	Workchain    int32          `json:"workchain"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// DeploymentResult 是一次成功部署的不可变回执。部署 ID 全局唯一且单调递增。
type DeploymentResult struct {
	DeploymentID    uint64 `json:"deployment_id"`
	ContractAddress string `json:"contract_address"`
	AgentID         string `json:"agent_id"`
	OwnerID         string `json:"owner_id"`
	TxHash          string `json:"tx_hash"`
	BlockSeq        uint64 `json:"block_seq"`
	FeePaid         uint64 `json:"fee_paid"`
	DeployedAt      int64  `json:"deployed_at"`
	ContractVersion string `json:"contract_version"`
}

// Clone 返回回执副本。
func (d *DeploymentResult) Clone() *DeploymentResult {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// UnsignedTx 是交给外部签名方的未签名交易描述。
type UnsignedTx struct {
	Destination string `json:"destination"`
	Payload     []byte `json:"payload"`
	Value       uint64 `json:"value"`
}

// ProposalStatus 是升级提案的状态。
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalExecuted ProposalStatus = "executed"
)

// UpgradeProposal 是一条多签升级提案。审批人按地址去重。
type UpgradeProposal struct {
	ProposalID        string         `json:"proposal_id"`
	Proposer          string         `json:"proposer"`
	TargetContract    string         `json:"target_contract"`
	UpgradeType       string         `json:"upgrade_type"`
	NewCodeHash       string         `json:"new_code_hash"`
	ApprovalsRequired int            `json:"approvals_required"`
	Approvers         []string       `json:"approvers"`
	Status            ProposalStatus `json:"status"`
	CreatedAt         int64          `json:"created_at"`
}

// Clone 返回提案副本。
func (p *UpgradeProposal) Clone() *UpgradeProposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Approvers = append([]string(nil), p.Approvers...)
	return &clone
}

func (p *UpgradeProposal) hasApprover(addr string) bool {
	for _, a := range p.Approvers {
		if a == addr {
			return true
		}
	}
	return false
}

// EmergencyState 描述工厂的紧急暂停状态，每个工厂实例一份。
type EmergencyState struct {
	Paused         bool     `json:"paused"`
	Reason         string   `json:"reason"`
	TriggeredBy    string   `json:"triggered_by"`
	PausedAt       int64    `json:"paused_at"`
	AffectedAgents []string `json:"affected_agents,omitempty"`
}

// Clone 返回状态副本。
func (e EmergencyState) Clone() EmergencyState {
	clone := e
	clone.AffectedAgents = append([]string(nil), e.AffectedAgents...)
	return clone
}

// Permission 是访问控制表中的单项权限。
type Permission string

const (
	PermissionDeploy    Permission = "deploy"
	PermissionUpgrade   Permission = "upgrade"
	PermissionEmergency Permission = "emergency"
	PermissionConfigure Permission = "configure"
	PermissionGrant     Permission = "grant"
)

// AllPermissions 是构造时授予所有者地址的完整权限集。
func AllPermissions() []Permission {
	return []Permission{
		PermissionDeploy,
		PermissionUpgrade,
		PermissionEmergency,
		PermissionConfigure,
		PermissionGrant,
	}
}

// AccessEntry 是访问控制表中的一条记录，按地址索引，不做继承。
type AccessEntry struct {
	Address     string       `json:"address"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
	GrantedBy   string       `json:"granted_by"`
	GrantedAt   int64        `json:"granted_at"`
}

// Clone 返回记录副本。
func (e *AccessEntry) Clone() *AccessEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Permissions = append([]Permission(nil), e.Permissions...)
	return &clone
}

// Stats 是工厂的聚合统计快照。
type Stats struct {
	TotalAgents         uint64 `json:"total_agents"`
	ActiveAgents        int    `json:"active_agents"`
	TotalStrategies     uint64 `json:"total_strategies"`
	TotalFeesCollected  uint64 `json:"total_fees_collected"`
	TotalVolume         uint64 `json:"total_volume"`
	TotalExecutions     uint64 `json:"total_executions"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
	Version             string `json:"version"`
	PendingProposals    int    `json:"pending_proposals"`
	EmergencyPaused     bool   `json:"emergency_paused"`
	AcceptingDeployment bool   `json:"accepting_deployments"`
}

// Health 汇总各组件的就绪情况与规模计数。
type Health struct {
	Ready            bool   `json:"ready"`
	AgentsRegistered int    `json:"agents_registered"`
	WalletsArchived  int    `json:"wallets_archived"`
	Strategies       int    `json:"strategies"`
	InflightExecs    int    `json:"inflight_executions"`
	PendingFees      uint64 `json:"pending_fees"`
	EmergencyPaused  bool   `json:"emergency_paused"`
}

// 工厂专用错误码。
const (
	CodeProposalNotFound      xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeInsufficientApprovals xerrors.Code = "INSUFFICIENT_APPROVALS"
	CodePermissionDenied      xerrors.Code = "PERMISSION_DENIED"
)

var (
	// ErrProposalNotFound 表示指定的升级提案不存在。
	ErrProposalNotFound = xerrors.New(CodeProposalNotFound, "升级提案不存在")
	// ErrInsufficientApprovals 表示审批数未达到执行阈值。
	ErrInsufficientApprovals = xerrors.New(CodeInsufficientApprovals, "审批数未达到执行阈值")
	// ErrPermissionDenied 表示调用方缺少所需权限。
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "调用方缺少所需权限")
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:   "升级提案不存在",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientApprovals, xerrors.Attributes{
		Message:   "审批数未达到执行阈值",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:   "调用方缺少所需权限",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
