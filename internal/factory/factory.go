package factory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentVault-Chain/internal/addressing"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/fees"
	"AgentVault-Chain/internal/observability/metrics"
	"AgentVault-Chain/internal/registry"
	"AgentVault-Chain/internal/strategy"
	"AgentVault-Chain/internal/wallet"
	"AgentVault-Chain/internal/web3"
	"AgentVault-Chain/pkg/logger"
)

// Manager 是工厂聚合根，持有全部治理状态。状态都是实例级字段，
// 多个工厂实例互不影响。
type Manager struct {
	mu     sync.Mutex
	config Config

	store    DeploymentStore
	agents   registry.Store
	wallets  *wallet.Provisioner
	executor *strategy.Executor
	fees     *fees.Manager
	bus      *events.Bus
	chain    web3.Client
	logger   *slog.Logger

	startedAt time.Time

	ownerCounts map[string]int
	agentSeq    map[string]uint64
	strategySeq map[string]uint64

	totalAgents        uint64
	totalStrategies    uint64
	totalFeesCollected uint64

	proposals map[string]*UpgradeProposal
	emergency EmergencyState
	access    map[string]*AccessEntry
}

// Option 定义工厂的可选装配。
type Option func(*Manager)

// WithWalletProvisioner 指定钱包配置器。
func WithWalletProvisioner(p *wallet.Provisioner) Option {
	return func(m *Manager) {
		if p != nil {
			m.wallets = p
		}
	}
}

// WithExecutor 指定策略执行器。
func WithExecutor(e *strategy.Executor) Option {
	return func(m *Manager) {
		if e != nil {
			m.executor = e
		}
	}
}

// WithFeeManager 指定费用管理器。
func WithFeeManager(f *fees.Manager) Option {
	return func(m *Manager) {
		if f != nil {
			m.fees = f
		}
	}
}

// WithEventBus 指定事件总线。
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithChainClient 指定链客户端。缺省为离线客户端，部署回执照常落库。
func WithChainClient(client web3.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.chain = client
		}
	}
}

// NewManager 构造工厂。所有者地址会被授予完整权限集。
func NewManager(config Config, store DeploymentStore, agents registry.Store, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(config.OwnerAddress) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "所有者地址不能为空")
	}
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "部署存储未初始化")
	}
	if agents == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "代理注册表未初始化")
	}
	config.applyDefaults()

	m := &Manager{
		config:      config,
		store:       store,
		agents:      agents,
		wallets:     wallet.NewProvisioner(),
		executor:    strategy.NewExecutor(strategy.ExecutorConfig{ProtocolFeeBps: config.ProtocolFeeBps}),
		bus:         events.NewBus(),
		chain:       web3.NopClient{},
		logger:      logger.Named("factory"),
		startedAt:   time.Now(),
		ownerCounts: make(map[string]int),
		agentSeq:    make(map[string]uint64),
		strategySeq: make(map[string]uint64),
		proposals:   make(map[string]*UpgradeProposal),
		access:      make(map[string]*AccessEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.access[config.OwnerAddress] = &AccessEntry{
		Address:     config.OwnerAddress,
		Role:        "owner",
		Permissions: AllPermissions(),
		GrantedBy:   config.OwnerAddress,
		GrantedAt:   time.Now().Unix(),
	}
	return m, nil
}

// Bus 返回工厂的事件总线，供外部协作方订阅。
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Executor 返回策略执行器。
func (m *Manager) Executor() *strategy.Executor {
	return m.executor
}

// Wallets 返回钱包配置器。
func (m *Manager) Wallets() *wallet.Provisioner {
	return m.wallets
}

// Fees 返回费用管理器，未装配时为 nil。
func (m *Manager) Fees() *fees.Manager {
	return m.fees
}

// DeployAgent 部署一个新代理。校验、配额与紧急状态检查都发生在提交点之前，
// 失败不留下任何局部状态；部署回执落库即视为提交。
func (m *Manager) DeployAgent(ctx context.Context, input DeployAgentInput) (*DeploymentResult, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "所有者 ID 不能为空")
	}
	if strings.TrimSpace(input.OwnerAddress) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "所有者地址不能为空")
	}

	agentID := uuid.NewString()
	provisionReq := wallet.ProvisionRequest{
		AgentID:     agentID,
		UserAddress: input.OwnerAddress,
		Mode:        input.WalletMode,
		MPC:         input.MPC,
		Limits:      input.Limits,
	}
	if err := provisionReq.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()

	if !m.config.AcceptingDeployments {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeUnavailable, "工厂当前不接受部署")
	}
	if m.emergency.Paused {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeUnavailable, "工厂处于紧急暂停状态")
	}
	if m.ownerCounts[input.OwnerID] >= m.config.MaxAgentsPerOwner {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeCapacityExceeded, "所有者的活跃代理数已达上限")
	}

	workchain, err := m.resolveWorkchainLocked(input.Workchain)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	seq := m.agentSeq[input.OwnerID] + 1
	salt := addressing.AgentSalt(input.OwnerID, seq)
	address, err := addressing.Derive(input.OwnerAddress, salt, workchain)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	// 序列与配额在锁内预占，链上提交和落库不占用聚合锁。
	// 落库失败回滚配额，序列保持前移，空洞不会导致盐复用。
	fee := m.config.DeploymentFee
	version := m.config.Version
	m.agentSeq[input.OwnerID] = seq
	m.ownerCounts[input.OwnerID]++
	m.totalAgents++
	m.totalFeesCollected += fee
	m.mu.Unlock()

	deploymentID, err := m.store.NextID(ctx)
	if err != nil {
		m.rollbackAgentQuota(input.OwnerID, fee)
		return nil, err
	}

	result := &DeploymentResult{
		DeploymentID:    deploymentID,
		ContractAddress: address.String(),
		AgentID:         agentID,
		OwnerID:         input.OwnerID,
		FeePaid:         fee,
		DeployedAt:      time.Now().Unix(),
		ContractVersion: version,
	}

	// 链上提交是尽力而为：回执落库才是提交点，链路抖动不阻塞部署。
	if submitted, submitErr := m.submitToChain(ctx, result); submitErr != nil {
		m.logger.Warn("链上提交失败，部署继续",
			slog.Any("error", submitErr),
			slog.String("agent_id", agentID),
		)
	} else {
		result.TxHash = submitted.TxHash
		result.BlockSeq = submitted.BlockSeq
	}

	if err := m.store.Save(ctx, result); err != nil {
		m.rollbackAgentQuota(input.OwnerID, fee)
		return nil, err
	}

	// 提交点已过：以下步骤只依赖前面已校验的输入，不会再失败回滚。
	if _, err := m.wallets.Provision(provisionReq); err != nil {
		m.logger.Error("钱包建档失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}
	if err := m.agents.Register(ctx, &registry.Agent{
		AgentID:         agentID,
		OwnerAddress:    input.OwnerAddress,
		ContractAddress: result.ContractAddress,
		Metadata:        input.Metadata,
		Active:          true,
	}); err != nil {
		m.logger.Error("代理登记失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}

	walletMode := string(input.WalletMode)
	metrics.IncrCounter(metrics.CounterAgentsDeployed)
	m.bus.Publish(events.AgentDeployed, events.AgentDeployedData{
		DeploymentID:    result.DeploymentID,
		AgentID:         agentID,
		OwnerID:         input.OwnerID,
		ContractAddress: result.ContractAddress,
		WalletMode:      walletMode,
		FeePaid:         result.FeePaid,
	})
	logger.Audit().Info("代理部署完成",
		slog.Uint64("deployment_id", result.DeploymentID),
		slog.String("agent_id", agentID),
		slog.String("owner_id", input.OwnerID),
		slog.String("contract_address", result.ContractAddress),
		slog.Uint64("fee_paid", result.FeePaid),
	)
	return result.Clone(), nil
}

// rollbackAgentQuota 归还部署失败时预占的配额。序列不回退。
func (m *Manager) rollbackAgentQuota(ownerID string, fee uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownerCounts[ownerID]--
	m.totalAgents--
	m.totalFeesCollected -= fee
}

// DeployStrategy 为已有代理部署策略合约。不收部署费，费用在执行时结算。
func (m *Manager) DeployStrategy(ctx context.Context, input DeployStrategyInput) (*strategy.Strategy, error) {
	if strings.TrimSpace(input.AgentID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理 ID 不能为空")
	}

	agent, err := m.agents.Get(ctx, input.AgentID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.config.AcceptingDeployments {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeUnavailable, "工厂当前不接受部署")
	}
	if m.emergency.Paused {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeUnavailable, "工厂处于紧急暂停状态")
	}

	workchain, err := m.resolveWorkchainLocked(input.Workchain)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	seqKey := input.AgentID + "/" + input.StrategyType
	seq := m.strategySeq[seqKey] + 1
	salt := addressing.StrategySalt(input.AgentID, input.StrategyType, seq)
	address, err := addressing.Derive(agent.ContractAddress, salt, workchain)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	// 序列在锁内预占，并发部署不会得到相同的盐。创建失败不回滚，
	// 序列空洞无害。
	m.strategySeq[seqKey] = seq
	m.mu.Unlock()

	created, err := m.executor.Create(ctx, strategy.CreateInput{
		AgentID:         input.AgentID,
		CreatorID:       input.CreatorID,
		StrategyType:    input.StrategyType,
		Version:         input.Version,
		RiskLevel:       input.RiskLevel,
		MaxGasBudget:    input.MaxGasBudget,
		ContractAddress: address.String(),
		Parameters:      input.Parameters,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.totalStrategies++
	m.mu.Unlock()

	metrics.IncrCounter(metrics.CounterStrategiesDeployed)
	m.bus.Publish(events.StrategyDeployed, events.StrategyDeployedData{
		StrategyID:      created.ID,
		AgentID:         created.AgentID,
		StrategyType:    created.StrategyType,
		ContractAddress: created.ContractAddress,
	})
	logger.Audit().Info("策略部署完成",
		slog.String("strategy_id", created.ID),
		slog.String("agent_id", created.AgentID),
		slog.String("type", created.StrategyType),
	)
	return created, nil
}

// BuildDeploymentTx 生成交给外部签名方的未签名交易描述。纯函数，无副作用。
func BuildDeploymentTx(destination string, payload map[string]any, value uint64) (*UnsignedTx, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标地址不能为空")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码交易载荷失败")
	}
	return &UnsignedTx{
		Destination: destination,
		Payload:     encoded,
		Value:       value,
	}, nil
}

// UpdateConfig 调整运行期允许变更的配置子集，需要 configure 权限。
func (m *Manager) UpdateConfig(caller string, update ConfigUpdate) (Config, error) {
	if !m.HasPermission(caller, PermissionConfigure) {
		return Config{}, ErrPermissionDenied
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if update.DeploymentFee != nil {
		m.config.DeploymentFee = *update.DeploymentFee
	}
	if update.ProtocolFeeBps != nil {
		m.config.ProtocolFeeBps = *update.ProtocolFeeBps
	}
	if update.MaxAgentsPerOwner != nil && *update.MaxAgentsPerOwner > 0 {
		m.config.MaxAgentsPerOwner = *update.MaxAgentsPerOwner
	}
	if update.AcceptingDeployments != nil {
		m.config.AcceptingDeployments = *update.AcceptingDeployments
	}

	logger.Audit().Info("工厂配置已更新", slog.String("caller", caller))
	return m.configSnapshotLocked(), nil
}

// Config 返回当前配置快照。
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configSnapshotLocked()
}

func (m *Manager) configSnapshotLocked() Config {
	snapshot := m.config
	snapshot.Workchains = append([]int32(nil), m.config.Workchains...)
	return snapshot
}

// Deployment 返回指定部署回执。
func (m *Manager) Deployment(ctx context.Context, deploymentID uint64) (*DeploymentResult, error) {
	return m.store.Get(ctx, deploymentID)
}

// DeploymentsByOwner 返回指定所有者的全部部署回执。
func (m *Manager) DeploymentsByOwner(ctx context.Context, ownerID string) ([]*DeploymentResult, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

// AllDeployments 返回最近的部署回执。
func (m *Manager) AllDeployments(ctx context.Context, limit int) ([]*DeploymentResult, error) {
	return m.store.ListAll(ctx, limit)
}

// Stats 返回聚合统计快照。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	activeAgents, err := m.agents.ActiveCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	executions, volume := m.executor.Totals()

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, p := range m.proposals {
		if p.Status == ProposalPending {
			pending++
		}
	}

	feesCollected := m.totalFeesCollected
	if m.fees != nil {
		feesCollected += m.fees.FeesCollected()
	}

	return Stats{
		TotalAgents:         m.totalAgents,
		ActiveAgents:        activeAgents,
		TotalStrategies:     m.totalStrategies,
		TotalFeesCollected:  feesCollected,
		TotalVolume:         volume,
		TotalExecutions:     executions,
		UptimeSeconds:       int64(time.Since(m.startedAt).Seconds()),
		Version:             m.config.Version,
		PendingProposals:    pending,
		EmergencyPaused:     m.emergency.Paused,
		AcceptingDeployment: m.config.AcceptingDeployments,
	}, nil
}

// Health 汇总各组件的就绪情况。
func (m *Manager) Health(ctx context.Context) (Health, error) {
	activeAgents, err := m.agents.ActiveCount(ctx)
	if err != nil {
		return Health{Ready: false}, err
	}

	var pendingFees uint64
	if m.fees != nil {
		pendingFees = m.fees.TotalPendingFees(ctx)
	}

	m.mu.Lock()
	paused := m.emergency.Paused
	m.mu.Unlock()

	return Health{
		Ready:            true,
		AgentsRegistered: activeAgents,
		WalletsArchived:  m.wallets.Count(),
		Strategies:       m.executor.Count(),
		InflightExecs:    m.executor.Inflight(),
		PendingFees:      pendingFees,
		EmergencyPaused:  paused,
	}, nil
}

// Close 释放工厂持有的外部资源。
func (m *Manager) Close() error {
	if m.chain != nil {
		m.chain.Close()
	}
	if err := m.agents.Close(); err != nil {
		return err
	}
	return m.store.Close()
}

// resolveWorkchainLocked 校验请求的工作链。0 值表示使用默认工作链。
func (m *Manager) resolveWorkchainLocked(requested int32) (int32, error) {
	if requested == 0 {
		return m.config.Workchains[0], nil
	}
	for _, wc := range m.config.Workchains {
		if wc == requested {
			return requested, nil
		}
	}
	return 0, xerrors.New(xerrors.CodeInvalidArgument, "不支持的工作链")
}

func (m *Manager) submitToChain(ctx context.Context, result *DeploymentResult) (web3.SubmitResult, error) {
	payload, err := json.Marshal(map[string]any{
		"agent_id": result.AgentID,
		"owner_id": result.OwnerID,
		"address":  result.ContractAddress,
		"version":  result.ContractVersion,
	})
	if err != nil {
		return web3.SubmitResult{}, err
	}
	return m.chain.SubmitDeployment(ctx, result.ContractAddress, payload, result.FeePaid)
}
