package factory

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/registry"
	"AgentVault-Chain/internal/wallet"
	"AgentVault-Chain/internal/web3"
)

const testOwner = "0:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()

	config := Config{
		OwnerAddress:         testOwner,
		TreasuryAddress:      "0:bbbb",
		Version:              "v1.2.0",
		DeploymentFee:        1_000,
		ProtocolFeeBps:       250,
		MaxAgentsPerOwner:    5,
		AcceptingDeployments: true,
		Workchains:           []int32{0, 1},
		UpgradeApprovals:     2,
	}
	if mutate != nil {
		mutate(&config)
	}

	m, err := NewManager(config, NewMemoryStore(), registry.NewMemoryStore())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func deployInput(ownerID string) DeployAgentInput {
	return DeployAgentInput{
		OwnerID:      ownerID,
		OwnerAddress: "0xOwner-" + ownerID,
		WalletMode:   wallet.ModeNonCustodial,
	}
}

func TestDeployAgentQuotaPerOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, func(c *Config) { c.MaxAgentsPerOwner = 2 })

	for i := 0; i < 2; i++ {
		if _, err := m.DeployAgent(ctx, deployInput("user-1")); err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
	}

	_, err := m.DeployAgent(ctx, deployInput("user-1"))
	if xerrors.CodeOf(err) != xerrors.CodeCapacityExceeded {
		t.Fatalf("expected capacity error, got %v", err)
	}

	// 其他所有者不受影响。
	if _, err := m.DeployAgent(ctx, deployInput("user-2")); err != nil {
		t.Fatalf("deploy for second owner: %v", err)
	}
}

func TestDeployAgentValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	_, err := m.DeployAgent(ctx, DeployAgentInput{OwnerAddress: "0xabc", WalletMode: wallet.ModeNonCustodial})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected validation error for missing owner id, got %v", err)
	}

	// mpc 模式缺少配置时直接拒绝，且不留下任何状态。
	_, err = m.DeployAgent(ctx, DeployAgentInput{
		OwnerID:      "user-1",
		OwnerAddress: "0xabc",
		WalletMode:   wallet.ModeMPC,
	})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected validation error for missing mpc config, got %v", err)
	}
	if m.Wallets().Count() != 0 {
		t.Fatal("failed deployment must not provision a wallet")
	}
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalAgents != 0 || stats.ActiveAgents != 0 {
		t.Fatalf("failed deployment leaked state: %+v", stats)
	}
}

func TestDeployAgentNotAccepting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, func(c *Config) { c.AcceptingDeployments = false })

	_, err := m.DeployAgent(ctx, deployInput("user-1"))
	if xerrors.CodeOf(err) != xerrors.CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestDeployAgentReceipts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	var deployed atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.AgentDeployed {
			deployed.Add(1)
		}
		return nil
	})

	first, err := m.DeployAgent(ctx, deployInput("user-1"))
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	second, err := m.DeployAgent(ctx, deployInput("user-1"))
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}

	if second.DeploymentID <= first.DeploymentID {
		t.Fatalf("deployment ids must be monotonic: %d then %d", first.DeploymentID, second.DeploymentID)
	}
	if first.ContractAddress == second.ContractAddress {
		t.Fatal("sequence-scoped salts must yield distinct addresses")
	}
	if first.FeePaid != 1_000 {
		t.Fatalf("unexpected fee paid %d", first.FeePaid)
	}
	if deployed.Load() != 2 {
		t.Fatalf("expected 2 agent.deployed events, got %d", deployed.Load())
	}

	got, err := m.Deployment(ctx, first.DeploymentID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if got.AgentID != first.AgentID {
		t.Fatalf("receipt mismatch: %s vs %s", got.AgentID, first.AgentID)
	}

	byOwner, err := m.DeploymentsByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(byOwner) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(byOwner))
	}

	if m.Wallets().Count() != 2 {
		t.Fatalf("expected 2 wallets, got %d", m.Wallets().Count())
	}
}

func TestDeployStrategy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	_, err := m.DeployStrategy(ctx, DeployStrategyInput{
		AgentID:      "missing",
		StrategyType: "grid",
		RiskLevel:    2,
		MaxGasBudget: 100_000,
	})
	if !stdErrors.Is(err, registry.ErrAgentNotFound) {
		t.Fatalf("expected agent not found, got %v", err)
	}

	agentReceipt, err := m.DeployAgent(ctx, deployInput("user-1"))
	if err != nil {
		t.Fatalf("deploy agent: %v", err)
	}

	var strategyEvents atomic.Int64
	m.Bus().Subscribe("test", func(event events.Event) error {
		if event.Name == events.StrategyDeployed {
			strategyEvents.Add(1)
		}
		return nil
	})

	created, err := m.DeployStrategy(ctx, DeployStrategyInput{
		AgentID:      agentReceipt.AgentID,
		CreatorID:    "creator-1",
		StrategyType: "grid",
		RiskLevel:    2,
		MaxGasBudget: 100_000,
	})
	if err != nil {
		t.Fatalf("deploy strategy: %v", err)
	}
	if created.ContractAddress == "" {
		t.Fatal("expected derived strategy address")
	}
	if strategyEvents.Load() != 1 {
		t.Fatalf("expected 1 strategy.deployed event, got %d", strategyEvents.Load())
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalStrategies != 1 {
		t.Fatalf("expected 1 strategy in stats, got %d", stats.TotalStrategies)
	}
}

func TestEmergencyGatesDeployments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	agentReceipt, err := m.DeployAgent(ctx, deployInput("user-1"))
	if err != nil {
		t.Fatalf("deploy agent: %v", err)
	}

	if _, err := m.TriggerEmergency("oracle outage", "0xintruder", nil); !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied for stranger, got %v", err)
	}

	state, err := m.TriggerEmergency("oracle outage", testOwner, nil)
	if err != nil {
		t.Fatalf("trigger emergency: %v", err)
	}
	if !state.Paused {
		t.Fatal("expected paused state")
	}

	if _, err := m.DeployAgent(ctx, deployInput("user-2")); xerrors.CodeOf(err) != xerrors.CodeUnavailable {
		t.Fatalf("expected unavailable during emergency, got %v", err)
	}
	_, err = m.DeployStrategy(ctx, DeployStrategyInput{
		AgentID:      agentReceipt.AgentID,
		StrategyType: "grid",
		RiskLevel:    1,
		MaxGasBudget: 100_000,
	})
	if xerrors.CodeOf(err) != xerrors.CodeUnavailable {
		t.Fatalf("expected unavailable during emergency, got %v", err)
	}

	if _, err := m.TriggerEmergency("again", testOwner, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("expected invalid state for double trigger, got %v", err)
	}

	if err := m.ResolveEmergency(testOwner); err != nil {
		t.Fatalf("resolve emergency: %v", err)
	}
	if err := m.ResolveEmergency(testOwner); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("expected invalid state for resolving non-paused factory, got %v", err)
	}

	if _, err := m.DeployAgent(ctx, deployInput("user-2")); err != nil {
		t.Fatalf("deploy after resolve: %v", err)
	}
}

func TestAccessControl(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	if !m.HasPermission(testOwner, PermissionGrant) {
		t.Fatal("owner must be seeded with full permissions")
	}
	if m.HasPermission("0xnobody", PermissionDeploy) {
		t.Fatal("unknown address must have no permissions")
	}

	if _, err := m.GrantRole("0xnobody", "0xoperator", "operator", []Permission{PermissionEmergency}); !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	entry, err := m.GrantRole(testOwner, "0xoperator", "operator", []Permission{PermissionEmergency})
	if err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if entry.GrantedBy != testOwner {
		t.Fatalf("unexpected granter %s", entry.GrantedBy)
	}
	if !m.HasPermission("0xoperator", PermissionEmergency) {
		t.Fatal("granted permission missing")
	}
	if m.HasPermission("0xoperator", PermissionUpgrade) {
		t.Fatal("permission check must be exact set membership")
	}

	if err := m.RevokeRole(testOwner, testOwner); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("expected invalid state for revoking owner, got %v", err)
	}
	if err := m.RevokeRole(testOwner, "0xoperator"); err != nil {
		t.Fatalf("revoke role: %v", err)
	}
	if m.HasPermission("0xoperator", PermissionEmergency) {
		t.Fatal("revoked address must lose permissions")
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	fee := uint64(5_000)
	if _, err := m.UpdateConfig("0xnobody", ConfigUpdate{DeploymentFee: &fee}); !stdErrors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	accepting := false
	updated, err := m.UpdateConfig(testOwner, ConfigUpdate{DeploymentFee: &fee, AcceptingDeployments: &accepting})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if updated.DeploymentFee != fee || updated.AcceptingDeployments {
		t.Fatalf("config not applied: %+v", updated)
	}

	if _, err := m.DeployAgent(ctx, deployInput("user-1")); xerrors.CodeOf(err) != xerrors.CodeUnavailable {
		t.Fatalf("expected unavailable after disabling deployments, got %v", err)
	}
}

func TestBuildDeploymentTx(t *testing.T) {
	t.Parallel()

	tx, err := BuildDeploymentTx("0:cafe", map[string]any{"agent_id": "a-1"}, 42)
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	if tx.Destination != "0:cafe" || tx.Value != 42 || len(tx.Payload) == 0 {
		t.Fatalf("unexpected descriptor %+v", tx)
	}

	if _, err := BuildDeploymentTx("", nil, 0); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHealthSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)

	if _, err := m.DeployAgent(ctx, deployInput("user-1")); err != nil {
		t.Fatalf("deploy agent: %v", err)
	}

	health, err := m.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.Ready || health.AgentsRegistered != 1 || health.WalletsArchived != 1 {
		t.Fatalf("unexpected health snapshot %+v", health)
	}
}

func TestDeployStrategyConcurrentDistinctAddresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestManager(t, nil)
	agentReceipt, err := m.DeployAgent(ctx, deployInput("user-1"))
	if err != nil {
		t.Fatalf("deploy agent: %v", err)
	}

	const workers = 32
	addresses := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := m.DeployStrategy(ctx, DeployStrategyInput{
				AgentID:      agentReceipt.AgentID,
				CreatorID:    "creator-1",
				StrategyType: "grid",
				RiskLevel:    2,
				MaxGasBudget: 100_000,
			})
			if err != nil {
				errs[i] = err
				return
			}
			addresses[i] = created.ContractAddress
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int, workers)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("deploy strategy %d: %v", i, errs[i])
		}
		seen[addresses[i]]++
	}
	for address, count := range seen {
		if count != 1 {
			t.Fatalf("地址 %s 被派生了 %d 次", address, count)
		}
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct addresses, got %d", workers, len(seen))
	}
}

type blockingChainClient struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingChainClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}

func (c *blockingChainClient) SubmitDeployment(context.Context, string, []byte, uint64) (web3.SubmitResult, error) {
	close(c.entered)
	<-c.release
	return web3.SubmitResult{TxHash: "0xblocked", BlockSeq: 1}, nil
}

func (c *blockingChainClient) Close() {}

func TestDeployAgentDoesNotBlockStatsOnChainSubmit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := &blockingChainClient{entered: make(chan struct{}), release: make(chan struct{})}
	m, err := NewManager(Config{
		OwnerAddress:         testOwner,
		DeploymentFee:        1_000,
		MaxAgentsPerOwner:    5,
		AcceptingDeployments: true,
	}, NewMemoryStore(), registry.NewMemoryStore(), WithChainClient(client))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.DeployAgent(ctx, deployInput("user-1"))
		done <- err
	}()

	<-client.entered

	// 链上提交挂起期间，其余工厂操作不得被聚合锁卡住。
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		if _, err := m.Stats(ctx); err != nil {
			t.Errorf("stats: %v", err)
		}
	}()

	select {
	case <-statsDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stats blocked while chain submission was in flight")
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("deploy agent: %v", err)
	}
	receipt, err := m.Deployment(ctx, 1)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if receipt.TxHash != "0xblocked" {
		t.Fatalf("expected tx hash from chain client, got %q", receipt.TxHash)
	}
}
