package fees

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/pkg/logger"
)

// ManagerConfig 约束费用拆分与提现规则。
type ManagerConfig struct {
	// CreatorShareBps 是创作者分成比例，基点计。7000 表示 70%。
	CreatorShareBps uint32
	// MinPayoutAmount 是单次提现的最小金额。
	MinPayoutAmount uint64
}

func (c *ManagerConfig) applyDefaults() {
	if c.CreatorShareBps == 0 || c.CreatorShareBps > 10_000 {
		c.CreatorShareBps = 7000
	}
	if c.MinPayoutAmount == 0 {
		c.MinPayoutAmount = 1000
	}
}

// Manager 负责费用的累计、拆分与提现结算。
// 拆分采用整数向下取整：创作者份额先算，余数全部归平台，
// 保证两份之和恒等于原始金额。
type Manager struct {
	mu       sync.Mutex
	config   ManagerConfig
	balances map[string]*CreatorBalance
	payouts  map[string]*Payout
	records  []FeeRecord
	producer Producer
	logger   *slog.Logger

	platformTotal uint64
	feesCollected uint64
}

// ManagerOption 定义可选配置。
type ManagerOption func(*Manager)

// WithPayoutProducer 指定提现结算队列的生产者。
func WithPayoutProducer(producer Producer) ManagerOption {
	return func(m *Manager) {
		m.producer = producer
	}
}

// NewManager 构造费用管理器。
func NewManager(config ManagerConfig, opts ...ManagerOption) *Manager {
	config.applyDefaults()
	m := &Manager{
		config:   config,
		balances: make(map[string]*CreatorBalance),
		payouts:  make(map[string]*Payout),
		logger:   logger.Named("fees"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Record 按配置的分成比例拆分费用并入账。
func (m *Manager) Record(_ context.Context, event FeeEvent) (*FeeRecord, error) {
	if strings.TrimSpace(event.CreatorID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "创作者 ID 不能为空")
	}
	if event.Amount == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "费用金额必须大于 0")
	}

	creatorShare := event.Amount * uint64(m.config.CreatorShareBps) / 10_000
	platformShare := event.Amount - creatorShare

	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[event.CreatorID]
	if balance == nil {
		balance = &CreatorBalance{CreatorID: event.CreatorID}
		m.balances[event.CreatorID] = balance
	}
	balance.Available += creatorShare
	balance.Lifetime += creatorShare
	m.platformTotal += platformShare
	m.feesCollected += event.Amount

	record := FeeRecord{
		StrategyID:    event.StrategyID,
		CreatorID:     event.CreatorID,
		Amount:        event.Amount,
		CreatorShare:  creatorShare,
		PlatformShare: platformShare,
		RecordedAt:    time.Now().Unix(),
	}
	m.records = append(m.records, record)
	return &record, nil
}

// RecordFee 实现 strategy.FeeRecorder。
func (m *Manager) RecordFee(ctx context.Context, strategyID, creatorID string, feeAmount uint64) error {
	_, err := m.Record(ctx, FeeEvent{StrategyID: strategyID, CreatorID: creatorID, Amount: feeAmount})
	return err
}

// RequestPayout 将可用余额转入待结算，并投递结算任务。
func (m *Manager) RequestPayout(ctx context.Context, creatorID string, amount uint64, destination string) (*Payout, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "创作者 ID 不能为空")
	}
	if strings.TrimSpace(destination) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提现目标地址不能为空")
	}
	if amount < m.config.MinPayoutAmount {
		return nil, ErrBelowThreshold
	}

	m.mu.Lock()
	balance := m.balances[creatorID]
	if balance == nil || balance.Available < amount {
		m.mu.Unlock()
		return nil, ErrInsufficientBalance
	}
	balance.Available -= amount
	balance.Pending += amount

	payout := &Payout{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		Amount:      amount,
		Destination: destination,
		Status:      PayoutPending,
		RequestedAt: time.Now().Unix(),
	}
	m.payouts[payout.ID] = payout
	snapshot := *payout
	m.mu.Unlock()

	if m.producer != nil {
		if err := m.producer.Publish(ctx, payout.ID); err != nil {
			// 投递失败回滚余额，提现记录不落地。
			m.mu.Lock()
			balance.Pending -= amount
			balance.Available += amount
			delete(m.payouts, payout.ID)
			m.mu.Unlock()
			return nil, xerrors.Wrap(CodePayoutPublish, err, "提现任务入队失败")
		}
	}

	logger.Audit().Info("提现请求已受理",
		slog.String("payout_id", snapshot.ID),
		slog.String("creator_id", creatorID),
		slog.Uint64("amount", amount),
	)
	return &snapshot, nil
}

// ProcessPayout 将 pending 状态的提现结算为 completed 并扣减待结算余额。
func (m *Manager) ProcessPayout(_ context.Context, payoutID string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payout, ok := m.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if payout.Status != PayoutPending {
		return nil, xerrors.New(xerrors.CodeInvalidState, "提现请求不在 pending 状态")
	}

	balance := m.balances[payout.CreatorID]
	if balance == nil || balance.Pending < payout.Amount {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "待结算余额与提现记录不一致")
	}

	now := time.Now().Unix()
	balance.Pending -= payout.Amount
	balance.LastPayoutAt = now
	payout.Status = PayoutCompleted
	payout.CompletedAt = now

	logger.Audit().Info("提现结算完成",
		slog.String("payout_id", payout.ID),
		slog.String("creator_id", payout.CreatorID),
		slog.Uint64("amount", payout.Amount),
	)
	snapshot := *payout
	return &snapshot, nil
}

// GetPayout 返回指定提现记录。
func (m *Manager) GetPayout(_ context.Context, payoutID string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payout, ok := m.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	snapshot := *payout
	return &snapshot, nil
}

// Balance 返回指定创作者的余额快照。
func (m *Manager) Balance(_ context.Context, creatorID string) (*CreatorBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[creatorID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "创作者账户不存在: "+creatorID)
	}
	snapshot := *balance
	return &snapshot, nil
}

// TotalPendingFees 汇总全部创作者的待结算余额。
func (m *Manager) TotalPendingFees(_ context.Context) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, balance := range m.balances {
		total += balance.Pending
	}
	return total
}

// PlatformTotal 返回平台累计分成。
func (m *Manager) PlatformTotal() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.platformTotal
}

// FeesCollected 返回累计入账的费用总额。
func (m *Manager) FeesCollected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feesCollected
}
