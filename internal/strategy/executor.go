package strategy

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

// FeeRecorder 接收执行产生的费用事件，由费用管理器实现。
type FeeRecorder interface {
	RecordFee(ctx context.Context, strategyID, creatorID string, feeAmount uint64) error
}

// Backend 执行真正的交易动作。链上提交由外部客户端完成，这里只拿到
// 不透明的交易哈希与区块序号。
type Backend interface {
	ExecuteTrade(ctx context.Context, strategy *Strategy, amount uint64) (txHash string, blockSeq uint64, err error)
}

// NopBackend 不做任何链上动作，用于测试与离线模式。
type NopBackend struct{}

// ExecuteTrade 实现 Backend 接口。
func (NopBackend) ExecuteTrade(context.Context, *Strategy, uint64) (string, uint64, error) {
	return "", 0, nil
}

// ExecutorConfig 约束策略创建与执行。
type ExecutorConfig struct {
	MaxConcurrentExecutions int
	MaxRiskLevel            int
	MaxGasBudget            uint64
	ProtocolFeeBps          uint32
}

func (c *ExecutorConfig) applyDefaults() {
	if c.MaxConcurrentExecutions <= 0 {
		c.MaxConcurrentExecutions = 16
	}
	if c.MaxRiskLevel <= 0 {
		c.MaxRiskLevel = 5
	}
	if c.MaxGasBudget == 0 {
		c.MaxGasBudget = 10_000_000
	}
	if c.ProtocolFeeBps == 0 {
		c.ProtocolFeeBps = 100
	}
}

// Executor 管理策略生命周期，并对并发执行数实施全局上限。
type Executor struct {
	mu         sync.Mutex
	strategies map[string]*Strategy
	inflight   int
	config     ExecutorConfig
	backend    Backend
	fees       FeeRecorder
	logger     *slog.Logger

	totalExecutions uint64
	totalVolume     uint64
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithBackend 指定执行后端。
func WithBackend(backend Backend) ExecutorOption {
	return func(e *Executor) {
		if backend != nil {
			e.backend = backend
		}
	}
}

// WithFeeRecorder 指定费用记账器。
func WithFeeRecorder(fees FeeRecorder) ExecutorOption {
	return func(e *Executor) {
		e.fees = fees
	}
}

// NewExecutor 构造策略执行器。
func NewExecutor(config ExecutorConfig, opts ...ExecutorOption) *Executor {
	config.applyDefaults()
	e := &Executor{
		strategies: make(map[string]*Strategy),
		config:     config,
		backend:    NopBackend{},
		logger:     logger.Named("strategy"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// CreateInput 描述一次策略创建请求。
type CreateInput struct {
	AgentID         string
	CreatorID       string
	StrategyType    string
	Version         string
	RiskLevel       int
	MaxGasBudget    uint64
	ContractAddress string
	Parameters      map[string]any
}

// Create 校验风险等级与 gas 预算后登记策略，初始状态为 created。
func (e *Executor) Create(_ context.Context, input CreateInput) (*Strategy, error) {
	if strings.TrimSpace(input.AgentID) == "" {
		return nil, xerrors.New(CodeStrategyValidation, "代理 ID 不能为空")
	}
	if strings.TrimSpace(input.StrategyType) == "" {
		return nil, xerrors.New(CodeStrategyValidation, "策略类型不能为空")
	}
	if input.RiskLevel < 1 || input.RiskLevel > e.config.MaxRiskLevel {
		return nil, xerrors.New(CodeStrategyValidation, "风险等级超出允许范围")
	}
	if input.MaxGasBudget == 0 || input.MaxGasBudget > e.config.MaxGasBudget {
		return nil, xerrors.New(CodeStrategyValidation, "gas 预算超出允许范围")
	}

	now := time.Now().Unix()
	s := &Strategy{
		ID:              uuid.NewString(),
		AgentID:         input.AgentID,
		CreatorID:       input.CreatorID,
		StrategyType:    input.StrategyType,
		Version:         input.Version,
		RiskLevel:       input.RiskLevel,
		MaxGasBudget:    input.MaxGasBudget,
		ContractAddress: input.ContractAddress,
		Status:          StatusCreated,
		Parameters:      cloneParameters(input.Parameters),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	e.mu.Lock()
	e.strategies[s.ID] = s
	e.mu.Unlock()

	e.logger.Info("策略已登记",
		slog.String("strategy_id", s.ID),
		slog.String("agent_id", s.AgentID),
		slog.String("type", s.StrategyType),
	)
	return s.Clone(), nil
}

// Get 返回指定策略。
func (e *Executor) Get(_ context.Context, id string) (*Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[id]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	return s.Clone(), nil
}

// ListByAgent 返回指定代理下的全部策略。
func (e *Executor) ListByAgent(_ context.Context, agentID string) ([]*Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var results []*Strategy
	for _, s := range e.strategies {
		if s.AgentID == agentID {
			results = append(results, s.Clone())
		}
	}
	return results, nil
}

// Start 将 created/paused 状态的策略切换为 running。
func (e *Executor) Start(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	switch s.Status {
	case StatusCreated, StatusPaused:
		s.Status = StatusRunning
		s.UpdatedAt = time.Now().Unix()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Pause 将 running 状态的策略切换为 paused。
func (e *Executor) Pause(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	if s.Status != StatusRunning {
		return ErrInvalidTransition
	}
	s.Status = StatusPaused
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// Stop 在任意状态下都允许，进入终态。与 Execute 并发调用是安全的：
// 停止只影响后续执行请求，在途执行的计数仍会被正确归还。
func (e *Executor) Stop(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	s.Status = StatusStopped
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// Execute 是策略执行的工作单元。超出并发上限时立即返回背压错误，
// 不做排队，由调用方决定是否重试。
func (e *Executor) Execute(ctx context.Context, id string, amount uint64) (*ExecutionReport, error) {
	if amount == 0 {
		return nil, xerrors.New(CodeStrategyValidation, "执行金额必须大于 0")
	}

	e.mu.Lock()
	s, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrStrategyNotFound
	}
	if s.Status != StatusRunning {
		e.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if e.inflight >= e.config.MaxConcurrentExecutions {
		e.mu.Unlock()
		return nil, ErrBackpressure
	}
	e.inflight++
	snapshot := s.Clone()
	e.mu.Unlock()

	// 无论成功或失败，在途计数只归还一次。
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.mu.Unlock()
	}()

	txHash, blockSeq, err := e.backend.ExecuteTrade(ctx, snapshot, amount)
	if err != nil {
		return nil, xerrors.Wrap(CodeStrategyExecution, err, "策略执行失败")
	}

	feeAmount := amount * uint64(e.config.ProtocolFeeBps) / 10_000
	if e.fees != nil && feeAmount > 0 {
		if feeErr := e.fees.RecordFee(ctx, snapshot.ID, snapshot.CreatorID, feeAmount); feeErr != nil {
			e.logger.Error("费用记账失败",
				slog.Any("error", feeErr),
				slog.String("strategy_id", snapshot.ID),
			)
		}
	}

	e.mu.Lock()
	e.totalExecutions++
	e.totalVolume += amount
	e.mu.Unlock()

	report := &ExecutionReport{
		StrategyID:  snapshot.ID,
		Amount:      amount,
		FeeAmount:   feeAmount,
		TxHash:      txHash,
		BlockSeq:    blockSeq,
		CompletedAt: time.Now().Unix(),
	}
	logger.Audit().Info("策略执行完成",
		slog.String("strategy_id", snapshot.ID),
		slog.Uint64("amount", amount),
		slog.Uint64("fee", feeAmount),
	)
	return report, nil
}

// Inflight 返回当前在途执行数，用于健康上报。
func (e *Executor) Inflight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight
}

// Totals 返回累计执行次数与累计成交量。
func (e *Executor) Totals() (executions, volume uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalExecutions, e.totalVolume
}

// Count 返回已登记的策略数量。
func (e *Executor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.strategies)
}
