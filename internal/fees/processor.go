package fees

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/observability/alerting"
	"AgentVault-Chain/pkg/logger"
)

// SettlementProcessor 从结算队列消费提现任务并驱动结算。
type SettlementProcessor struct {
	manager     *Manager
	consumer    Consumer
	workerCount int
	alerter     alerting.Dispatcher
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*SettlementProcessor)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *SettlementProcessor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *SettlementProcessor) {
		p.alerter = dispatcher
	}
}

// NewSettlementProcessor 构造结算处理器。
func NewSettlementProcessor(manager *Manager, consumer Consumer, opts ...ProcessorOption) *SettlementProcessor {
	p := &SettlementProcessor{
		manager:     manager,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("settlement"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动结算循环，直到上下文取消。
func (p *SettlementProcessor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置结算消费者")
	}
	if p.manager == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置费用管理器")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *SettlementProcessor) handle(ctx context.Context, payoutID string) error {
	payout, err := p.manager.ProcessPayout(ctx, payoutID)
	if err != nil {
		if stdErrors.Is(err, ErrPayoutNotFound) {
			p.logger.Debug("跳过未知提现任务", slog.String("payout_id", payoutID))
			return nil
		}
		if xerrors.CodeOf(err) == xerrors.CodeInvalidState {
			p.logger.Debug("提现已结算，跳过", slog.String("payout_id", payoutID))
			return nil
		}
		p.logger.Error("提现结算失败", slog.Any("error", err), slog.String("payout_id", payoutID))
		p.emitAlert(ctx, payoutID, err)
		return err
	}
	p.logger.Info("提现结算成功",
		slog.String("payout_id", payout.ID),
		slog.String("creator_id", payout.CreatorID),
		slog.Uint64("amount", payout.Amount),
	)
	return nil
}

func (p *SettlementProcessor) emitAlert(ctx context.Context, payoutID string, cause error) {
	if p == nil || p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       CodePayoutSettlement,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		Subject:    payoutID,
		Metadata:   map[string]string{"cause": cause.Error()},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("payout_id", payoutID),
		)
	}
}
