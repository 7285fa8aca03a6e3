package fees

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "AgentVault-Chain/internal/errors"
)

func TestRecordSplitsFee(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 10})
	ctx := context.Background()

	record, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 100})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.CreatorShare != 70 || record.PlatformShare != 30 {
		t.Fatalf("拆分错误: creator=%d platform=%d", record.CreatorShare, record.PlatformShare)
	}

	balance, err := m.Balance(ctx, "c1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Available != 70 || balance.Lifetime != 70 {
		t.Fatalf("余额错误: %+v", balance)
	}
	if m.PlatformTotal() != 30 || m.FeesCollected() != 100 {
		t.Fatalf("平台累计错误: platform=%d collected=%d", m.PlatformTotal(), m.FeesCollected())
	}
}

func TestRecordRoundingRemainderToPlatform(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 10})
	ctx := context.Background()

	// 101 * 70% = 70.7，向下取整 70，余数 31 归平台。
	record, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 101})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.CreatorShare != 70 || record.PlatformShare != 31 {
		t.Fatalf("取整策略错误: creator=%d platform=%d", record.CreatorShare, record.PlatformShare)
	}
	if record.CreatorShare+record.PlatformShare != record.Amount {
		t.Fatalf("份额之和不等于原始金额: %+v", record)
	}
}

func TestRecordShareSumInvariant(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 3333, MinPayoutAmount: 10})
	ctx := context.Background()

	for _, amount := range []uint64{1, 3, 7, 99, 10_000, 123_456_789} {
		record, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: amount})
		if err != nil {
			t.Fatalf("record %d: %v", amount, err)
		}
		if record.CreatorShare+record.PlatformShare != amount {
			t.Fatalf("金额 %d 的份额之和不守恒: %+v", amount, record)
		}
	}
}

func TestRequestPayoutValidation(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 100})
	ctx := context.Background()

	if _, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 200}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// 入账后可用余额为 140。

	if _, err := m.RequestPayout(ctx, "c1", 50, "0xdest"); !stdErrors.Is(err, ErrBelowThreshold) {
		t.Fatalf("低于限额应报错: %v", err)
	}
	if _, err := m.RequestPayout(ctx, "c1", 500, "0xdest"); !stdErrors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("超出余额应报错: %v", err)
	}
	if _, err := m.RequestPayout(ctx, "unknown", 100, "0xdest"); !stdErrors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("未知创作者应报余额不足: %v", err)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 10})
	ctx := context.Background()

	if _, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 1000}); err != nil {
		t.Fatalf("record: %v", err)
	}

	payout, err := m.RequestPayout(ctx, "c1", 500, "0xdest")
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if payout.Status != PayoutPending {
		t.Fatalf("初始状态应为 pending: %s", payout.Status)
	}

	balance, _ := m.Balance(ctx, "c1")
	if balance.Available != 200 || balance.Pending != 500 {
		t.Fatalf("余额迁移错误: %+v", balance)
	}
	if m.TotalPendingFees(ctx) != 500 {
		t.Fatalf("待结算汇总错误: %d", m.TotalPendingFees(ctx))
	}

	completed, err := m.ProcessPayout(ctx, payout.ID)
	if err != nil {
		t.Fatalf("process payout: %v", err)
	}
	if completed.Status != PayoutCompleted || completed.CompletedAt == 0 {
		t.Fatalf("结算状态错误: %+v", completed)
	}

	balance, _ = m.Balance(ctx, "c1")
	if balance.Pending != 0 || balance.LastPayoutAt == 0 {
		t.Fatalf("结算后余额错误: %+v", balance)
	}

	// 重复结算报非法状态。
	if _, err := m.ProcessPayout(ctx, payout.ID); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("重复结算应报非法状态: %v", err)
	}
	if _, err := m.ProcessPayout(ctx, "missing"); !stdErrors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("未知提现应报不存在: %v", err)
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return stdErrors.New("broker down")
}

func (failingProducer) Close() error { return nil }

func TestRequestPayoutRollsBackOnPublishFailure(t *testing.T) {
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 10}, WithPayoutProducer(failingProducer{}))
	ctx := context.Background()

	if _, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 1000}); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, err := m.RequestPayout(ctx, "c1", 500, "0xdest")
	if xerrors.CodeOf(err) != CodePayoutPublish {
		t.Fatalf("入队失败应报发布错误: %v", err)
	}

	// 失败后余额完整回滚，不留部分状态。
	balance, _ := m.Balance(ctx, "c1")
	if balance.Available != 700 || balance.Pending != 0 {
		t.Fatalf("回滚失败: %+v", balance)
	}
}
