package fees

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentVault-Chain/internal/observability/alerting"
)

func TestSettlementProcessorCompletesPayout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	m := NewManager(ManagerConfig{CreatorShareBps: 7000, MinPayoutAmount: 10}, WithPayoutProducer(queue))
	processor := NewSettlementProcessor(m, queue, WithWorkerCount(2))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	if _, err := m.Record(ctx, FeeEvent{StrategyID: "s1", CreatorID: "c1", Amount: 1000}); err != nil {
		t.Fatalf("record: %v", err)
	}
	payout, err := m.RequestPayout(ctx, "c1", 500, "0xdest")
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		got, err := m.GetPayout(ctx, payout.ID)
		if err != nil {
			t.Fatalf("get payout: %v", err)
		}
		if got.Status == PayoutCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("提现未被及时结算: %+v", got)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if m.TotalPendingFees(ctx) != 0 {
		t.Fatalf("结算后仍有待结算余额: %d", m.TotalPendingFees(ctx))
	}
}

func TestSettlementProcessorSkipsUnknownPayout(t *testing.T) {
	m := NewManager(ManagerConfig{})
	processor := NewSettlementProcessor(m, NewMemoryQueue(1))

	// 未知提现任务不应返回错误，避免队列无限重投。
	if err := processor.handle(context.Background(), "missing"); err != nil {
		t.Fatalf("未知提现应被跳过: %v", err)
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func TestSettlementProcessorAlertsOnSettlementFailure(t *testing.T) {
	m := NewManager(ManagerConfig{})
	// 提现记录存在但余额账本缺失，结算必然失败。
	m.payouts["p1"] = &Payout{ID: "p1", CreatorID: "c1", Amount: 100, Status: PayoutPending}

	dispatcher := &recordingDispatcher{}
	processor := NewSettlementProcessor(m, NewMemoryQueue(1), WithAlertDispatcher(dispatcher))

	if err := processor.handle(context.Background(), "p1"); err == nil {
		t.Fatal("余额不一致时 handle 应返回错误")
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 1 {
		t.Fatalf("期望一条告警，实际 %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.Subject != "p1" {
		t.Fatalf("告警主体不正确: %s", event.Subject)
	}
	if event.Code != CodePayoutSettlement {
		t.Fatalf("告警错误码不正确: %s", event.Code)
	}
}
