package strategy

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
)

type blockingBackend struct {
	release chan struct{}
	entered atomic.Int32
}

func (b *blockingBackend) ExecuteTrade(ctx context.Context, _ *Strategy, _ uint64) (string, uint64, error) {
	b.entered.Add(1)
	select {
	case <-b.release:
		return "0xhash", 1, nil
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

type failingBackend struct{}

func (failingBackend) ExecuteTrade(context.Context, *Strategy, uint64) (string, uint64, error) {
	return "", 0, stdErrors.New("trade rejected")
}

type captureFees struct {
	mu     sync.Mutex
	events []uint64
}

func (c *captureFees) RecordFee(_ context.Context, _, _ string, feeAmount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, feeAmount)
	return nil
}

func mustCreateRunning(t *testing.T, e *Executor) *Strategy {
	t.Helper()
	ctx := context.Background()
	s, err := e.Create(ctx, CreateInput{
		AgentID:      "a1",
		CreatorID:    "creator-1",
		StrategyType: "grid",
		RiskLevel:    2,
		MaxGasBudget: 1_000_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Start(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestCreateValidatesBounds(t *testing.T) {
	e := NewExecutor(ExecutorConfig{MaxRiskLevel: 3, MaxGasBudget: 1000})
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"风险等级过高", CreateInput{AgentID: "a1", StrategyType: "grid", RiskLevel: 4, MaxGasBudget: 500}},
		{"风险等级为零", CreateInput{AgentID: "a1", StrategyType: "grid", RiskLevel: 0, MaxGasBudget: 500}},
		{"gas 预算过高", CreateInput{AgentID: "a1", StrategyType: "grid", RiskLevel: 1, MaxGasBudget: 2000}},
		{"缺少代理", CreateInput{StrategyType: "grid", RiskLevel: 1, MaxGasBudget: 500}},
	}
	for _, tc := range cases {
		if _, err := e.Create(ctx, tc.input); xerrors.CodeOf(err) != CodeStrategyValidation {
			t.Fatalf("%s: 期望校验错误，实际 %v", tc.name, err)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})
	ctx := context.Background()
	s := mustCreateRunning(t, e)

	if err := e.Pause(ctx, s.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := e.Pause(ctx, s.ID); !stdErrors.Is(err, ErrInvalidTransition) {
		t.Fatalf("重复暂停应报非法转换: %v", err)
	}
	if err := e.Start(ctx, s.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := e.Stop(ctx, s.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// 终态后不可重启。
	if err := e.Start(ctx, s.ID); !stdErrors.Is(err, ErrInvalidTransition) {
		t.Fatalf("终态重启应报非法转换: %v", err)
	}
	// 停止操作本身总是允许的。
	if err := e.Stop(ctx, s.ID); err != nil {
		t.Fatalf("重复停止: %v", err)
	}
}

func TestExecuteBackpressure(t *testing.T) {
	const ceiling = 4
	backend := &blockingBackend{release: make(chan struct{})}
	e := NewExecutor(ExecutorConfig{MaxConcurrentExecutions: ceiling}, WithBackend(backend))
	s := mustCreateRunning(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var backpressured atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < ceiling+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(ctx, s.ID, 100)
			if stdErrors.Is(err, ErrBackpressure) {
				backpressured.Add(1)
			} else if err != nil {
				t.Errorf("execute: %v", err)
			}
		}()
	}

	// 等待上限数量的执行进入后端。
	deadline := time.After(3 * time.Second)
	for backend.entered.Load() < ceiling {
		select {
		case <-deadline:
			t.Fatalf("后端进入数不足: %d", backend.entered.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := e.Inflight(); got > ceiling {
		t.Fatalf("在途执行数超过上限: %d", got)
	}
	close(backend.release)
	wg.Wait()

	if backpressured.Load() < 1 {
		t.Fatal("超额请求未收到背压错误")
	}
	if e.Inflight() != 0 {
		t.Fatalf("执行结束后在途计数未归零: %d", e.Inflight())
	}
}

func TestExecuteDecrementsOnFailure(t *testing.T) {
	e := NewExecutor(ExecutorConfig{MaxConcurrentExecutions: 2}, WithBackend(failingBackend{}))
	s := mustCreateRunning(t, e)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := e.Execute(ctx, s.ID, 100); xerrors.CodeOf(err) != CodeStrategyExecution {
			t.Fatalf("期望执行失败错误: %v", err)
		}
	}
	if e.Inflight() != 0 {
		t.Fatalf("失败路径未归还在途计数: %d", e.Inflight())
	}
}

func TestExecuteRecordsFee(t *testing.T) {
	fees := &captureFees{}
	// 250 bps = 2.5%。
	e := NewExecutor(ExecutorConfig{ProtocolFeeBps: 250}, WithFeeRecorder(fees))
	s := mustCreateRunning(t, e)

	report, err := e.Execute(context.Background(), s.ID, 10_000)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.FeeAmount != 250 {
		t.Fatalf("费用计算错误: %d", report.FeeAmount)
	}
	if len(fees.events) != 1 || fees.events[0] != 250 {
		t.Fatalf("费用事件未送达: %+v", fees.events)
	}

	executions, volume := e.Totals()
	if executions != 1 || volume != 10_000 {
		t.Fatalf("累计统计错误: executions=%d volume=%d", executions, volume)
	}
}

func TestExecuteRequiresRunning(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})
	ctx := context.Background()
	s, err := e.Create(ctx, CreateInput{AgentID: "a1", StrategyType: "grid", RiskLevel: 1, MaxGasBudget: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Execute(ctx, s.ID, 100); !stdErrors.Is(err, ErrInvalidTransition) {
		t.Fatalf("created 状态执行应报非法转换: %v", err)
	}
	if _, err := e.Execute(ctx, "missing", 100); !stdErrors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("未知策略应报不存在: %v", err)
	}
}

func TestStopDuringExecute(t *testing.T) {
	backend := &blockingBackend{release: make(chan struct{})}
	e := NewExecutor(ExecutorConfig{MaxConcurrentExecutions: 2}, WithBackend(backend))
	s := mustCreateRunning(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, s.ID, 100)
		done <- err
	}()

	deadline := time.After(3 * time.Second)
	for backend.entered.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("执行未进入后端")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// 在途执行期间停止策略不能破坏计数。
	if err := e.Stop(ctx, s.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("在途执行应正常完成: %v", err)
	}
	if e.Inflight() != 0 {
		t.Fatalf("在途计数未归零: %d", e.Inflight())
	}
}
