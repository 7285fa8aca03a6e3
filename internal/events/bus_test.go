package events

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var first, second atomic.Int32
	bus.Subscribe("first", func(event Event) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe("second", func(event Event) error {
		second.Add(1)
		return nil
	})

	bus.Publish(AgentDeployed, AgentDeployedData{AgentID: "a1"})

	if first.Load() != 1 || second.Load() != 1 {
		t.Fatalf("事件未送达全部订阅者: first=%d second=%d", first.Load(), second.Load())
	}
}

func TestBusIsolatesFailingSubscriber(t *testing.T) {
	bus := NewBus()

	var delivered atomic.Int32
	bus.Subscribe("panics", func(event Event) error {
		panic("boom")
	})
	bus.Subscribe("errors", func(event Event) error {
		return errors.New("notify failed")
	})
	bus.Subscribe("healthy", func(event Event) error {
		delivered.Add(1)
		return nil
	})

	bus.Publish(EmergencyTriggered, EmergencyData{Reason: "test"})

	if delivered.Load() != 1 {
		t.Fatalf("健康订阅者未收到事件: %d", delivered.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	var delivered atomic.Int32
	bus.Subscribe("temp", func(event Event) error {
		delivered.Add(1)
		return nil
	})
	bus.Unsubscribe("temp")

	bus.Publish(UpgradeExecuted, UpgradeExecutedData{ProposalID: "p1"})

	if delivered.Load() != 0 {
		t.Fatalf("取消订阅后仍收到事件: %d", delivered.Load())
	}
}

func TestBusEventTimestamped(t *testing.T) {
	bus := NewBus()

	done := make(chan Event, 1)
	bus.Subscribe("probe", func(event Event) error {
		done <- event
		return nil
	})
	bus.Publish(StrategyDeployed, StrategyDeployedData{StrategyID: "s1"})

	event := <-done
	if event.Name != StrategyDeployed {
		t.Fatalf("事件名错误: %s", event.Name)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("事件缺少时间戳")
	}
}
