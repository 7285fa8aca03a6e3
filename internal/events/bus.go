package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AgentVault-Chain/pkg/logger"
)

// Name 标识事件类型。
type Name string

// 工厂对外广播的事件。
const (
	AgentDeployed      Name = "agent.deployed"
	StrategyDeployed   Name = "strategy.deployed"
	UpgradeProposed    Name = "upgrade.proposed"
	UpgradeExecuted    Name = "upgrade.executed"
	EmergencyTriggered Name = "emergency.triggered"
	EmergencyResolved  Name = "emergency.resolved"
)

// Event 是广播给订阅者的消息。
type Event struct {
	Name       Name
	OccurredAt time.Time
	Data       any
}

// AgentDeployedData 是 agent.deployed 事件的负载。
type AgentDeployedData struct {
	DeploymentID    uint64
	AgentID         string
	OwnerID         string
	ContractAddress string
	WalletMode      string
	FeePaid         uint64
}

// StrategyDeployedData 是 strategy.deployed 事件的负载。
type StrategyDeployedData struct {
	StrategyID      string
	AgentID         string
	StrategyType    string
	ContractAddress string
}

// UpgradeProposedData 是 upgrade.proposed 事件的负载。
type UpgradeProposedData struct {
	ProposalID     string
	Proposer       string
	TargetContract string
	UpgradeType    string
}

// UpgradeExecutedData 是 upgrade.executed 事件的负载。
type UpgradeExecutedData struct {
	ProposalID     string
	TargetContract string
	NewCodeHash    string
	Approvers      []string
}

// EmergencyData 是紧急状态变更事件的负载。
type EmergencyData struct {
	Reason         string
	TriggeredBy    string
	AffectedAgents []string
}

// Subscriber 处理来自总线的事件。回调在触发操作的协程内同步执行，
// 单个订阅者的失败或 panic 不会影响其他订阅者，也不会中断触发操作。
type Subscriber func(event Event) error

// Bus 实现同步的进程内事件分发，每个订阅者最多收到一次。
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	logger      *slog.Logger
}

// NewBus 创建事件总线。
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]Subscriber),
		logger:      logger.Named("events"),
	}
}

// Subscribe 以指定标识注册订阅者，重复标识会覆盖旧订阅。
func (b *Bus) Subscribe(id string, subscriber Subscriber) {
	if b == nil || id == "" || subscriber == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[id] = subscriber
	b.mu.Unlock()
}

// Unsubscribe 取消指定订阅者。
func (b *Bus) Unsubscribe(id string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Publish 将事件同步分发给全部订阅者。
func (b *Bus) Publish(name Name, data any) {
	if b == nil {
		return
	}
	event := Event{Name: name, OccurredAt: time.Now(), Data: data}

	b.mu.RLock()
	targets := make(map[string]Subscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		targets[id] = sub
	}
	b.mu.RUnlock()

	for id, sub := range targets {
		b.deliver(id, sub, event)
	}
}

// deliver 在独立的错误边界内调用订阅者。
func (b *Bus) deliver(id string, sub Subscriber, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("订阅者 panic",
				slog.String("subscriber", id),
				slog.String("event", string(event.Name)),
				slog.String("panic", fmt.Sprint(recovered)),
			)
		}
	}()
	if err := sub(event); err != nil {
		b.logger.Warn("订阅者处理事件失败",
			slog.String("subscriber", id),
			slog.String("event", string(event.Name)),
			slog.Any("error", err),
		)
	}
}
