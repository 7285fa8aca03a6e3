package fees

import (
	"context"
)

// Handler 处理来自结算队列的提现 ID。
type Handler func(ctx context.Context, payoutID string) error

// Producer 负责向结算队列投递提现任务。
type Producer interface {
	Publish(ctx context.Context, payoutID string) error
	Close() error
}

// Consumer 负责从结算队列中消费提现任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
