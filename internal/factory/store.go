package factory

import "context"

// DeploymentStore 持久化部署回执。实现必须并发安全；回执一经写入不可修改。
type DeploymentStore interface {
	Save(ctx context.Context, result *DeploymentResult) error
	Get(ctx context.Context, deploymentID uint64) (*DeploymentResult, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*DeploymentResult, error)
	ListAll(ctx context.Context, limit int) ([]*DeploymentResult, error)
	// NextID 返回下一个单调递增的部署 ID。
	NextID(ctx context.Context) (uint64, error)
	Close() error
}
