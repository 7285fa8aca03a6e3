package registry

import (
	"context"

	xerrors "AgentVault-Chain/internal/errors"
)

// Agent 是注册表中的一条代理档案。
type Agent struct {
	AgentID         string            `json:"agent_id"`
	OwnerAddress    string            `json:"owner_address"`
	ContractAddress string            `json:"contract_address"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Active          bool              `json:"active"`
	RegisteredAt    int64             `json:"registered_at"`
	UpdatedAt       int64             `json:"updated_at"`
}

// Clone 返回档案副本。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Metadata != nil {
		clone.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

var (
	// ErrAgentNotFound 表示指定的代理不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
)

const (
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Store 抽象代理注册表的持久化接口。实现必须并发安全。
type Store interface {
	// Register 登记代理。对同一 agent id 幂等：重复登记只更新元数据，不产生重复记录。
	Register(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, agentID string) (*Agent, error)
	List(ctx context.Context, limit int) ([]*Agent, error)
	// Deactivate 仅翻转活跃标记，保留历史记录以便审计。
	Deactivate(ctx context.Context, agentID string) error
	ActiveCount(ctx context.Context) (int, error)
	Close() error
}
