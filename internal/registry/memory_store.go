package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
)

// MemoryStore 以内存方式保存代理档案，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Register 实现 Store 接口。
func (m *MemoryStore) Register(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	if strings.TrimSpace(agent.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "代理 ID 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.agents[agent.AgentID]; ok {
		// 幂等重登记：仅合并元数据，保留首次注册信息。
		if agent.Metadata != nil {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]string, len(agent.Metadata))
			}
			for k, v := range agent.Metadata {
				existing.Metadata[k] = v
			}
		}
		existing.UpdatedAt = now
		return nil
	}

	clone := agent.Clone()
	clone.Active = true
	if clone.RegisteredAt == 0 {
		clone.RegisteredAt = now
	}
	clone.UpdatedAt = now
	m.agents[clone.AgentID] = clone
	return nil
}

// Get 返回指定代理档案。
func (m *MemoryStore) Get(_ context.Context, agentID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.Clone(), nil
}

// List 按注册时间倒序返回代理档案。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	results := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		results = append(results, agent.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RegisteredAt == results[j].RegisteredAt {
			return results[i].AgentID < results[j].AgentID
		}
		return results[i].RegisteredAt > results[j].RegisteredAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Deactivate 翻转活跃标记。
func (m *MemoryStore) Deactivate(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Active = false
	agent.UpdatedAt = time.Now().Unix()
	return nil
}

// ActiveCount 返回活跃代理数量。
func (m *MemoryStore) ActiveCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, agent := range m.agents {
		if agent.Active {
			count++
		}
	}
	return count, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
