package factory

import (
	"context"
	"sort"
	"sync"

	xerrors "AgentVault-Chain/internal/errors"
)

// MemoryStore 是基于内存的部署回执存储，适合测试与单机部署。
type MemoryStore struct {
	mu          sync.RWMutex
	deployments map[uint64]*DeploymentResult
	byOwner     map[string][]uint64
	nextID      uint64
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deployments: make(map[uint64]*DeploymentResult),
		byOwner:     make(map[string][]uint64),
	}
}

// NextID 返回下一个部署 ID。
func (s *MemoryStore) NextID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// Save 写入部署回执。重复的部署 ID 视为冲突。
func (s *MemoryStore) Save(_ context.Context, result *DeploymentResult) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "部署回执不能为空")
	}
	if result.DeploymentID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "部署 ID 不能为 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deployments[result.DeploymentID]; exists {
		return xerrors.New(xerrors.CodeConflict, "部署 ID 已存在")
	}
	s.deployments[result.DeploymentID] = result.Clone()
	s.byOwner[result.OwnerID] = append(s.byOwner[result.OwnerID], result.DeploymentID)
	return nil
}

// Get 返回指定的部署回执。
func (s *MemoryStore) Get(_ context.Context, deploymentID uint64) (*DeploymentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.deployments[deploymentID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "部署记录不存在")
	}
	return result.Clone(), nil
}

// ListByOwner 返回指定所有者的全部部署回执，按部署 ID 升序。
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*DeploymentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[ownerID]
	results := make([]*DeploymentResult, 0, len(ids))
	for _, id := range ids {
		if result, ok := s.deployments[id]; ok {
			results = append(results, result.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DeploymentID < results[j].DeploymentID
	})
	return results, nil
}

// ListAll 返回最近的部署回执，按部署 ID 降序。
func (s *MemoryStore) ListAll(_ context.Context, limit int) ([]*DeploymentResult, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*DeploymentResult, 0, len(s.deployments))
	for _, result := range s.deployments {
		results = append(results, result.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DeploymentID > results[j].DeploymentID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 实现 DeploymentStore 接口。
func (s *MemoryStore) Close() error {
	return nil
}

var _ DeploymentStore = (*MemoryStore)(nil)
