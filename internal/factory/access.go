package factory

import (
	"log/slog"
	"strings"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/pkg/logger"
)

// GrantRole 为地址写入角色与权限集。授权人需要 grant 权限。
// 访问表是平铺的，不做角色继承；重复授权会覆盖旧记录。
func (m *Manager) GrantRole(granter, address, role string, permissions []Permission) (*AccessEntry, error) {
	if strings.TrimSpace(address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "被授权地址不能为空")
	}
	if len(permissions) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "权限集不能为空")
	}
	if !m.HasPermission(granter, PermissionGrant) {
		return nil, ErrPermissionDenied
	}

	entry := &AccessEntry{
		Address:     address,
		Role:        role,
		Permissions: append([]Permission(nil), permissions...),
		GrantedBy:   granter,
		GrantedAt:   time.Now().Unix(),
	}

	m.mu.Lock()
	m.access[address] = entry
	snapshot := entry.Clone()
	m.mu.Unlock()

	logger.Audit().Info("角色已授予",
		slog.String("address", address),
		slog.String("role", role),
		slog.String("granted_by", granter),
	)
	return snapshot, nil
}

// RevokeRole 撤销地址的访问记录。所有者地址不可撤销。
func (m *Manager) RevokeRole(revoker, address string) error {
	if !m.HasPermission(revoker, PermissionGrant) {
		return ErrPermissionDenied
	}

	m.mu.Lock()
	if address == m.config.OwnerAddress {
		m.mu.Unlock()
		return xerrors.New(xerrors.CodeInvalidState, "不能撤销所有者的访问权限")
	}
	if _, ok := m.access[address]; !ok {
		m.mu.Unlock()
		return xerrors.New(xerrors.CodeNotFound, "访问记录不存在")
	}
	delete(m.access, address)
	m.mu.Unlock()

	logger.Audit().Info("角色已撤销",
		slog.String("address", address),
		slog.String("revoked_by", revoker),
	)
	return nil
}

// HasPermission 做集合成员检查，未登记的地址没有任何权限。
func (m *Manager) HasPermission(address string, permission Permission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.access[address]
	if !ok {
		return false
	}
	for _, p := range entry.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// AccessEntryOf 返回地址对应的访问记录。
func (m *Manager) AccessEntryOf(address string) (*AccessEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.access[address]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "访问记录不存在")
	}
	return entry.Clone(), nil
}
