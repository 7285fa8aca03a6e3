package factory

import (
	"log/slog"
	"strings"
	"time"

	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/observability/metrics"
	"AgentVault-Chain/pkg/logger"
)

// TriggerEmergency 进入紧急暂停。暂停期间所有部署操作都会被拒绝。
// 受影响代理列表为空表示波及全部代理。
func (m *Manager) TriggerEmergency(reason, triggeredBy string, affectedAgents []string) (EmergencyState, error) {
	if strings.TrimSpace(reason) == "" {
		return EmergencyState{}, xerrors.New(xerrors.CodeInvalidArgument, "紧急原因不能为空")
	}
	if !m.HasPermission(triggeredBy, PermissionEmergency) {
		return EmergencyState{}, ErrPermissionDenied
	}

	m.mu.Lock()
	if m.emergency.Paused {
		m.mu.Unlock()
		return EmergencyState{}, xerrors.New(xerrors.CodeInvalidState, "工厂已处于紧急暂停状态")
	}
	m.emergency = EmergencyState{
		Paused:         true,
		Reason:         reason,
		TriggeredBy:    triggeredBy,
		PausedAt:       time.Now().Unix(),
		AffectedAgents: append([]string(nil), affectedAgents...),
	}
	snapshot := m.emergency.Clone()
	m.mu.Unlock()

	metrics.IncrCounter(metrics.CounterEmergencyTriggers)
	m.bus.Publish(events.EmergencyTriggered, events.EmergencyData{
		Reason:         snapshot.Reason,
		TriggeredBy:    snapshot.TriggeredBy,
		AffectedAgents: snapshot.AffectedAgents,
	})
	logger.Audit().Info("已触发紧急暂停",
		slog.String("reason", snapshot.Reason),
		slog.String("triggered_by", snapshot.TriggeredBy),
		slog.Int("affected_agents", len(snapshot.AffectedAgents)),
	)
	return snapshot, nil
}

// ResolveEmergency 解除紧急暂停。未处于暂停状态时返回状态错误。
func (m *Manager) ResolveEmergency(resolvedBy string) error {
	if !m.HasPermission(resolvedBy, PermissionEmergency) {
		return ErrPermissionDenied
	}

	m.mu.Lock()
	if !m.emergency.Paused {
		m.mu.Unlock()
		return xerrors.New(xerrors.CodeInvalidState, "工厂未处于紧急暂停状态")
	}
	resolved := m.emergency.Clone()
	m.emergency = EmergencyState{}
	m.mu.Unlock()

	m.bus.Publish(events.EmergencyResolved, events.EmergencyData{
		Reason:         resolved.Reason,
		TriggeredBy:    resolvedBy,
		AffectedAgents: resolved.AffectedAgents,
	})
	logger.Audit().Info("紧急暂停已解除",
		slog.String("resolved_by", resolvedBy),
		slog.String("original_reason", resolved.Reason),
	)
	return nil
}

// Emergency 返回当前紧急状态快照。
func (m *Manager) Emergency() EmergencyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency.Clone()
}
