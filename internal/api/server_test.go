package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentVault-Chain/internal/factory"
	"AgentVault-Chain/internal/registry"
)

const testOwner = "0:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	manager, err := factory.NewManager(factory.Config{
		OwnerAddress:         testOwner,
		TreasuryAddress:      "0:" + repeatHex("b"),
		DeploymentFee:        1000,
		AcceptingDeployments: true,
	}, factory.NewMemoryStore(), registry.NewMemoryStore())
	if err != nil {
		t.Fatalf("构造工厂失败: %v", err)
	}
	return NewServer(":0", manager, nil)
}

func repeatHex(ch string) string {
	return strings.Repeat(ch, 64)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDeployAgentEndpoint(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/agents", map[string]any{
		"owner_id":      "user-1",
		"owner_address": testOwner,
		"wallet_mode":   "non_custodial",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("意外的状态码: got %d want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var result factory.DeploymentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if result.DeploymentID == 0 {
		t.Fatal("部署 ID 不应为零")
	}
	if result.FeePaid != 1000 {
		t.Fatalf("意外的部署费: got %d want 1000", result.FeePaid)
	}

	detail := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/deployments/%d", result.DeploymentID), nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("查询部署回执失败: %d", detail.Code)
	}
}

func TestDeployAgentEndpointValidation(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/agents", map[string]any{
		"owner_address": testOwner,
		"wallet_mode":   "non_custodial",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少 owner_id 应返回 400, got %d", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("解码错误响应失败: %v", err)
	}
	if payload["code"] == "" {
		t.Fatal("错误响应应携带错误码")
	}
}

func TestDeployStrategyEndpoint(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/agents", map[string]any{
		"owner_id":      "user-1",
		"owner_address": testOwner,
		"wallet_mode":   "non_custodial",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("部署代理失败: %d", rec.Code)
	}
	var agent factory.DeploymentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &agent); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}

	created := doJSON(t, handler, http.MethodPost, "/api/v1/agents/"+agent.AgentID+"/strategies", map[string]any{
		"creator_id":     "creator-1",
		"strategy_type":  "grid",
		"version":        "v1",
		"risk_level":     2,
		"max_gas_budget": 100000,
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("部署策略失败: %d, body %s", created.Code, created.Body.String())
	}

	missing := doJSON(t, handler, http.MethodPost, "/api/v1/agents/no-such-agent/strategies", map[string]any{
		"creator_id":     "creator-1",
		"strategy_type":  "grid",
		"version":        "v1",
		"risk_level":     2,
		"max_gas_budget": 100000,
	})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("缺失代理应返回 404, got %d", missing.Code)
	}
}

func TestListDeploymentsByOwner(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/agents", map[string]any{
			"owner_id":      "user-1",
			"owner_address": testOwner,
			"wallet_mode":   "non_custodial",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("部署代理失败: %d", rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/deployments?owner=user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("按所有者查询失败: %d", rec.Code)
	}
	var results []*factory.DeploymentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("意外的回执数量: got %d want 2", len(results))
	}

	empty := doJSON(t, handler, http.MethodGet, "/api/v1/deployments?owner=user-9", nil)
	if empty.Code != http.StatusOK {
		t.Fatalf("空查询也应返回 200, got %d", empty.Code)
	}
}

func TestGovernanceEndpoints(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/upgrades", map[string]any{
		"proposer":        testOwner,
		"target_contract": "0:" + repeatHex("c"),
		"upgrade_type":    "code",
		"new_code_hash":   repeatHex("d"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("提案失败: %d, body %s", rec.Code, rec.Body.String())
	}
	var proposal factory.UpgradeProposal
	if err := json.Unmarshal(rec.Body.Bytes(), &proposal); err != nil {
		t.Fatalf("解码提案失败: %v", err)
	}

	stranger := doJSON(t, handler, http.MethodPost, "/api/v1/upgrades", map[string]any{
		"proposer":        "0:" + repeatHex("e"),
		"target_contract": "0:" + repeatHex("c"),
		"upgrade_type":    "code",
		"new_code_hash":   repeatHex("d"),
	})
	if stranger.Code != http.StatusForbidden {
		t.Fatalf("无权限提案应返回 403, got %d", stranger.Code)
	}

	execute := doJSON(t, handler, http.MethodPost, "/api/v1/upgrades/"+proposal.ProposalID+"/execute", nil)
	if execute.Code != http.StatusForbidden {
		t.Fatalf("批准数不足应返回 403, got %d", execute.Code)
	}

	missing := doJSON(t, handler, http.MethodPost, "/api/v1/upgrades/no-such/approvals", map[string]any{
		"approver": testOwner,
	})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("缺失提案应返回 404, got %d", missing.Code)
	}
}

func TestEmergencyEndpoints(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/emergency", map[string]any{
		"reason":       "oracle failure",
		"triggered_by": testOwner,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("触发暂停失败: %d, body %s", rec.Code, rec.Body.String())
	}

	blocked := doJSON(t, handler, http.MethodPost, "/api/v1/agents", map[string]any{
		"owner_id":      "user-1",
		"owner_address": testOwner,
		"wallet_mode":   "non_custodial",
	})
	if blocked.Code != http.StatusServiceUnavailable {
		t.Fatalf("暂停期间部署应返回 503, got %d", blocked.Code)
	}

	resolve := doJSON(t, handler, http.MethodPost, "/api/v1/emergency/resolve", map[string]any{
		"resolved_by": testOwner,
	})
	if resolve.Code != http.StatusOK {
		t.Fatalf("解除暂停失败: %d", resolve.Code)
	}

	again := doJSON(t, handler, http.MethodPost, "/api/v1/emergency/resolve", map[string]any{
		"resolved_by": testOwner,
	})
	if again.Code != http.StatusConflict {
		t.Fatalf("重复解除应返回 409, got %d", again.Code)
	}
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	stats := doJSON(t, handler, http.MethodGet, "/api/v1/stats", nil)
	if stats.Code != http.StatusOK {
		t.Fatalf("查询统计失败: %d", stats.Code)
	}
	var snapshot factory.Stats
	if err := json.Unmarshal(stats.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("解码统计失败: %v", err)
	}
	if !snapshot.AcceptingDeployment {
		t.Fatal("统计应反映接受部署状态")
	}

	health := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d", health.Code)
	}
}

func TestUpdateConfigEndpoint(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	fee := uint64(5000)
	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/config", map[string]any{
		"caller": testOwner,
		"update": map[string]any{"deployment_fee": fee},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("更新配置失败: %d, body %s", rec.Code, rec.Body.String())
	}
	var updated factory.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("解码配置失败: %v", err)
	}
	if updated.DeploymentFee != fee {
		t.Fatalf("意外的部署费: got %d want %d", updated.DeploymentFee, fee)
	}

	denied := doJSON(t, handler, http.MethodPatch, "/api/v1/config", map[string]any{
		"caller": "0:" + repeatHex("f"),
		"update": map[string]any{"deployment_fee": fee},
	})
	if denied.Code != http.StatusForbidden {
		t.Fatalf("无权限更新应返回 403, got %d", denied.Code)
	}
}
