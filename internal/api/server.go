package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"time"

	"AgentVault-Chain/internal/auth"
	xerrors "AgentVault-Chain/internal/errors"
	"AgentVault-Chain/internal/factory"
	"AgentVault-Chain/internal/fees"
	"AgentVault-Chain/internal/observability/metrics"
	"AgentVault-Chain/internal/registry"
	"AgentVault-Chain/internal/strategy"
	"AgentVault-Chain/internal/wallet"
)

// Server 负责暴露 REST 接口，供外部协作方驱动工厂。
type Server struct {
	addr    string
	factory *factory.Manager
	auth    *auth.Service
}

// NewServer 构造 API 服务实例。auth 为 nil 时所有端点都不做鉴权。
func NewServer(addr string, manager *factory.Manager, authService *auth.Service) *Server {
	return &Server{addr: addr, factory: manager, auth: authService}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装全部路由。治理相关的端点需要 admin 权限。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/token", s.handleToken)

	mux.HandleFunc("POST /api/v1/agents", s.instrument("agents", s.handleDeployAgent))
	mux.HandleFunc("POST /api/v1/agents/{id}/strategies", s.instrument("strategies", s.handleDeployStrategy))
	mux.HandleFunc("POST /api/v1/strategies/{id}/execute", s.instrument("execute", s.handleExecuteStrategy))
	mux.HandleFunc("POST /api/v1/strategies/{id}/start", s.instrument("strategy_state", s.strategyTransition("start")))
	mux.HandleFunc("POST /api/v1/strategies/{id}/pause", s.instrument("strategy_state", s.strategyTransition("pause")))
	mux.HandleFunc("POST /api/v1/strategies/{id}/stop", s.instrument("strategy_state", s.strategyTransition("stop")))

	mux.HandleFunc("GET /api/v1/deployments", s.instrument("deployments", s.handleListDeployments))
	mux.HandleFunc("GET /api/v1/deployments/{id}", s.instrument("deployments", s.handleGetDeployment))
	mux.HandleFunc("GET /api/v1/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/payouts", s.instrument("payouts", s.handleRequestPayout))
	mux.HandleFunc("GET /api/v1/creators/{id}/balance", s.instrument("balance", s.handleCreatorBalance))

	mux.Handle("POST /api/v1/upgrades", s.adminOnly(http.HandlerFunc(s.handleProposeUpgrade)))
	mux.Handle("POST /api/v1/upgrades/{id}/approvals", s.adminOnly(http.HandlerFunc(s.handleApproveUpgrade)))
	mux.Handle("POST /api/v1/upgrades/{id}/execute", s.adminOnly(http.HandlerFunc(s.handleExecuteUpgrade)))
	mux.Handle("POST /api/v1/emergency", s.adminOnly(http.HandlerFunc(s.handleTriggerEmergency)))
	mux.Handle("POST /api/v1/emergency/resolve", s.adminOnly(http.HandlerFunc(s.handleResolveEmergency)))
	mux.Handle("GET /api/v1/config", s.adminOnly(http.HandlerFunc(s.handleGetConfig)))
	mux.Handle("PATCH /api/v1/config", s.adminOnly(http.HandlerFunc(s.handleUpdateConfig)))

	return mux
}

// adminOnly 在启用鉴权时要求 admin 权限。
func (s *Server) adminOnly(next http.Handler) http.Handler {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return next
	}
	middleware := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {"admin"}},
	})
	return middleware(next)
}

// instrument 记录请求时延指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		http.Error(w, "认证未启用", http.StatusNotImplemented)
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type deployAgentRequest struct {
	OwnerID      string                      `json:"owner_id"`
	OwnerAddress string                      `json:"owner_address"`
	WalletMode   string                      `json:"wallet_mode"`
	MPC          *wallet.MPCConfig           `json:"mpc,omitempty"`
	Limits       *wallet.SmartContractLimits `json:"limits,omitempty"`
	Workchain    int32                       `json:"workchain"`
	Metadata     map[string]string           `json:"metadata,omitempty"`
}

func (s *Server) handleDeployAgent(w http.ResponseWriter, r *http.Request) {
	var req deployAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	result, err := s.factory.DeployAgent(r.Context(), factory.DeployAgentInput{
		OwnerID:      req.OwnerID,
		OwnerAddress: req.OwnerAddress,
		WalletMode:   wallet.Mode(req.WalletMode),
		MPC:          req.MPC,
		Limits:       req.Limits,
		Workchain:    req.Workchain,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type deployStrategyRequest struct {
	CreatorID    string         `json:"creator_id"`
	StrategyType string         `json:"strategy_type"`
	Version      string         `json:"version"`
	RiskLevel    int            `json:"risk_level"`
	MaxGasBudget uint64         `json:"max_gas_budget"`
	Workchain    int32          `json:"workchain"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleDeployStrategy(w http.ResponseWriter, r *http.Request) {
	var req deployStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	created, err := s.factory.DeployStrategy(r.Context(), factory.DeployStrategyInput{
		AgentID:      r.PathValue("id"),
		CreatorID:    req.CreatorID,
		StrategyType: req.StrategyType,
		Version:      req.Version,
		RiskLevel:    req.RiskLevel,
		MaxGasBudget: req.MaxGasBudget,
		Workchain:    req.Workchain,
		Parameters:   req.Parameters,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleExecuteStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	report, err := s.factory.Executor().Execute(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.IncrCounter(metrics.CounterExecutions)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) strategyTransition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var err error
		switch action {
		case "start":
			err = s.factory.Executor().Start(r.Context(), id)
		case "pause":
			err = s.factory.Executor().Pause(r.Context(), id)
		case "stop":
			err = s.factory.Executor().Stop(r.Context(), id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"strategy_id": id, "action": action})
	}
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	if owner := r.URL.Query().Get("owner"); owner != "" {
		results, err := s.factory.DeploymentsByOwner(r.Context(), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	results, err := s.factory.AllDeployments(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "非法的部署 ID", http.StatusBadRequest)
		return
	}
	result, err := s.factory.Deployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.factory.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.factory.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

type payoutRequest struct {
	CreatorID   string `json:"creator_id"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	manager := s.factory.Fees()
	if manager == nil {
		http.Error(w, "费用管理器未启用", http.StatusNotImplemented)
		return
	}
	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	payout, err := manager.RequestPayout(r.Context(), req.CreatorID, req.Amount, req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, payout)
}

func (s *Server) handleCreatorBalance(w http.ResponseWriter, r *http.Request) {
	manager := s.factory.Fees()
	if manager == nil {
		http.Error(w, "费用管理器未启用", http.StatusNotImplemented)
		return
	}
	balance, err := manager.Balance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type proposeUpgradeRequest struct {
	Proposer       string `json:"proposer"`
	TargetContract string `json:"target_contract"`
	UpgradeType    string `json:"upgrade_type"`
	NewCodeHash    string `json:"new_code_hash"`
}

func (s *Server) handleProposeUpgrade(w http.ResponseWriter, r *http.Request) {
	var req proposeUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	proposal, err := s.factory.ProposeUpgrade(req.Proposer, req.TargetContract, req.UpgradeType, req.NewCodeHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleApproveUpgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver string `json:"approver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	proposal, err := s.factory.ApproveUpgrade(r.PathValue("id"), req.Approver)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleExecuteUpgrade(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.factory.ExecuteUpgrade(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type emergencyRequest struct {
	Reason         string   `json:"reason"`
	TriggeredBy    string   `json:"triggered_by"`
	AffectedAgents []string `json:"affected_agents,omitempty"`
}

func (s *Server) handleTriggerEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	state, err := s.factory.TriggerEmergency(req.Reason, req.TriggeredBy, req.AffectedAgents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if err := s.factory.ResolveEmergency(req.ResolvedBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.factory.Emergency())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.Config())
}

type updateConfigRequest struct {
	Caller string               `json:"caller"`
	Update factory.ConfigUpdate `json:"update"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	updated, err := s.factory.UpdateConfig(req.Caller, req.Update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// writeError 把域错误码映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeInvalidState:
		status = http.StatusConflict
	case xerrors.CodeCapacityExceeded:
		status = http.StatusForbidden
	case xerrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case xerrors.CodeBackpressure:
		status = http.StatusTooManyRequests
	case factory.CodePermissionDenied, factory.CodeInsufficientApprovals:
		status = http.StatusForbidden
	case factory.CodeProposalNotFound, fees.CodePayoutNotFound,
		registry.CodeAgentNotFound, strategy.CodeStrategyNotFound:
		status = http.StatusNotFound
	case strategy.CodeStrategyValidation:
		status = http.StatusBadRequest
	case strategy.CodeStrategyExecution:
		status = http.StatusUnprocessableEntity
	case fees.CodeInsufficientBalance, fees.CodeBelowThreshold:
		status = http.StatusUnprocessableEntity
	case fees.CodePayoutPublish, fees.CodePayoutSettlement:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusWriter 捕获响应状态码用于指标上报。
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 记录状态码并透传。
func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
