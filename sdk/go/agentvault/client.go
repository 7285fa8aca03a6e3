package agentvault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentVault REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents operator credentials used to obtain access tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AgentDeployment is the payload for deploying a new trading agent.
type AgentDeployment struct {
	OwnerID      string            `json:"owner_id"`
	OwnerAddress string            `json:"owner_address"`
	WalletMode   string            `json:"wallet_mode"`
	Workchain    int32             `json:"workchain,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DeploymentReceipt mirrors the immutable receipt returned by the factory.
type DeploymentReceipt struct {
	DeploymentID    uint64 `json:"deployment_id"`
	ContractAddress string `json:"contract_address"`
	AgentID         string `json:"agent_id"`
	OwnerID         string `json:"owner_id"`
	TxHash          string `json:"tx_hash"`
	BlockSeq        uint64 `json:"block_seq"`
	FeePaid         uint64 `json:"fee_paid"`
	DeployedAt      int64  `json:"deployed_at"`
	ContractVersion string `json:"contract_version"`
}

// StrategyDeployment is the payload for attaching a strategy to an agent.
type StrategyDeployment struct {
	CreatorID    string         `json:"creator_id"`
	StrategyType string         `json:"strategy_type"`
	Version      string         `json:"version,omitempty"`
	RiskLevel    int            `json:"risk_level"`
	MaxGasBudget uint64         `json:"max_gas_budget"`
	Workchain    int32          `json:"workchain,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// StrategyInfo describes a deployed strategy.
type StrategyInfo struct {
	ID              string `json:"id"`
	AgentID         string `json:"agent_id"`
	CreatorID       string `json:"creator_id"`
	StrategyType    string `json:"strategy_type"`
	ContractAddress string `json:"contract_address"`
	Status          string `json:"status"`
}

// Stats aggregates factory-wide counters.
type Stats struct {
	TotalAgents         uint64 `json:"total_agents"`
	ActiveAgents        int    `json:"active_agents"`
	TotalStrategies     uint64 `json:"total_strategies"`
	TotalFeesCollected  uint64 `json:"total_fees_collected"`
	TotalVolume         uint64 `json:"total_volume"`
	TotalExecutions     uint64 `json:"total_executions"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
	Version             string `json:"version"`
	PendingProposals    int    `json:"pending_proposals"`
	EmergencyPaused     bool   `json:"emergency_paused"`
	AcceptingDeployment bool   `json:"accepting_deployments"`
}

// Health reflects component readiness.
type Health struct {
	Ready            bool   `json:"ready"`
	AgentsRegistered int    `json:"agents_registered"`
	Strategies       int    `json:"strategies"`
	PendingFees      uint64 `json:"pending_fees"`
	EmergencyPaused  bool   `json:"emergency_paused"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentvault api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentvault api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentVault API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Authenticate exchanges operator credentials for an access token and stores it
// for subsequent calls. Deployment and read endpoints work without a token;
// governance endpoints require one when the server runs with auth enabled.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// DeployAgent provisions a new agent and returns its deployment receipt.
func (c *Client) DeployAgent(ctx context.Context, deployment AgentDeployment) (DeploymentReceipt, error) {
	var receipt DeploymentReceipt
	if err := c.post(ctx, "/api/v1/agents", deployment, &receipt); err != nil {
		return DeploymentReceipt{}, err
	}
	return receipt, nil
}

// DeployStrategy attaches a strategy to an existing agent.
func (c *Client) DeployStrategy(ctx context.Context, agentID string, deployment StrategyDeployment) (StrategyInfo, error) {
	if agentID == "" {
		return StrategyInfo{}, errors.New("agentvault: agent id is required")
	}
	var info StrategyInfo
	endpoint := fmt.Sprintf("/api/v1/agents/%s/strategies", url.PathEscape(agentID))
	if err := c.post(ctx, endpoint, deployment, &info); err != nil {
		return StrategyInfo{}, err
	}
	return info, nil
}

// GetDeployment fetches a deployment receipt by its numeric identifier.
func (c *Client) GetDeployment(ctx context.Context, deploymentID uint64) (DeploymentReceipt, error) {
	var receipt DeploymentReceipt
	endpoint := fmt.Sprintf("/api/v1/deployments/%d", deploymentID)
	if err := c.get(ctx, endpoint, &receipt); err != nil {
		return DeploymentReceipt{}, err
	}
	return receipt, nil
}

// ListDeployments returns the receipts recorded for an owner.
func (c *Client) ListDeployments(ctx context.Context, ownerID string) ([]DeploymentReceipt, error) {
	var receipts []DeploymentReceipt
	endpoint := "/api/v1/deployments"
	if ownerID != "" {
		endpoint += "?owner=" + url.QueryEscape(ownerID)
	}
	if err := c.get(ctx, endpoint, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

// GetStats fetches factory-wide counters.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// GetHealth reports component readiness.
func (c *Client) GetHealth(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/api/v1/health", &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
