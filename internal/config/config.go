package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 AgentVault 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	PayoutQueue PayoutQueueConfig `json:"payout_queue"`
	Web3        Web3Config        `json:"web3"`
	Factory     FactoryConfig     `json:"factory"`
	Fees        FeesConfig        `json:"fees"`
	Strategy    StrategyConfig    `json:"strategy"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	JWTSecret      string `json:"jwt_secret"`
	TokenTTLHours  int    `json:"token_ttl_hours"`
}

// StorageConfig 统一描述部署回执与代理注册表的持久化后端。
type StorageConfig struct {
	Deployments StoreConfig `json:"deployments"`
	Registry    StoreConfig `json:"registry"`
}

// StoreConfig 描述单个存储后端，driver 支持 memory 与 mysql。
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// PayoutQueueConfig 描述分成结算队列，driver 支持 memory、redis、rabbitmq。
type PayoutQueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 队列的连接信息。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	WorkchainConfig  string `json:"workchain_config"`
	DefaultWorkchain string `json:"default_workchain"`
	RPCURL           string `json:"rpc_url"`
	Offline          bool   `json:"offline"`
}

// FactoryConfig 是工厂聚合的构造参数。
type FactoryConfig struct {
	OwnerAddress         string  `json:"owner_address"`
	TreasuryAddress      string  `json:"treasury_address"`
	Version              string  `json:"version"`
	DeploymentFee        uint64  `json:"deployment_fee"`
	ProtocolFeeBps       uint32  `json:"protocol_fee_bps"`
	MaxAgentsPerOwner    int     `json:"max_agents_per_owner"`
	AcceptingDeployments *bool   `json:"accepting_deployments"`
	Workchains           []int32 `json:"workchains"`
	UpgradeApprovals     int     `json:"upgrade_approvals"`
}

// FeesConfig 控制费用拆账与打款门槛。
type FeesConfig struct {
	CreatorShareBps  uint32 `json:"creator_share_bps"`
	MinPayoutAmount  uint64 `json:"min_payout_amount"`
	SettlementQueue  string `json:"settlement_queue"`
	AlertingDisabled bool   `json:"alerting_disabled"`
}

// StrategyConfig 约束策略创建与执行。
type StrategyConfig struct {
	MaxConcurrentExecutions int    `json:"max_concurrent_executions"`
	MaxRiskLevel            int    `json:"max_risk_level"`
	MaxGasBudget            uint64 `json:"max_gas_budget"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	// PluginConfig 指向插件管理器的 YAML 配置，为空时不加载插件。
	PluginConfig string `json:"plugin_config"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.TokenTTLHours <= 0 {
		c.Server.TokenTTLHours = 24
	}

	if c.Storage.Deployments.Driver == "" {
		c.Storage.Deployments.Driver = "memory"
	}
	if c.Storage.Registry.Driver == "" {
		c.Storage.Registry.Driver = "memory"
	}
	if c.Storage.Registry.DSN == "" {
		c.Storage.Registry.DSN = c.Storage.Deployments.DSN
	}

	if c.PayoutQueue.Driver == "" {
		c.PayoutQueue.Driver = "memory"
	}
	if c.PayoutQueue.Worker <= 0 {
		c.PayoutQueue.Worker = 2
	}

	if c.Factory.Version == "" {
		c.Factory.Version = "v1.0.0"
	}
	if c.Factory.MaxAgentsPerOwner <= 0 {
		c.Factory.MaxAgentsPerOwner = 10
	}
	if c.Factory.AcceptingDeployments == nil {
		accepting := true
		c.Factory.AcceptingDeployments = &accepting
	}
	if len(c.Factory.Workchains) == 0 {
		c.Factory.Workchains = []int32{0}
	}
	if c.Factory.UpgradeApprovals <= 0 {
		c.Factory.UpgradeApprovals = 2
	}

	if c.Fees.CreatorShareBps == 0 {
		c.Fees.CreatorShareBps = 7_000
	}
	if c.Fees.MinPayoutAmount == 0 {
		c.Fees.MinPayoutAmount = 1_000
	}

	if c.Strategy.MaxConcurrentExecutions <= 0 {
		c.Strategy.MaxConcurrentExecutions = 16
	}
	if c.Strategy.MaxRiskLevel <= 0 {
		c.Strategy.MaxRiskLevel = 5
	}
	if c.Strategy.MaxGasBudget == 0 {
		c.Strategy.MaxGasBudget = 10_000_000
	}

	if c.Web3.WorkchainConfig != "" && !filepath.IsAbs(c.Web3.WorkchainConfig) {
		c.Web3.WorkchainConfig = filepath.Join(baseDir, c.Web3.WorkchainConfig)
	}

	if c.Runtime.PluginConfig != "" && !filepath.IsAbs(c.Runtime.PluginConfig) {
		c.Runtime.PluginConfig = filepath.Join(baseDir, c.Runtime.PluginConfig)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
