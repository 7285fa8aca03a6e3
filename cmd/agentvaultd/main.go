package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentVault-Chain/internal/api"
	"AgentVault-Chain/internal/auth"
	"AgentVault-Chain/internal/config"
	"AgentVault-Chain/internal/events"
	"AgentVault-Chain/internal/factory"
	"AgentVault-Chain/internal/fees"
	"AgentVault-Chain/internal/observability/alerting"
	"AgentVault-Chain/internal/observability/metrics"
	"AgentVault-Chain/internal/registry"
	"AgentVault-Chain/internal/storage/mysql"
	"AgentVault-Chain/internal/strategy"
	"AgentVault-Chain/internal/web3/provider"
	"AgentVault-Chain/pkg/logger"
	"AgentVault-Chain/pkg/plugin"
)

// main 是 AgentVault 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentvaultd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTVAULT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentvault.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: "info", Format: "json"}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	deployStore, err := newDeploymentStore(cfg.Storage.Deployments)
	if err != nil {
		return err
	}
	defer deployStore.Close()

	agentStore, err := newRegistryStore(cfg.Storage.Registry)
	if err != nil {
		return err
	}
	defer agentStore.Close()

	payoutQueue, err := newPayoutQueue(cfg.PayoutQueue)
	if err != nil {
		return err
	}
	defer func() {
		if err := payoutQueue.Close(); err != nil {
			log.Printf("关闭结算队列失败: %v", err)
		}
	}()

	feeManager := fees.NewManager(fees.ManagerConfig{
		CreatorShareBps: cfg.Fees.CreatorShareBps,
		MinPayoutAmount: cfg.Fees.MinPayoutAmount,
	}, fees.WithPayoutProducer(payoutQueue))

	bus := events.NewBus()

	var pluginManager *plugin.Manager
	if cfg.Runtime.PluginConfig != "" {
		pluginCfg, err := plugin.LoadManagerConfig(cfg.Runtime.PluginConfig)
		if err != nil {
			return err
		}
		pluginManager, err = plugin.NewManager(pluginCfg, plugin.WithResource(plugin.ResourceEventBus, bus))
		if err != nil {
			return err
		}
	}

	executorOpts := []strategy.ExecutorOption{strategy.WithFeeRecorder(feeManager)}
	if pluginManager != nil {
		for _, p := range pluginManager.ByCategory(plugin.TypeTradeBackend) {
			if backend, ok := p.(strategy.Backend); ok {
				executorOpts = append(executorOpts, strategy.WithBackend(backend))
				break
			}
		}
	}

	executor := strategy.NewExecutor(strategy.ExecutorConfig{
		MaxConcurrentExecutions: cfg.Strategy.MaxConcurrentExecutions,
		MaxRiskLevel:            cfg.Strategy.MaxRiskLevel,
		MaxGasBudget:            cfg.Strategy.MaxGasBudget,
		ProtocolFeeBps:          cfg.Factory.ProtocolFeeBps,
	}, executorOpts...)

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	chainClient, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	manager, err := factory.NewManager(factory.Config{
		OwnerAddress:         cfg.Factory.OwnerAddress,
		TreasuryAddress:      cfg.Factory.TreasuryAddress,
		Version:              cfg.Factory.Version,
		DeploymentFee:        cfg.Factory.DeploymentFee,
		ProtocolFeeBps:       cfg.Factory.ProtocolFeeBps,
		MaxAgentsPerOwner:    cfg.Factory.MaxAgentsPerOwner,
		AcceptingDeployments: acceptingDeployments(cfg.Factory.AcceptingDeployments),
		Workchains:           cfg.Factory.Workchains,
		UpgradeApprovals:     cfg.Factory.UpgradeApprovals,
	}, deployStore, agentStore,
		factory.WithExecutor(executor),
		factory.WithFeeManager(feeManager),
		factory.WithChainClient(chainClient),
		factory.WithEventBus(bus),
	)
	if err != nil {
		return err
	}
	defer manager.Close()

	if pluginManager != nil {
		if err := pluginManager.StartAll(ctx); err != nil {
			return err
		}
		defer func() {
			if err := pluginManager.StopAll(context.Background()); err != nil {
				log.Printf("停止插件失败: %v", err)
			}
		}()
	}

	processorOpts := []fees.ProcessorOption{fees.WithWorkerCount(cfg.PayoutQueue.Worker)}
	if pluginManager != nil {
		var notifiers []alerting.Notifier
		for _, p := range pluginManager.ByCategory(plugin.TypeNotifier) {
			if notifier, ok := p.(alerting.Notifier); ok {
				notifiers = append(notifiers, notifier)
			}
		}
		if len(notifiers) > 0 {
			processorOpts = append(processorOpts, fees.WithAlertDispatcher(alerting.NewFanout(notifiers...)))
		}
	}
	processor := fees.NewSettlementProcessor(feeManager, payoutQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("结算处理器异常退出: %v", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	authService, err := newAuthService(ctx, cfg.Server, cfg.Storage)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, manager, authService)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newDeploymentStore(cfg config.StoreConfig) (factory.DeploymentStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return factory.NewMemoryStore(), nil
	case "mysql":
		return factory.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的部署存储驱动: %s", cfg.Driver)
	}
}

func newRegistryStore(cfg config.StoreConfig) (registry.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return registry.NewMemoryStore(), nil
	case "mysql":
		return registry.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的注册表驱动: %s", cfg.Driver)
	}
}

func newPayoutQueue(cfg config.PayoutQueueConfig) (fees.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return fees.NewMemoryQueue(1024), nil
	case "redis":
		return fees.NewRedisQueue(fees.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return fees.NewRabbitMQQueue(fees.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的结算队列驱动: %s", cfg.Driver)
	}
}

func newAuthService(ctx context.Context, cfg config.ServerConfig, storage config.StorageConfig) (*auth.Service, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}

	var store auth.Store
	if storage.Deployments.Driver == "mysql" {
		sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{DSN: storage.Deployments.DSN})
		if err != nil {
			return nil, err
		}
		store = sqlStore
	} else {
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, err
		}
		store = memStore
	}
	return auth.NewService(ctx, auth.Config{
		Mode: auth.ModeJWT,
		JWT: auth.JWTOptions{
			Secret:    cfg.JWTSecret,
			Issuer:    "agentvault",
			AccessTTL: int64(cfg.TokenTTLHours) * 3600,
		},
	}, store)
}

func acceptingDeployments(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}
