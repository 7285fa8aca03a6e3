package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"AgentVault-Chain/internal/config"
	"AgentVault-Chain/internal/web3"
	"AgentVault-Chain/internal/web3/ethereum"
)

// Registry manages a set of workchain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	workchains   map[string]int32
}

// NewRegistry loads workchain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	if cfg.Offline {
		// 离线模式不连接任何 RPC 节点，回执由本地序列生成。
		return &Registry{
			defaultChain: "local",
			clients:      map[string]web3.Client{"local": web3.NopClient{}},
			workchains:   map[string]int32{"local": 0},
		}, nil
	}

	defs, err := web3.LoadWorkchainDefinitions(cfg.WorkchainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	workchains := make(map[string]int32)
	for name, chain := range defs.Workchains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: chain.RPCURL,
				Notes:  chain.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化工作链 %s 失败: %w", name, err)
			}
			clients[name] = client
			workchains[name] = chain.Workchain
		case "nop":
			// 离线模式，部署回执由本地生成。
			clients[name] = web3.NopClient{}
			workchains[name] = chain.Workchain
		default:
			return nil, fmt.Errorf("工作链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		workchains["default"] = 0
		if cfg.DefaultWorkchain == "" {
			cfg.DefaultWorkchain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何工作链的 RPC 端点")
	}

	defaultChain := cfg.DefaultWorkchain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认工作链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, workchains: workchains}, nil
}

// DefaultClient returns the client configured as default workchain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的工作链注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认工作链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the workchain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// WorkchainID returns the numeric workchain identifier for a registered name.
func (r *Registry) WorkchainID(name string) (int32, bool) {
	if r == nil {
		return 0, false
	}
	id, ok := r.workchains[name]
	return id, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Workchains returns the list of registered workchain names.
func (r *Registry) Workchains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
