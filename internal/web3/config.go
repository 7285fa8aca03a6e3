package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkchainDefinitions models the structure of configs/workchain.yaml.
type WorkchainDefinitions struct {
	Workchains map[string]WorkchainDefinition `yaml:"workchains"`
}

// WorkchainDefinition describes a single workchain endpoint definition.
type WorkchainDefinition struct {
	Type        string `yaml:"type"`
	Workchain   int32  `yaml:"workchain"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// LoadWorkchainDefinitions parses the YAML file containing workchain metadata.
func LoadWorkchainDefinitions(path string) (WorkchainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return WorkchainDefinitions{Workchains: map[string]WorkchainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return WorkchainDefinitions{}, fmt.Errorf("读取工作链配置失败: %w", err)
	}

	var defs WorkchainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return WorkchainDefinitions{}, fmt.Errorf("解析工作链配置失败: %w", err)
	}
	if defs.Workchains == nil {
		defs.Workchains = map[string]WorkchainDefinition{}
	}
	return defs, nil
}
