package addressing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentVault-Chain/internal/errors"
)

// Address 是派生出的合约地址，格式为 "<workchain>:<64位十六进制>"。
type Address string

// String 实现 fmt.Stringer。
func (a Address) String() string {
	return string(a)
}

// Workchain 解析地址所属的工作链编号。
func (a Address) Workchain() (int32, error) {
	prefix, _, ok := strings.Cut(string(a), ":")
	if !ok {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "地址缺少工作链前缀")
	}
	wc, err := strconv.ParseInt(prefix, 10, 32)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工作链前缀不是合法整数")
	}
	return int32(wc), nil
}

// IsValid 校验地址格式。
func (a Address) IsValid() bool {
	prefix, body, ok := strings.Cut(string(a), ":")
	if !ok {
		return false
	}
	if _, err := strconv.ParseInt(prefix, 10, 32); err != nil {
		return false
	}
	if len(body) != 64 {
		return false
	}
	for _, r := range body {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// Derive 根据 (所有者地址, 盐值, 工作链) 派生确定性合约地址。
// 纯函数：相同输入永远得到相同输出，不读写任何外部状态。
// 摘要使用 keccak256，对 owner 与 salt 做定界拼接，避免拼接歧义。
func Derive(ownerAddress, salt string, workchain int32) (Address, error) {
	if strings.TrimSpace(ownerAddress) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "所有者地址不能为空")
	}
	if salt == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "盐值不能为空")
	}
	payload := make([]byte, 0, len(ownerAddress)+len(salt)+1)
	payload = append(payload, []byte(ownerAddress)...)
	payload = append(payload, 0x00)
	payload = append(payload, []byte(salt)...)
	digest := crypto.Keccak256(payload)
	return Address(fmt.Sprintf("%d:%x", workchain, digest)), nil
}

// AgentSalt 生成代理合约使用的盐值，按所有者与部署序号区分。
func AgentSalt(ownerID string, sequence uint64) string {
	return fmt.Sprintf("agent:%s:%d", ownerID, sequence)
}

// StrategySalt 生成策略合约使用的盐值，按代理、策略类型与序号区分。
func StrategySalt(agentID, strategyType string, sequence uint64) string {
	return fmt.Sprintf("strategy:%s:%s:%d", agentID, strategyType, sequence)
}
