package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"riskoracle/pkg/models"
)

// ConsensusPayload 参与节点间比对的规范化字节（不含 timestamp）
func ConsensusPayload(result models.AuditResult) ([]byte, error) {
	compared := map[string]string{
		"risk_level":          result.RiskLevel,
		"explanation":         result.Explanation,
		"dangerous_functions": result.DangerousFunctions,
		"auditor":             result.Auditor,
		"contract_address":    result.ContractAddress,
		"chain_id":            result.ChainID,
	}

	raw, err := json.Marshal(compared)
	if err != nil {
		return nil, fmt.Errorf("序列化比对字段失败: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("JCS规范化失败: %w", err)
	}
	return canonical, nil
}

// Digest 比对载荷的 sha256，0x 前缀十六进制
func Digest(result models.AuditResult) (string, error) {
	payload, err := ConsensusPayload(result)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// Agree 两条结果除 timestamp 外是否逐字节一致
func Agree(a, b models.AuditResult) (bool, error) {
	da, err := Digest(a)
	if err != nil {
		return false, err
	}
	db, err := Digest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
