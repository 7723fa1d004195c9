// Package pipeline 串联凭据、ABI 拉取、风险分析与结果组装
package pipeline

import (
	"fmt"

	"riskoracle/internal/verdict"
	"riskoracle/pkg/models"
)

// DefaultAuditor 默认审计方标识
const DefaultAuditor = "Chainlink Decentralized Network"

// 错误路径的说明文本
const (
	explorerRejectedText  = "Could not fetch the ABI for contract %s. Explorer responded: %s"
	explorerMalformedText = "Error parsing the explorer API response"
	credentialMissingText = "Credential %s could not be resolved"
)

// Identity 每条结果都必须携带的字段
type Identity struct {
	Auditor         string
	ContractAddress string
	ChainID         string
	Timestamp       string
}

// AssembleVerdict 由分析结论组装结果（含降级结论）
func AssembleVerdict(id Identity, out verdict.Outcome) models.AuditResult {
	return models.AuditResult{
		RiskLevel:          out.Verdict.RiskLevel,
		Explanation:        out.Verdict.Explanation,
		DangerousFunctions: out.Joined(),
		Auditor:            id.Auditor,
		ContractAddress:    id.ContractAddress,
		ChainID:            id.ChainID,
		Timestamp:          id.Timestamp,
	}
}

// AssembleError 组装 risk_level 为 ERROR 的结果
func AssembleError(id Identity, explanation string) models.AuditResult {
	return models.AuditResult{
		RiskLevel:          models.RiskLevelError,
		Explanation:        explanation,
		DangerousFunctions: "",
		Auditor:            id.Auditor,
		ContractAddress:    id.ContractAddress,
		ChainID:            id.ChainID,
		Timestamp:          id.Timestamp,
	}
}

// ExplorerRejected 浏览器拒绝（status 不是 "1"）
func ExplorerRejected(id Identity, message string) models.AuditResult {
	return AssembleError(id, fmt.Sprintf(explorerRejectedText, id.ContractAddress, message))
}

// ExplorerMalformed 浏览器响应无法解析
func ExplorerMalformed(id Identity) models.AuditResult {
	return AssembleError(id, explorerMalformedText)
}

// CredentialMissing 凭据无法解析
func CredentialMissing(id Identity, secretID string) models.AuditResult {
	return AssembleError(id, fmt.Sprintf(credentialMissingText, secretID))
}
