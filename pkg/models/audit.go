package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// 结果中的哨兵取值
const (
	RiskLevelError   = "ERROR"
	RiskLevelUnknown = "Unknown"

	NoExplanation = "No explanation available"
)

// TimestampLayout ISO-8601 UTC 毫秒精度
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// AuditConfig 单次审计运行的配置，运行期间不可变
type AuditConfig struct {
	Schedule        string `json:"schedule" mapstructure:"schedule"`
	ContractAddress string `json:"contractAddress" mapstructure:"contract_address"`
	ChainID         string `json:"etherscanChainId" mapstructure:"etherscan_chain_id"`
}

// Verdict 从模型回复中提取出的结构化结论
type Verdict struct {
	RiskLevel          string   `json:"risk_level"`
	Explanation        string   `json:"explanation"`
	DangerousFunctions []string `json:"dangerous_functions"`
}

// AuditResult 审计输出记录
//
// 字段顺序即 JSON 键顺序，不得调整。除 Timestamp 外所有字段参与共识比对。
type AuditResult struct {
	RiskLevel          string `json:"risk_level"`
	Explanation        string `json:"explanation"`
	DangerousFunctions string `json:"dangerous_functions"`
	Auditor            string `json:"auditor"`
	ContractAddress    string `json:"contract_address"`
	ChainID            string `json:"chain_id"`
	Timestamp          string `json:"timestamp"`
}

// AuditResultKeys 输出记录的固定键集合（有序）
var AuditResultKeys = []string{
	"risk_level",
	"explanation",
	"dangerous_functions",
	"auditor",
	"contract_address",
	"chain_id",
	"timestamp",
}

// FormatTimestamp 按输出格式格式化时间
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IsError 是否为错误形态的结果
func (r *AuditResult) IsError() bool {
	return r.RiskLevel == RiskLevelError
}

// Marshal 按固定键序序列化，不转义 HTML 字符
func (r *AuditResult) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ToKafkaMessage 转换为Kafka消息格式
func (r *AuditResult) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":                "audit_result",
		"risk_level":          r.RiskLevel,
		"explanation":         r.Explanation,
		"dangerous_functions": r.DangerousFunctions,
		"auditor":             r.Auditor,
		"contract_address":    r.ContractAddress,
		"chain_id":            r.ChainID,
		"timestamp":           r.Timestamp,
	}
}
