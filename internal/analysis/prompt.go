// Package analysis 构建确定性的模型请求并调用模型接口
package analysis

import "fmt"

// DefaultSystemPrompt 默认系统指令
const DefaultSystemPrompt = "You are a smart contract security auditor. Respond ONLY in valid JSON format, no backticks, no markdown."

const promptTemplate = `Analyze the security risks of the following smart contract ABI.
Contract address: %s

Contract ABI:
%s

STRICT INSTRUCTIONS:
1. Identify dangerous functions (transfers, approvals, owner changes)
2. Look for drainer, rug pull, or honey pot patterns
3. Evaluate the overall risk level

Respond ONLY with this JSON format (no markdown, no backticks, no additional text):
{"risk_level": "Low|Medium|High|Critical", "explanation": "your detailed analysis here", "dangerous_functions": ["func1", "func2"]}`

// BuildPrompt 把合约地址与完整 ABI 嵌入固定模板
func BuildPrompt(contractAddress, abiText string) string {
	return fmt.Sprintf(promptTemplate, contractAddress, abiText)
}
