package verdict

import "strings"

// LevelsMatch 比较网络审计结果与本地引擎结果的风险等级
//
// 按子串做模糊匹配，High 与 Critical 视为同一档。
// 这是沿用的启发式规则，尚未校准。
func LevelsMatch(networkLevel, engineLevel string) bool {
	network := strings.ToLower(networkLevel)
	engine := strings.ToLower(engineLevel)

	switch {
	case strings.Contains(network, "low") && strings.Contains(engine, "low"):
		return true
	case strings.Contains(network, "medium") && strings.Contains(engine, "medium"):
		return true
	case strings.Contains(network, "high") && (strings.Contains(engine, "high") || strings.Contains(engine, "critical")):
		return true
	case strings.Contains(network, "critical") && (strings.Contains(engine, "high") || strings.Contains(engine, "critical")):
		return true
	}
	return false
}

// RiskClass 把任意风险等级文本归入 high/medium/low 三档
func RiskClass(level string) string {
	if level == "" {
		return ""
	}
	l := strings.ToLower(level)
	switch {
	case strings.Contains(l, "high"), strings.Contains(l, "critical"), strings.Contains(l, "alto"):
		return "high"
	case strings.Contains(l, "medium"), strings.Contains(l, "medio"):
		return "medium"
	default:
		return "low"
	}
}
