// Package verdict 从模型响应中逐层提取风险结论
package verdict

import (
	"strings"

	"github.com/tidwall/gjson"

	"riskoracle/pkg/models"
)

// 降级时使用的说明文本
const (
	FormatFallback    = "Malformed LLM response"
	ProviderErrorText = "LLM API error"
)

// Stage 解析到达的层级
type Stage int

const (
	StageRaw Stage = iota
	StageEnvelope
	StageContent
	StageVerdict
)

var stageNames = map[Stage]string{
	StageRaw:      "raw",
	StageEnvelope: "envelope",
	StageContent:  "content",
	StageVerdict:  "verdict",
}

// String 返回层级名称
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Outcome 解析结果
//
// Stage 为最后成功到达的层级；Degraded 为 true 时 Verdict 由降级规则填充。
type Outcome struct {
	Stage    Stage
	Degraded bool
	Verdict  models.Verdict
}

// Joined 危险函数列表拼接为单个字符串
func (o Outcome) Joined() string {
	return strings.Join(o.Verdict.DangerousFunctions, ", ")
}

func degraded(stage Stage, explanation string) Outcome {
	return Outcome{
		Stage:    stage,
		Degraded: true,
		Verdict: models.Verdict{
			RiskLevel:          models.RiskLevelUnknown,
			Explanation:        explanation,
			DangerousFunctions: []string{},
		},
	}
}

// Parse 解析分析步骤返回的文本
func Parse(text string) Outcome {
	// Raw -> Envelope
	if !gjson.Valid(text) {
		return degraded(StageRaw, FormatFallback)
	}
	envelope := gjson.Parse(text)

	if truthy(envelope.Get("error")) {
		return degraded(StageEnvelope, envelopeMessage(envelope))
	}

	// Envelope -> Content
	content := envelope.Get("choices.0.message.content")
	if !content.Exists() || content.Type == gjson.Null {
		return degraded(StageEnvelope, FormatFallback)
	}
	raw := content.String()

	// Content -> Verdict
	doc, ok := parseContent(raw)
	if !ok {
		if raw == "" {
			return degraded(StageContent, FormatFallback)
		}
		return degraded(StageContent, raw)
	}

	functions, ok := dangerousFunctions(doc.Get("dangerous_functions"))
	if !ok {
		return degraded(StageContent, raw)
	}

	return Outcome{
		Stage: StageVerdict,
		Verdict: models.Verdict{
			RiskLevel:          stringOr(doc.Get("risk_level"), models.RiskLevelUnknown),
			Explanation:        stringOr(doc.Get("explanation"), models.NoExplanation),
			DangerousFunctions: functions,
		},
	}
}

func parseContent(raw string) (gjson.Result, bool) {
	// 不剥离 markdown 代码块，非 JSON 内容原样作为说明
	candidate := strings.TrimSpace(raw)
	if !gjson.Valid(candidate) {
		return gjson.Result{}, false
	}

	doc := gjson.Parse(candidate)
	if doc.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return doc, true
}

func envelopeMessage(envelope gjson.Result) string {
	for _, path := range []string{"message", "error.message"} {
		if msg := envelope.Get(path); truthy(msg) {
			return msg.String()
		}
	}
	return ProviderErrorText
}

// 缺失或为空视为未提供
func dangerousFunctions(r gjson.Result) ([]string, bool) {
	if !truthy(r) {
		return []string{}, true
	}
	if !r.IsArray() {
		return nil, false
	}

	items := r.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out, true
}

func stringOr(r gjson.Result, fallback string) string {
	if !truthy(r) {
		return fallback
	}
	return r.String()
}

// truthy 按 JSON 值的真值语义判断
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		return true
	default:
		return false
	}
}
