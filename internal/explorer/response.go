package explorer

import (
	"github.com/tidwall/gjson"

	"riskoracle/pkg/models"
)

// OutcomeKind 解析结果类别
type OutcomeKind int

const (
	// ABIOK status == "1"，Result 为 ABI 文本
	ABIOK OutcomeKind = iota
	// ABIRejected 合法 JSON 但 status 不是 "1"（含规范错误串）
	ABIRejected
	// ABIMalformed 响应不是 JSON 对象
	ABIMalformed
)

// Outcome ABI 响应解析结果
type Outcome struct {
	Kind    OutcomeKind
	ABI     string
	Message string
}

// ParseABIResponse 解析 FetchABI 的输出
//
// 只认字符串 "1" 为成功；数字 1、缺失 status 都算失败。顶层不是对象时按格式错误处理。
func ParseABIResponse(text string) Outcome {
	if !gjson.Valid(text) {
		return Outcome{Kind: ABIMalformed}
	}

	doc := gjson.Parse(text)
	// null、数组、数字、字符串等顶层值没有 status 字段可言
	if !doc.IsObject() {
		return Outcome{Kind: ABIMalformed}
	}

	// 数字 1 不会写入 Status
	resp := models.ExplorerResponse{Message: doc.Get("message").String()}
	if status := doc.Get("status"); status.Type == gjson.String {
		resp.Status = status.Str
	}
	if !resp.OK() {
		return Outcome{Kind: ABIRejected, Message: resp.Message}
	}

	result := doc.Get("result")
	resp.Result = result.Raw
	if result.Type == gjson.String {
		resp.Result = result.Str
	}
	return Outcome{Kind: ABIOK, ABI: resp.Result, Message: resp.Message}
}
