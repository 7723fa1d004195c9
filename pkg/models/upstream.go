package models

import "encoding/json"

// ExplorerResponse 区块浏览器 getabi 接口的响应包
//
// 只有 Status == "1" 表示成功，与 HTTP 状态码无关。
type ExplorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// OK 是否为成功响应
func (r *ExplorerResponse) OK() bool {
	return r.Status == "1"
}

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelRequest chat/completions 请求体
//
// Temperature 与 Seed 不能带 omitempty，零值必须出现在请求中。
type ModelRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Seed        int       `json:"seed"`
	MaxTokens   int       `json:"max_tokens"`
}

// Choice 模型返回的候选
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ModelResponse chat/completions 响应包
type ModelResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// ErrorEnvelope 步骤在上游失败时返回的规范错误串
type ErrorEnvelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// NewErrorEnvelope 生成 {"error":true,"message":...}，键序固定
func NewErrorEnvelope(message string) string {
	data, err := json.Marshal(ErrorEnvelope{Error: true, Message: message})
	if err != nil {
		return `{"error":true,"message":""}`
	}
	return string(data)
}
