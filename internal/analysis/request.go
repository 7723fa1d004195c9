package analysis

import (
	"bytes"
	"encoding/json"

	"riskoracle/pkg/models"
)

// 确定性参数，所有节点必须一致
const (
	Temperature = 0
	Seed        = 42

	DefaultModel     = "deepseek-chat"
	DefaultMaxTokens = 1024
)

// Config 模型接口配置
type Config struct {
	BaseURL      string `mapstructure:"base_url"`
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "DeepSeek"
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}

// BuildRequest 构建请求体：系统指令 + 唯一用户轮次
func BuildRequest(cfg Config, contractAddress, abiText string) models.ModelRequest {
	cfg = cfg.withDefaults()
	return models.ModelRequest{
		Model: cfg.Model,
		Messages: []models.Message{
			{Role: "system", Content: cfg.SystemPrompt},
			{Role: "user", Content: BuildPrompt(contractAddress, abiText)},
		},
		Temperature: Temperature,
		Seed:        Seed,
		MaxTokens:   cfg.MaxTokens,
	}
}

// MarshalRequest 序列化请求体，输出与字段顺序稳定
func MarshalRequest(req models.ModelRequest) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
