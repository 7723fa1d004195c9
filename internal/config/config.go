package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"riskoracle/internal/analysis"
	"riskoracle/internal/errors"
	"riskoracle/internal/explorer"
	"riskoracle/internal/logging"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/scheduler"
	"riskoracle/internal/validation"
	"riskoracle/pkg/models"
)

// EnvPrefix 环境变量前缀，例如 RISKORACLE_WORKFLOW_CONTRACT_ADDRESS
const EnvPrefix = "RISKORACLE"

// Config 主配置
type Config struct {
	Workflow *WorkflowConfig    `mapstructure:"workflow"`
	Explorer *ExplorerConfig    `mapstructure:"explorer"`
	LLM      *LLMConfig         `mapstructure:"llm"`
	Auditor  string             `mapstructure:"auditor"`
	Secrets  *SecretsConfig     `mapstructure:"secrets"`
	Output   *OutputConfig      `mapstructure:"output"`
	History  *HistoryConfig     `mapstructure:"history"`
	API      *APIConfig         `mapstructure:"api"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
}

// WorkflowConfig 审计工作流配置
type WorkflowConfig struct {
	Schedule        string `mapstructure:"schedule"`
	ContractAddress string `mapstructure:"contract_address"`
	ChainID         string `mapstructure:"etherscan_chain_id"`
	RunTimeout      string `mapstructure:"run_timeout"`
}

// ExplorerConfig 区块浏览器配置
type ExplorerConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Provider string `mapstructure:"provider"`
	Timeout  string `mapstructure:"timeout"`
	Proxy    string `mapstructure:"proxy"`
}

// LLMConfig 模型接口配置
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	SystemPrompt string `mapstructure:"system_prompt"`
	Timeout      string `mapstructure:"timeout"`
	Proxy        string `mapstructure:"proxy"`
}

// SecretsConfig 凭据源配置
type SecretsConfig struct {
	EnvFiles []string `mapstructure:"env_files"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // file, kafka, both, none
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// HistoryConfig 历史记录配置
type HistoryConfig struct {
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep"`
}

// APIConfig HTTP接口配置
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// AuditConfig 转换为流水线使用的运行配置
func (c *Config) AuditConfig() models.AuditConfig {
	return models.AuditConfig{
		Schedule:        c.Workflow.Schedule,
		ContractAddress: c.Workflow.ContractAddress,
		ChainID:         c.Workflow.ChainID,
	}
}

// ExplorerStep 浏览器步骤配置
func (c *Config) ExplorerStep() explorer.Config {
	return explorer.Config{BaseURL: c.Explorer.BaseURL, Provider: c.Explorer.Provider}
}

// AnalysisStep 分析步骤配置
func (c *Config) AnalysisStep() analysis.Config {
	return analysis.Config{
		BaseURL:      c.LLM.BaseURL,
		Provider:     c.LLM.Provider,
		Model:        c.LLM.Model,
		MaxTokens:    c.LLM.MaxTokens,
		SystemPrompt: c.LLM.SystemPrompt,
	}
}

// RunTimeout 单次运行超时
func (c *Config) RunTimeout() time.Duration {
	return parseDuration(c.Workflow.RunTimeout, 2*time.Minute)
}

// ExplorerTimeout 浏览器请求超时
func (c *Config) ExplorerTimeout() time.Duration {
	return parseDuration(c.Explorer.Timeout, 20*time.Second)
}

// LLMTimeout 模型请求超时
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Workflow == nil || c.Explorer == nil || c.LLM == nil || c.Output == nil {
		return errors.ErrConfigInvalid.Newf("缺少必要的配置段")
	}

	if err := validation.ValidateAuditConfig(c.AuditConfig()); err != nil {
		return errors.ErrConfigInvalid.Wrap(err)
	}
	if c.Explorer.BaseURL == "" {
		return errors.ErrConfigInvalid.Newf("explorer.base_url 不能为空")
	}
	if c.LLM.BaseURL == "" {
		return errors.ErrConfigInvalid.Newf("llm.base_url 不能为空")
	}
	if c.LLM.MaxTokens < 0 {
		return errors.ErrConfigInvalid.Newf("llm.max_tokens 不能为负数: %d", c.LLM.MaxTokens)
	}
	for name, value := range map[string]string{
		"workflow.run_timeout": c.Workflow.RunTimeout,
		"explorer.timeout":     c.Explorer.Timeout,
		"llm.timeout":          c.LLM.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.ErrConfigInvalid.Newf("%s 无效: %s", name, value)
		}
	}

	switch c.Output.Format {
	case "file", "none":
	case "kafka", "both":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return errors.ErrConfigInvalid.Newf("Kafka输出需要至少一个broker")
		}
		if c.Output.Kafka.Topic == "" {
			return errors.ErrConfigInvalid.Newf("Kafka输出需要指定topic")
		}
	default:
		return errors.ErrConfigInvalid.Newf("不支持的输出格式: %s", c.Output.Format)
	}

	return nil
}

// LoadConfig 加载配置（自动检测配置源）
//
// 先读 YAML 与环境变量；若设置了 RISKORACLE_DB_DSN，再用数据库中的工作流与输出配置覆盖。
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	dbDSN := os.Getenv(EnvPrefix + "_DB_DSN")
	if dbDSN == "" {
		return config, nil
	}

	logger := logrus.New()
	dbConfig, err := NewDatabaseConfig(dbDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	defer dbConfig.Close()

	if err := dbConfig.Overlay(config); err != nil {
		return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
	}

	logger.Info("已从数据库加载工作流配置")
	return config, nil
}

// LoadConfigFromFile 从文件加载配置，缺省值与环境变量参与合并
//
// configPath 为空时只使用缺省值与环境变量。
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GetDefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("workflow.schedule", d.Workflow.Schedule)
	v.SetDefault("workflow.contract_address", d.Workflow.ContractAddress)
	v.SetDefault("workflow.etherscan_chain_id", d.Workflow.ChainID)
	v.SetDefault("workflow.run_timeout", d.Workflow.RunTimeout)

	v.SetDefault("explorer.base_url", d.Explorer.BaseURL)
	v.SetDefault("explorer.provider", d.Explorer.Provider)
	v.SetDefault("explorer.timeout", d.Explorer.Timeout)
	v.SetDefault("explorer.proxy", d.Explorer.Proxy)

	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.system_prompt", d.LLM.SystemPrompt)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.proxy", d.LLM.Proxy)

	v.SetDefault("auditor", d.Auditor)
	v.SetDefault("secrets.env_files", d.Secrets.EnvFiles)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topic", d.Output.Kafka.Topic)

	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.keep", d.History.Keep)
	v.SetDefault("api.port", d.API.Port)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Workflow: &WorkflowConfig{
			Schedule:        scheduler.DefaultSchedule,
			ContractAddress: "", // 需要在YAML配置、环境变量或数据库中指定
			ChainID:         "11155111",
			RunTimeout:      "2m",
		},
		Explorer: &ExplorerConfig{
			BaseURL:  "https://api.etherscan.io",
			Provider: "Etherscan",
			Timeout:  "20s",
		},
		LLM: &LLMConfig{
			BaseURL:      "https://api.deepseek.com",
			Provider:     "DeepSeek",
			Model:        analysis.DefaultModel,
			MaxTokens:    analysis.DefaultMaxTokens,
			SystemPrompt: analysis.DefaultSystemPrompt,
			Timeout:      "60s",
		},
		Auditor: pipeline.DefaultAuditor,
		Secrets: &SecretsConfig{
			EnvFiles: []string{".env"},
		},
		Output: &OutputConfig{
			Format:    "file",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "contract_audit_results",
			},
		},
		History: &HistoryConfig{
			Path: "./data/history.db",
			Keep: 50,
		},
		API: &APIConfig{
			Port: 8080,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
