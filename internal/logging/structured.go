package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `json:"format" yaml:"format" mapstructure:"format"` // 日志格式 (json, text)
	Output string `json:"output" yaml:"output" mapstructure:"output"` // 输出路径 (stdout, stderr, file path)
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "text",
	Output: "stdout",
}

// NewLogger 按配置创建logrus日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(writer)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	logger.AddHook(NewRedactHook())
	return logger, nil
}

func getLogWriter(config *LogConfig) (io.Writer, error) {
	switch config.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		dir := filepath.Dir(config.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return file, nil
	}
}

// RedactHook 抹掉疑似凭据的日志字段
type RedactHook struct {
	markers []string
}

// NewRedactHook 创建凭据脱敏钩子
func NewRedactHook() *RedactHook {
	return &RedactHook{markers: []string{"api_key", "apikey", "secret", "token", "authorization", "password"}}
}

// Levels 实现logrus.Hook
func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 实现logrus.Hook
func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for key := range entry.Data {
		lower := strings.ToLower(key)
		for _, marker := range h.markers {
			if strings.Contains(lower, marker) {
				entry.Data[key] = "<redacted>"
				break
			}
		}
	}
	return nil
}

// NewRunLogger 单次审计运行的日志器
func NewRunLogger(logger logrus.FieldLogger, runID, contractAddress, chainID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component":        "pipeline",
		"run_id":           runID,
		"contract_address": contractAddress,
		"chain_id":         chainID,
	})
}

// NewStepLogger 流水线步骤日志器
func NewStepLogger(logger logrus.FieldLogger, step string) *logrus.Entry {
	return logger.WithField("step", step)
}

// NewHTTPLogger 出站HTTP调用日志器，只记录主机名
func NewHTTPLogger(logger logrus.FieldLogger, method, host string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "transport",
		"method":    method,
		"host":      host,
	})
}
