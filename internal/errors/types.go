package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeTimeout

	// 上游服务错误
	ErrorTypeUpstreamHTTP
	ErrorTypeMalformedJSON

	// 凭据错误
	ErrorTypeCredential

	// 数据相关错误
	ErrorTypeSerialization
	ErrorTypeValidation

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeFileIO
	ErrorTypeStorage
	ErrorTypeConfig

	// 输出错误
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// OracleError 自定义错误类型
type OracleError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *OracleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *OracleError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is 可以用预定义错误判断
func (e *OracleError) Is(target error) bool {
	t, ok := target.(*OracleError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可由外部编排层重试
func (e *OracleError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *OracleError) WithContext(key string, value interface{}) *OracleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置组件名
func (e *OracleError) WithComponent(component string) *OracleError {
	e.Component = component
	return e
}

// Wrap 以预定义错误为模板包装原因，返回新实例
func (e *OracleError) Wrap(cause error) *OracleError {
	return WrapError(cause, e.Type, e.Severity, e.Code, e.Message)
}

// Newf 以预定义错误为模板生成带细节的新实例
func (e *OracleError) Newf(format string, args ...interface{}) *OracleError {
	return NewOracleError(e.Type, e.Severity, e.Code, fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)))
}

// NewOracleError 创建新的错误
func NewOracleError(errorType ErrorType, severity ErrorSeverity, code, message string) *OracleError {
	return &OracleError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *OracleError {
	return &OracleError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeUpstreamHTTP:
		return true
	case ErrorTypeKafka, ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	ErrSecretNotFound = NewOracleError(
		ErrorTypeCredential,
		SeverityHigh,
		"SECRET_NOT_FOUND",
		"凭据不存在",
	)

	ErrTransportFailed = NewOracleError(
		ErrorTypeNetwork,
		SeverityMedium,
		"TRANSPORT_FAILED",
		"HTTP请求失败",
	)

	ErrUpstreamStatus = NewOracleError(
		ErrorTypeUpstreamHTTP,
		SeverityMedium,
		"UPSTREAM_STATUS",
		"上游服务返回非成功状态",
	)

	ErrMalformedUpstream = NewOracleError(
		ErrorTypeMalformedJSON,
		SeverityLow,
		"MALFORMED_UPSTREAM",
		"上游响应无法解析",
	)

	ErrDataValidation = NewOracleError(
		ErrorTypeValidation,
		SeverityMedium,
		"DATA_VALIDATION_FAILED",
		"数据验证失败",
	)

	ErrConfigInvalid = NewOracleError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrOutputFailed = NewOracleError(
		ErrorTypeFileIO,
		SeverityHigh,
		"OUTPUT_FAILED",
		"结果输出失败",
	)

	ErrKafkaProduceFailed = NewOracleError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)

	ErrStoreFailed = NewOracleError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORE_FAILED",
		"历史记录存储失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:       "Network",
	ErrorTypeTimeout:       "Timeout",
	ErrorTypeUpstreamHTTP:  "UpstreamHTTP",
	ErrorTypeMalformedJSON: "MalformedJSON",
	ErrorTypeCredential:    "Credential",
	ErrorTypeSerialization: "Serialization",
	ErrorTypeValidation:    "Validation",
	ErrorTypeSystem:        "System",
	ErrorTypeFileIO:        "FileIO",
	ErrorTypeStorage:       "Storage",
	ErrorTypeConfig:        "Config",
	ErrorTypeKafka:         "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*OracleError        `json:"recent_errors"`
	LastError         *OracleError          `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

const maxRecentErrors = 100

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*OracleError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *OracleError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > maxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}

// Summary 按名称汇总的统计快照，便于 JSON 输出
func (es *ErrorStats) Summary() map[string]interface{} {
	byType := make(map[string]int, len(es.ErrorsByType))
	for t, n := range es.ErrorsByType {
		byType[t.String()] = n
	}
	bySeverity := make(map[string]int, len(es.ErrorsBySeverity))
	for s, n := range es.ErrorsBySeverity {
		bySeverity[s.String()] = n
	}
	byComponent := make(map[string]int, len(es.ErrorsByComponent))
	for c, n := range es.ErrorsByComponent {
		byComponent[c] = n
	}

	summary := map[string]interface{}{
		"total_errors":        es.TotalErrors,
		"errors_by_type":      byType,
		"errors_by_severity":  bySeverity,
		"errors_by_component": byComponent,
	}
	if es.LastError != nil {
		summary["last_error"] = es.LastError.Error()
		summary["last_error_time"] = es.LastErrorTime
	}
	return summary
}
