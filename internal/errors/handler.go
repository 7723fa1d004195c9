package errors

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统计、阈值告警、回调与日志
//
// 处理器只做观测，不会重试任何操作。
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	strategies map[ErrorType]ErrorStrategy
	callbacks  []ErrorCallback
	thresholds map[ErrorSeverity]ThresholdConfig
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *OracleError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *OracleError)

// ThresholdConfig 阈值配置
type ThresholdConfig struct {
	MaxErrorsPerHour int `json:"max_errors_per_hour"`
}

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
		thresholds: map[ErrorSeverity]ThresholdConfig{
			SeverityLow:      {MaxErrorsPerHour: 100},
			SeverityMedium:   {MaxErrorsPerHour: 50},
			SeverityHigh:     {MaxErrorsPerHour: 20},
			SeverityCritical: {MaxErrorsPerHour: 5},
		},
	}

	loggingStrategy := &LoggingStrategy{logger: logger}
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}

	return eh
}

// HandleError 处理错误，返回规范化后的 OracleError
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var oracleErr *OracleError
	if !stderrors.As(err, &oracleErr) {
		oracleErr = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(oracleErr)
	exceeded := eh.checkThresholdLocked(oracleErr)
	eh.mu.Unlock()

	if exceeded {
		eh.logger.Warnf("错误达到阈值限制: %s", oracleErr.Error())
	}

	eh.executeCallbacks(oracleErr)

	return eh.executeStrategy(ctx, oracleErr)
}

func (eh *ErrorHandler) checkThresholdLocked(err *OracleError) bool {
	threshold, exists := eh.thresholds[err.Severity]
	if !exists {
		return false
	}

	hourlyRate := eh.stats.GetErrorRate(time.Hour)
	return hourlyRate > float64(threshold.MaxErrorsPerHour)
}

func (eh *ErrorHandler) executeCallbacks(err *OracleError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *OracleError) error {
	eh.mu.RLock()
	strategy, exists := eh.strategies[err.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}

	return strategy.Handle(ctx, err)
}

// Handle 按严重级别记录日志
func (ls *LoggingStrategy) Handle(ctx context.Context, err *OracleError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"context":    err.Context,
	})
	if err.Cause != nil {
		logEntry = logEntry.WithError(err.Cause)
	}

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	default:
		// 进程不因单次运行失败而退出
		logEntry.Error(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// Snapshot 获取错误统计快照
func (eh *ErrorHandler) Snapshot() map[string]interface{} {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Summary()
}

// TotalErrors 累计错误数
func (eh *ErrorHandler) TotalErrors() int {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.TotalErrors
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// CompositeStrategy 组合策略，依次执行多个策略
type CompositeStrategy struct {
	strategies []ErrorStrategy
}

// NewCompositeStrategy 创建组合策略
func NewCompositeStrategy(strategies ...ErrorStrategy) *CompositeStrategy {
	return &CompositeStrategy{strategies: strategies}
}

// Handle 实现CompositeStrategy的处理方法
func (cs *CompositeStrategy) Handle(ctx context.Context, err *OracleError) error {
	var lastErr error
	for _, strategy := range cs.strategies {
		if strategyErr := strategy.Handle(ctx, err); strategyErr != nil {
			lastErr = strategyErr
		}
	}
	return lastErr
}

// CallbackStrategy 将错误交给任意函数处理，例如指标计数
type CallbackStrategy func(err *OracleError)

// Handle 实现ErrorStrategy
func (f CallbackStrategy) Handle(ctx context.Context, err *OracleError) error {
	f(err)
	return err
}
