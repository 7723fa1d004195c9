// Package workflow 在纯流水线之外挂接输出、历史、指标等副作用
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"riskoracle/internal/decoder"
	"riskoracle/internal/errors"
	"riskoracle/internal/history"
	"riskoracle/internal/metrics"
	"riskoracle/internal/output"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/validation"
	"riskoracle/internal/verdict"
	"riskoracle/pkg/models"
)

// Report 一次审计运行的汇总
type Report struct {
	RunID     string
	Path      pipeline.Path
	Digest    string
	Result    models.AuditResult
	Duration  time.Duration
	Execution *pipeline.Execution
	// Changed 与该合约上一条历史记录相比结论是否变化，无历史时为 false
	Changed bool
}

// Options 服务依赖。Output、History、Decoder 可为空。
type Options struct {
	Runner       *pipeline.Runner
	Workflow     models.AuditConfig
	Output       output.Output
	History      *history.Store
	Decoder      *decoder.InputDecoder
	ErrorHandler *errors.ErrorHandler
	Logger       *logrus.Logger
	// NewRunID 生成运行ID，默认 uuid
	NewRunID func() string
}

// Service 审计工作流服务
type Service struct {
	runner    *pipeline.Runner
	workflow  models.AuditConfig
	output    output.Output
	history   *history.Store
	decoder   *decoder.InputDecoder
	handler   *errors.ErrorHandler
	validator *validation.Validator
	logger    *logrus.Logger
	newRunID  func() string
}

// New 创建工作流服务
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Output == nil {
		opts.Output = output.Discard{}
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = errors.NewErrorHandler(opts.Logger)
	}
	opts.ErrorHandler.AddCallback(func(err *errors.OracleError) {
		metrics.RecordError(err.Type.String(), err.Severity.String())
	})
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.New().String() }
	}
	return &Service{
		runner:    opts.Runner,
		workflow:  opts.Workflow,
		output:    opts.Output,
		history:   opts.History,
		decoder:   opts.Decoder,
		handler:   opts.ErrorHandler,
		validator: validation.NewValidator(opts.Logger, false),
		logger:    opts.Logger,
		newRunID:  opts.NewRunID,
	}
}

// Workflow 默认工作流配置
func (s *Service) Workflow() models.AuditConfig {
	return s.workflow
}

// RunScheduled 调度器触发入口
func (s *Service) RunScheduled(ctx context.Context) {
	s.Audit(ctx, s.workflow)
}

// Audit 执行一次审计并写入各个输出。输出失败只记录，不影响返回的结果。
func (s *Service) Audit(ctx context.Context, cfg models.AuditConfig) *Report {
	runID := s.newRunID()
	start := time.Now()

	exec := s.runner.Run(ctx, runID, cfg)
	report := &Report{
		RunID:     runID,
		Path:      exec.Path,
		Result:    exec.Result,
		Duration:  time.Since(start),
		Execution: exec,
	}

	digest, err := pipeline.Digest(exec.Result)
	if err != nil {
		s.handle(ctx, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"DIGEST_FAILED", "计算共识摘要失败").WithComponent("workflow"))
	}
	report.Digest = digest

	if res := s.validator.ValidateResult(&report.Result); !res.Valid {
		for _, verr := range res.Errors {
			s.handle(ctx, verr.WithComponent("workflow"))
		}
	}

	rec := &output.Record{RunID: runID, Path: string(exec.Path), Digest: digest, Result: exec.Result}
	if err := s.output.WriteRecord(rec); err != nil {
		metrics.RecordSinkError("output")
		s.handle(ctx, err)
	}

	if s.history != nil {
		report.Changed = s.changedSinceLast(cfg, exec.Result)
		entry := &history.Entry{RunID: runID, Path: string(exec.Path), Digest: digest, Result: exec.Result}
		if err := s.history.Append(entry); err != nil {
			metrics.RecordSinkError("history")
			s.handle(ctx, err)
		}
	}

	metrics.RecordAudit(string(exec.Path), riskClass(exec.Result),
		history.ContractKey(cfg.ContractAddress, cfg.ChainID), report.Duration)

	s.logger.WithFields(logrus.Fields{
		"run_id":            runID,
		"path":              exec.Path,
		"risk_level":        exec.Result.RiskLevel,
		"verification_hash": digest,
		"changed":           report.Changed,
		"duration":          report.Duration.String(),
	}).Info("审计运行结束")

	return report
}

// changedSinceLast 与最近一条历史记录比较，忽略 timestamp
func (s *Service) changedSinceLast(cfg models.AuditConfig, result models.AuditResult) bool {
	prev, ok, err := s.history.Latest(cfg.ContractAddress, cfg.ChainID)
	if err != nil || !ok {
		return false
	}
	same, err := pipeline.Agree(prev.Result, result)
	if err != nil || same {
		return false
	}
	s.logger.WithFields(logrus.Fields{
		"contract_address": cfg.ContractAddress,
		"previous_run_id":  prev.RunID,
		"previous_level":   prev.Result.RiskLevel,
		"risk_level":       result.RiskLevel,
	}).Info("审计结论与上次不同")
	return true
}

// Simulate 以多个独立执行模拟节点组，只报告摘要是否一致
func (s *Service) Simulate(ctx context.Context, cfg models.AuditConfig, nodes int) (*pipeline.SimulationReport, error) {
	report, err := pipeline.Simulate(ctx, s.runner, s.newRunID(), cfg, nodes)
	if err != nil {
		return nil, err
	}
	metrics.RecordSimulation(report.Agreement, len(report.Nodes))
	s.logger.WithFields(logrus.Fields{
		"nodes":     len(report.Nodes),
		"agreement": report.Agreement,
		"quorum":    report.Quorum(pipeline.MajorityThreshold(len(report.Nodes))),
	}).Info("模拟运行结束")
	return report, nil
}

// History 某合约最近的审计记录
func (s *Service) History(contractAddress, chainID string, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	return s.history.Recent(contractAddress, chainID, limit)
}

// Decode 按合约ABI解码 call data
func (s *Service) Decode(ctx context.Context, contractAddress, callData string) (*decoder.DecodedCall, error) {
	if s.decoder == nil {
		return nil, errors.ErrConfigInvalid.Newf("未配置解码器")
	}
	return s.decoder.Decode(ctx, contractAddress, callData)
}

// ErrorStats 错误统计快照
func (s *Service) ErrorStats() map[string]interface{} {
	return s.handler.Snapshot()
}

// HistoryStats 历史库统计
func (s *Service) HistoryStats() map[string]interface{} {
	if s.history == nil {
		return map[string]interface{}{}
	}
	return s.history.GetStats()
}

// Close 关闭输出与历史库
func (s *Service) Close() error {
	var first error
	if err := s.output.Close(); err != nil {
		first = err
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Service) handle(ctx context.Context, err error) {
	// 处理器负责记录日志与统计
	_ = s.handler.HandleError(ctx, err)
}

func riskClass(result models.AuditResult) string {
	if result.IsError() {
		return "error"
	}
	return verdict.RiskClass(result.RiskLevel)
}
