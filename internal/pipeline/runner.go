package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/explorer"
	"riskoracle/internal/logging"
	"riskoracle/internal/secrets"
	"riskoracle/internal/verdict"
	"riskoracle/pkg/models"
)

// Fetcher ABI 拉取步骤
type Fetcher interface {
	FetchABI(ctx context.Context, contractAddress, chainID, apiKey string) string
}

// Analyzer 风险分析步骤
type Analyzer interface {
	Analyze(ctx context.Context, contractAddress, abiText, apiKey string) string
}

// Clock 时间源
type Clock interface {
	Now() time.Time
}

// ClockFunc 函数适配器
type ClockFunc func() time.Time

// Now 实现Clock
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock 系统时钟
var SystemClock Clock = ClockFunc(time.Now)

// Path 运行终止的路径
type Path string

const (
	PathVerdict           Path = "verdict"
	PathDegraded          Path = "degraded"
	PathExplorerRejected  Path = "explorer_rejected"
	PathExplorerMalformed Path = "explorer_malformed"
	PathCredentialMissing Path = "credential_missing"
)

// Execution 单次运行的结果及其终止路径
type Execution struct {
	Result models.AuditResult
	Path   Path
	Stage  verdict.Stage
}

// Options 运行器依赖
type Options struct {
	Resolver secrets.Resolver
	Fetcher  Fetcher
	Analyzer Analyzer
	Clock    Clock
	Auditor  string
	Logger   *logrus.Logger
}

// Runner 流水线运行器。只持有不可变依赖，可被并发调用。
type Runner struct {
	resolver secrets.Resolver
	fetcher  Fetcher
	analyzer Analyzer
	clock    Clock
	auditor  string
	logger   *logrus.Logger
}

// NewRunner 创建流水线运行器
func NewRunner(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Auditor == "" {
		opts.Auditor = DefaultAuditor
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Runner{
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		analyzer: opts.Analyzer,
		clock:    opts.Clock,
		auditor:  opts.Auditor,
		logger:   opts.Logger,
	}
}

// Run 执行一次完整流水线，总是返回结构完整的结果
//
// 顺序固定：解析凭据 -> 拉取 ABI -> 短路或分析 -> 组装。
func (r *Runner) Run(ctx context.Context, runID string, cfg models.AuditConfig) *Execution {
	log := logging.NewRunLogger(r.logger, runID, cfg.ContractAddress, cfg.ChainID)

	explorerKey, err := r.resolver.Resolve(ctx, models.ExplorerKeyID)
	if err != nil {
		log.WithError(err).Error("凭据解析失败")
		return r.finish(log, PathCredentialMissing, CredentialMissing(r.identity(cfg), models.ExplorerKeyID))
	}
	modelKey, err := r.resolver.Resolve(ctx, models.ModelKeyID)
	if err != nil {
		log.WithError(err).Error("凭据解析失败")
		return r.finish(log, PathCredentialMissing, CredentialMissing(r.identity(cfg), models.ModelKeyID))
	}

	raw := r.fetcher.FetchABI(ctx, cfg.ContractAddress, cfg.ChainID, explorerKey.Value)
	abi := explorer.ParseABIResponse(raw)
	switch abi.Kind {
	case explorer.ABIRejected:
		log.WithField("message", abi.Message).Warn("浏览器未返回ABI")
		return r.finish(log, PathExplorerRejected, ExplorerRejected(r.identity(cfg), abi.Message))
	case explorer.ABIMalformed:
		log.Warn("浏览器响应无法解析")
		return r.finish(log, PathExplorerMalformed, ExplorerMalformed(r.identity(cfg)))
	}

	text := r.analyzer.Analyze(ctx, cfg.ContractAddress, abi.ABI, modelKey.Value)
	out := verdict.Parse(text)

	exec := &Execution{
		Result: AssembleVerdict(r.identity(cfg), out),
		Path:   PathVerdict,
		Stage:  out.Stage,
	}
	if out.Degraded {
		exec.Path = PathDegraded
	}

	log.WithFields(logrus.Fields{
		"path":       exec.Path,
		"stage":      out.Stage.String(),
		"risk_level": exec.Result.RiskLevel,
	}).Info("审计完成")
	return exec
}

func (r *Runner) identity(cfg models.AuditConfig) Identity {
	return Identity{
		Auditor:         r.auditor,
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		Timestamp:       models.FormatTimestamp(r.clock.Now()),
	}
}

func (r *Runner) finish(log *logrus.Entry, path Path, result models.AuditResult) *Execution {
	log.WithField("path", path).Info("审计以错误结果结束")
	return &Execution{Result: result, Path: path, Stage: verdict.StageRaw}
}
