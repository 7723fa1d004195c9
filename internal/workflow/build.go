package workflow

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/analysis"
	"riskoracle/internal/config"
	"riskoracle/internal/decoder"
	"riskoracle/internal/errors"
	"riskoracle/internal/explorer"
	"riskoracle/internal/history"
	"riskoracle/internal/output"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/secrets"
	"riskoracle/internal/transport"
)

// Components 按配置装配好的依赖
type Components struct {
	Resolver secrets.Resolver
	Explorer *explorer.Step
	Analysis *analysis.Step
	Runner   *pipeline.Runner
}

// BuildComponents 装配凭据源、两个步骤与运行器，不打开任何输出
func BuildComponents(cfg *config.Config, logger *logrus.Logger) (*Components, error) {
	explorerHTTP, err := transport.NewHTTPCapability(transport.Options{
		Timeout:  cfg.ExplorerTimeout(),
		ProxyURL: cfg.Explorer.Proxy,
	}, logger)
	if err != nil {
		return nil, errors.ErrConfigInvalid.Wrap(fmt.Errorf("创建浏览器HTTP客户端失败: %w", err))
	}

	llmHTTP, err := transport.NewHTTPCapability(transport.Options{
		Timeout:  cfg.LLMTimeout(),
		ProxyURL: cfg.LLM.Proxy,
	}, logger)
	if err != nil {
		return nil, errors.ErrConfigInvalid.Wrap(fmt.Errorf("创建模型HTTP客户端失败: %w", err))
	}

	c := &Components{
		Resolver: secrets.NewEnvStore(cfg.Secrets.EnvFiles...),
		Explorer: explorer.NewStep(cfg.ExplorerStep(), explorerHTTP, logger),
		Analysis: analysis.NewStep(cfg.AnalysisStep(), llmHTTP, logger),
	}
	c.Runner = pipeline.NewRunner(pipeline.Options{
		Resolver: c.Resolver,
		Fetcher:  c.Explorer,
		Analyzer: c.Analysis,
		Auditor:  cfg.Auditor,
		Logger:   logger,
	})
	return c, nil
}

// NewFromConfig 按配置创建完整服务，包括输出、历史库与解码器
func NewFromConfig(cfg *config.Config, logger *logrus.Logger) (*Service, error) {
	c, err := BuildComponents(cfg, logger)
	if err != nil {
		return nil, err
	}

	out, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return nil, err
	}

	var store *history.Store
	if cfg.History != nil && cfg.History.Path != "" {
		store, err = history.NewStore(cfg.History.Path, cfg.History.Keep, logger)
		if err != nil {
			out.Close()
			return nil, err
		}
	}

	source := &decoder.ExplorerSource{
		Resolver: c.Resolver,
		Step:     c.Explorer,
		ChainID:  cfg.Workflow.ChainID,
	}

	return New(Options{
		Runner:   c.Runner,
		Workflow: cfg.AuditConfig(),
		Output:   out,
		History:  store,
		Decoder:  decoder.NewInputDecoder(source, decoder.DefaultCacheSize, logger),
		Logger:   logger,
	}), nil
}
