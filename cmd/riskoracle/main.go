package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"riskoracle/internal/config"
	"riskoracle/internal/decoder"
	"riskoracle/internal/history"
	"riskoracle/internal/logging"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/workflow"
)

var (
	configFile string
	verbose    bool

	// 覆盖配置中的工作流目标
	contractAddress string
	chainID         string

	// run
	runNow  bool
	withAPI bool

	// simulate
	nodes int

	// history
	limit int

	// decode
	callData string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "riskoracle",
		Short:        "合约风险审计工作流",
		Long:         `按 cron 调度拉取合约ABI，交给模型做风险评估，并输出各节点一致的审计结果`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().StringVar(&contractAddress, "contract", "", "合约地址，覆盖配置")
	rootCmd.PersistentFlags().StringVar(&chainID, "chain", "", "Etherscan V2 链ID，覆盖配置")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "按调度周期持续运行",
		RunE:  runScheduled,
	}
	runCmd.Flags().BoolVar(&runNow, "run-now", false, "启动后立即执行一次")
	runCmd.Flags().BoolVar(&withAPI, "api", false, "同时启动HTTP接口")

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "执行一次审计并打印结果",
		RunE:  runOnce,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "模拟多个节点独立执行并比对共识摘要",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().IntVar(&nodes, "nodes", 4, "模拟节点数")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "查看合约最近的审计记录",
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&limit, "limit", 10, "返回条数")

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "按合约ABI解码 call data",
		RunE:  runDecode,
	}
	decodeCmd.Flags().StringVar(&callData, "data", "", "十六进制 call data")
	_ = decodeCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(runCmd, onceCmd, simulateCmd, historyCmd, decodeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置、应用命令行覆盖并创建日志器
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if contractAddress != "" {
		cfg.Workflow.ContractAddress = contractAddress
	}
	if chainID != "" {
		cfg.Workflow.ChainID = chainID
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志器失败: %w", err)
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, logger, nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	svc, err := workflow.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("创建工作流失败: %w", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout())
	defer cancel()

	report := svc.Audit(ctx, cfg.AuditConfig())
	line, err := report.Result.Marshal()
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(line))
	logger.WithFields(logrus.Fields{
		"run_id":            report.RunID,
		"path":              report.Path,
		"verification_hash": report.Digest,
	}).Info("审计结果已输出")
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	// 模拟只比对摘要，不写任何输出
	c, err := workflow.BuildComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("创建工作流失败: %w", err)
	}
	svc := workflow.New(workflow.Options{
		Runner:   c.Runner,
		Workflow: cfg.AuditConfig(),
		Logger:   logger,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout())
	defer cancel()

	report, err := svc.Simulate(ctx, cfg.AuditConfig(), nodes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, node := range report.Nodes {
		fmt.Fprintf(out, "node %d  %s  %s\n", node.Node, node.Digest, node.Path)
	}
	fmt.Fprintf(out, "majority %s  %d/%d  unanimous=%t  quorum=%t\n", report.Digest, report.Agreement, len(report.Nodes),
		report.Unanimous, report.Quorum(pipeline.MajorityThreshold(len(report.Nodes))))
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.History.Path, cfg.History.Keep, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cfg.Workflow.ContractAddress, cfg.Workflow.ChainID, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "暂无记录: %s\n", history.ContractKey(cfg.Workflow.ContractAddress, cfg.Workflow.ChainID))
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	c, err := workflow.BuildComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("创建工作流失败: %w", err)
	}
	dec := decoder.NewInputDecoder(&decoder.ExplorerSource{
		Resolver: c.Resolver,
		Step:     c.Explorer,
		ChainID:  cfg.Workflow.ChainID,
	}, 1, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ExplorerTimeout())
	defer cancel()

	call, err := dec.Decode(ctx, cfg.Workflow.ContractAddress, callData)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s\n", call.Selector, call.Signature)
	if !call.FromABI {
		fmt.Fprintln(out, "(ABI 中无此选择器，按常见签名推测)")
	}
	for _, arg := range call.Arguments {
		fmt.Fprintf(out, "  %-12s %-10s %s\n", arg.Name, arg.Type, arg.Value)
	}
	return nil
}
