package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/api"
	"riskoracle/internal/config"
	"riskoracle/internal/logging"
	"riskoracle/internal/shutdown"
	"riskoracle/internal/workflow"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0 表示使用配置")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("配置无效: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("创建日志器失败: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	listenPort := cfg.API.Port
	if *port > 0 {
		listenPort = *port
	}

	svc, err := workflow.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Fatalf("创建工作流失败: %v", err)
	}

	server := api.NewServer(svc, cfg, logger, listenPort)
	gs := shutdown.NewGracefulShutdown(0, logger)

	// 配置了数据库时开放工作流管理接口
	if dsn := os.Getenv(config.EnvPrefix + "_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Fatalf("连接配置数据库失败: %v", err)
		}
		server.SetWorkflowManager(api.NewWorkflowManager(dbConfig, logger))
		gs.Register("database", shutdown.OrderCloseDatabase, func(ctx context.Context) error {
			return dbConfig.Close()
		})
	}

	gs.Register("api", shutdown.OrderStopAPI, server.Stop)
	gs.Register("sinks", shutdown.OrderCloseSinks, func(ctx context.Context) error {
		return svc.Close()
	})
	gs.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	gs.Wait()
	logger.Info("服务器已关闭")
}
