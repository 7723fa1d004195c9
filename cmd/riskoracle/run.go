package main

import (
	"context"

	"github.com/spf13/cobra"

	"riskoracle/internal/api"
	"riskoracle/internal/scheduler"
	"riskoracle/internal/shutdown"
	"riskoracle/internal/workflow"
)

func runScheduled(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	svc, err := workflow.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Workflow.Schedule, cfg.RunTimeout(), svc.RunScheduled, logger)
	if err != nil {
		svc.Close()
		return err
	}

	gs := shutdown.NewGracefulShutdown(0, logger)
	gs.Register("scheduler", shutdown.OrderStopScheduler, func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if withAPI {
		server := api.NewServer(svc, cfg, logger, cfg.API.Port)
		server.SetScheduler(sched)
		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("API服务器异常退出: %v", err)
				gs.Shutdown()
			}
		}()
		gs.Register("api", shutdown.OrderStopAPI, server.Stop)
	}

	gs.Register("sinks", shutdown.OrderCloseSinks, func(ctx context.Context) error {
		return svc.Close()
	})

	gs.Start()
	sched.Start()

	if runNow {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout())
			defer cancel()
			svc.RunScheduled(ctx)
		}()
	}

	gs.Wait()
	if errs := gs.Errors(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
