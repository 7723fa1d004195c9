// Package shutdown 按顺序关闭调度器、API与结果输出
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopScheduler = 10 // 停止触发新的审计运行
	OrderStopAPI       = 20 // 停止接受请求并等待进行中的请求
	OrderCloseSinks    = 30 // 关闭文件、Kafka 与历史库
	OrderCloseDatabase = 40 // 关闭配置数据库连接
)

// DefaultTimeout 默认停机超时
const DefaultTimeout = 30 * time.Second

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger        *logrus.Logger
	timeout       time.Duration
	shutdownFuncs []ShutdownFunc
	signalChan    chan os.Signal
	done          chan struct{}
	once          sync.Once
	mu            sync.Mutex
	errs          []error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
}

// Register 注册停机处理函数。同一顺序的函数按注册先后执行。
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 监听 SIGINT/SIGTERM，收到信号后执行停机
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-gs.signalChan:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
}

// Wait 阻塞直到停机完成
func (gs *GracefulShutdown) Wait() {
	<-gs.done
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown 执行停机，多次调用只生效一次
func (gs *GracefulShutdown) Shutdown() {
	gs.once.Do(func() {
		signal.Stop(gs.signalChan)
		gs.performShutdown()
		close(gs.done)
	})
}

func (gs *GracefulShutdown) performShutdown() {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })

	var errs []error
	for _, fn := range funcs {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", fn.Name)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := fn.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", fn.Name, time.Since(start))
	}

	gs.mu.Lock()
	gs.errs = errs
	gs.mu.Unlock()

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
		return
	}
	gs.logger.Info("优雅停机流程完成")
}

// Errors 停机过程中的错误
func (gs *GracefulShutdown) Errors() []error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.errs
}

// RegisteredFunctions 按执行顺序返回已注册函数名
func (gs *GracefulShutdown) RegisteredFunctions() []string {
	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })
	names := make([]string, len(funcs))
	for i, fn := range funcs {
		names[i] = fn.Name
	}
	return names
}
