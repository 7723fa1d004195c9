// Package scheduler 按 cron 表达式周期性触发审计运行
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule 每 5 分钟的第 0 秒
const DefaultSchedule = "0 */5 * * * *"

// Job 每次触发调用一次，ctx 为本次触发新建
type Job func(ctx context.Context)

// Parser 接受 5 段或带秒的 6 段表达式，以及 @every 等描述符
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate 检查表达式是否可解析
func Validate(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("cron表达式无效 '%s': %w", spec, err)
	}
	return nil
}

// Scheduler 单任务 cron 调度器
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	job     Job
	logger  *logrus.Logger
	entryID cron.EntryID
}

// New 创建调度器并注册唯一任务
//
// 相邻两次触发互不等待，重叠的运行各自独立执行。
func New(spec string, timeout time.Duration, job Job, logger *logrus.Logger) (*Scheduler, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	s := &Scheduler{
		spec:    spec,
		timeout: timeout,
		job:     job,
		logger:  logger,
	}

	cronLogger := cron.PrintfLogger(logger)
	s.cron = cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)

	entryID, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("注册定时任务失败: %w", err)
	}
	s.entryID = entryID

	return s, nil
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	s.logger.WithField("schedule", s.spec).Debug("定时触发")
	s.job(ctx)
}

// Start 启动调度（非阻塞）
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.spec,
		"next_run": s.Next(),
	}).Info("调度器已启动")
}

// Stop 停止调度，返回的 ctx 在进行中的任务结束后完成
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("正在停止调度器...")
	return s.cron.Stop()
}

// Next 下一次触发时间，未启动时为零值
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Spec 调度表达式
func (s *Scheduler) Spec() string {
	return s.spec
}

// NextAfter 计算表达式在给定时间之后的下一次触发
func NextAfter(spec string, t time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t), nil
}
