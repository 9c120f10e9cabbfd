// Package scheduler 提供定时任务调度
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 默认单次任务执行超时
const defaultTaskTimeout = 5 * time.Minute

// Scheduler 定时任务调度器
type Scheduler struct {
	tasks  []*Task
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Task 定时任务
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Handler  func(ctx context.Context) error
}

// NewScheduler 创建调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make([]*Task, 0),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask 添加任务（默认超时）
func (s *Scheduler) AddTask(name string, interval time.Duration, handler func(ctx context.Context) error) {
	s.AddTaskWithTimeout(name, interval, defaultTaskTimeout, handler)
}

// AddTaskWithTimeout 添加任务并指定单次执行超时
func (s *Scheduler) AddTaskWithTimeout(name string, interval, timeout time.Duration, handler func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Timeout:  timeout,
		Handler:  handler,
	})
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.logger.Info("调度器启动", zap.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.logger.Info("调度器停止中")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("调度器已停止")
}

// runTask 运行单个任务
func (s *Scheduler) runTask(task *Task) {
	defer s.wg.Done()

	s.logger.Info("定时任务启动",
		zap.String("task", task.Name),
		zap.Duration("interval", task.Interval))

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// 立即执行一次
	s.executeTask(task)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("定时任务退出", zap.String("task", task.Name))
			return
		case <-ticker.C:
			s.executeTask(task)
		}
	}
}

// executeTask 执行任务
func (s *Scheduler) executeTask(task *Task) {
	ctx, cancel := context.WithTimeout(s.ctx, task.Timeout)
	defer cancel()

	start := time.Now()
	if err := task.Handler(ctx); err != nil {
		s.logger.Error("定时任务执行失败",
			zap.String("task", task.Name),
			zap.Error(err))
		return
	}
	s.logger.Debug("定时任务执行完成",
		zap.String("task", task.Name),
		zap.Duration("elapsed", time.Since(start)))
}
