// Package scheduler 以固定间隔触发各 Agent 的信箱轮询。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/pkg/logger"
)

// DefaultInterval 是信箱轮询的默认周期。
const DefaultInterval = 3 * time.Second

// Ticker 是可被调度的轮询对象。
type Ticker interface {
	ID() string
	Tick(ctx context.Context) (bool, error)
}

// Scheduler 为每个 Agent 注册一个独立的定时任务。上一轮尚未结束时
// 跳过本轮，保证同一 Agent 的 Tick 不会并发。
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// New 构造调度器，interval 非正时使用默认周期。
func New(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{}),
			cron.Recover(cronLogger{}),
		)),
		interval: interval,
	}
}

// Register 将一个 Agent 挂入调度。必须在 Start 之前调用。
func (s *Scheduler) Register(agent Ticker) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "不能注册空的轮询对象")
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		// Start 之后任务继承调度器的生命周期。
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		processed, tickErr := agent.Tick(ctx)
		if tickErr != nil {
			logger.L().Error("轮询执行失败",
				slog.String("agent", agent.ID()),
				slog.Any("error", tickErr),
			)
			return
		}
		if processed {
			logger.L().Debug("轮询处理了一条消息", slog.String("agent", agent.ID()))
		}
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "注册轮询任务失败")
	}
	return nil
}

// Start 启动调度并随 ctx 的取消而停止。
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.cron.Start()
	logger.L().Info("调度器已启动", slog.Duration("interval", s.interval))
}

// Stop 停止触发新任务并等待在途任务结束。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	logger.L().Info("调度器已停止")
}

// cronLogger 将 cron 内部日志接入统一日志。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.L().Debug(msg, slog.Any("details", keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.L().Error(msg, slog.Any("error", err), slog.Any("details", keysAndValues))
}
