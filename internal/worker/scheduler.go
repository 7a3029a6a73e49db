// Package worker は取得・分析パイプラインの定期実行を提供する。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/threadscope/internal/pipeline"
)

// Runner はパイプラインの1回分の実行。*pipeline.Orchestrator が実装する。
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.Stats, error)
}

// Scheduler はcron式に従ってパイプラインを実行する。
// 前回の実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	runner   Runner
	schedule string
	opts     pipeline.RunOptions
	logger   *slog.Logger
}

// NewScheduler はSchedulerを生成する。scheduleは標準のcron式または "@every 30m" 形式。
func NewScheduler(runner Runner, schedule string, opts pipeline.RunOptions, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		opts:     opts,
		logger:   logger,
	}
}

// Start は起動直後に1回実行し、以降はスケジュールに従って実行する。
// ctxがキャンセルされるまでブロックし、実行中のジョブの終了を待ってから戻る。
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("スケジューラを開始しました", slog.String("schedule", s.schedule))

	s.RunOnce(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("スケジューラを停止しました")
	return nil
}

// RunOnce はパイプラインを1回実行する。エラーはログに残す。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	stats, err := s.runner.Run(ctx, s.opts)
	if err != nil {
		s.logger.Error("パイプラインの実行に失敗しました", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("定期実行が完了しました",
		slog.Int("stored", stats.Stored),
		slog.Int("analyzed", stats.Analyzed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// cronLogger はcronのログをslogに流す。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
