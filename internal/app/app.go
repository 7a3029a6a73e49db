// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/threadscope/internal/config"
	"github.com/hitoshi/threadscope/internal/database"
	"github.com/hitoshi/threadscope/internal/handler"
	"github.com/hitoshi/threadscope/internal/logger"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/pipeline"
	"github.com/hitoshi/threadscope/internal/platform"
	"github.com/hitoshi/threadscope/internal/repository"
	"github.com/hitoshi/threadscope/internal/worker"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVEL/LOG_FORMATに従ってロガーをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.Options{Level: slog.LevelInfo, Format: "json"})

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	l := logger.SetupDefault(w, logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMを受信すると実行中の処理をキャンセルする。
func Run(w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("db_type", cfg.DBType),
	)

	switch cmd {
	case CommandRegister:
		return runRegister(ctx, cfg, l, rest, w)
	case CommandWorker:
		return runWorker(ctx, cfg, l)
	case CommandMigrate:
		return runMigrate(cfg, l)
	default:
		return runPipeline(ctx, cfg, l, rest, w)
	}
}

// runPipeline は指定プラットフォームの取得と分析を1回実行する。
func runPipeline(ctx context.Context, cfg *config.Config, l *slog.Logger, args []string, w io.Writer) error {
	opts, err := parseRunFlags(args, w)
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg, l, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.orchestrator.Run(ctx, opts); err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}
	return nil
}

// runRegister はプラットフォームを登録する。同名のプラットフォームが既にあれば何もしない。
func runRegister(ctx context.Context, cfg *config.Config, l *slog.Logger, args []string, w io.Writer) error {
	opts, err := parseRegisterFlags(args, w)
	if err != nil {
		return err
	}

	db, dialect, err := openStore(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := platform.NewService(repository.NewSQLPlatformRepo(db, dialect), l)
	p, created, err := svc.Register(ctx, opts.Name, opts.Website, opts.Type)
	if err != nil {
		if errors.Is(err, platform.ErrInvalidPlatform) {
			return err
		}
		return fmt.Errorf("failed to register platform: %w", err)
	}

	if created {
		l.Info("プラットフォームを登録しました",
			slog.String("platform", p.Name),
			slog.String("website", p.Website),
			slog.String("type", string(p.Type)),
		)
	} else {
		l.Info("プラットフォームは既に登録されています", slog.String("platform", p.Name))
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// スケジューラでパイプラインを定期実行し、/health と /metrics を公開する。
// ctxがキャンセルされるとスケジューラを止め、HTTPサーバーをグレースフルシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := build(ctx, cfg, l, reg)
	if err != nil {
		return err
	}
	defer c.Close()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: c.db,
		Gatherer:      reg,
		Logger:        l,
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info("運用HTTPサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	scheduler := worker.NewScheduler(c.orchestrator, cfg.WorkerSchedule, workerRunOptions(cfg), l)
	schedErr := scheduler.Start(ctx)

	l.Info("shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if schedErr != nil {
		return schedErr
	}

	l.Info("worker stopped gracefully")
	return nil
}

func workerRunOptions(cfg *config.Config) pipeline.RunOptions {
	pages := cfg.WorkerMaxPages
	if pages < 1 {
		pages = 1
	}
	return pipeline.RunOptions{MaxPages: pages, Analyze: true}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	driver, dsn := storeDSN(cfg)
	l.Info("running database migrations",
		slog.String("driver", driver),
		slog.String("database", maskDSN(driver, dsn)),
	)

	if err := database.RunMigrations(driver, dsn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// isConfigurationError は設定欠落によるエラーかどうかを返す。
func isConfigurationError(err error) bool {
	var ce *model.ConfigurationError
	return errors.As(err, &ce)
}

// maskDSN はデータベースURLの認証情報をマスクする。SQLiteのパスはそのまま返す。
func maskDSN(driver, dsn string) string {
	if driver == database.DriverSQLite {
		return dsn
	}
	if len(dsn) > 20 {
		return dsn[:12] + "***@..."
	}
	return "***"
}
