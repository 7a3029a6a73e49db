package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/threadscope/internal/analysis"
	"github.com/hitoshi/threadscope/internal/analysis/llm"
	"github.com/hitoshi/threadscope/internal/config"
	"github.com/hitoshi/threadscope/internal/content"
	"github.com/hitoshi/threadscope/internal/database"
	"github.com/hitoshi/threadscope/internal/fetch"
	"github.com/hitoshi/threadscope/internal/metrics"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/normalize"
	"github.com/hitoshi/threadscope/internal/pipeline"
	"github.com/hitoshi/threadscope/internal/platform"
	"github.com/hitoshi/threadscope/internal/repository"
	"github.com/hitoshi/threadscope/internal/security"
	"github.com/hitoshi/threadscope/internal/source"
)

// components はrun/workerコマンドが共有する依存関係。
type components struct {
	db           *sql.DB
	platforms    *platform.Service
	orchestrator *pipeline.Orchestrator
	closers      []func()
}

// Close は生成順と逆順に資源を解放し、最後にDB接続を閉じる。
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.db.Close()
}

func storeDSN(cfg *config.Config) (driver, dsn string) {
	if cfg.DBType == database.DriverPostgres {
		return database.DriverPostgres, cfg.DatabaseURL
	}
	return database.DriverSQLite, cfg.SQLitePath
}

// openStore はマイグレーションを適用してからDB接続を開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config, l *slog.Logger) (*sql.DB, repository.Dialect, error) {
	driver, dsn := storeDSN(cfg)

	if err := database.RunMigrations(driver, dsn); err != nil {
		return nil, "", fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	l.Info("database connection established", slog.String("driver", driver))
	return db, repository.Dialect(driver), nil
}

// build はストア、プラットフォーム、分析エンジン、パイプラインを組み立てる。
// 定義ファイルがあれば、そのプラットフォームを先に登録する。
func build(ctx context.Context, cfg *config.Config, l *slog.Logger, reg prometheus.Registerer) (*components, error) {
	db, dialect, err := openStore(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	c := &components{db: db}

	collector := metrics.NewCollector(reg)

	c.platforms = platform.NewService(repository.NewSQLPlatformRepo(db, dialect), l)
	defs, err := platform.LoadDefinitions(cfg.PlatformsFile)
	if err != nil {
		c.Close()
		return nil, err
	}
	if n := defs.RegisterAll(ctx, c.platforms, l); n > 0 {
		l.Info("定義ファイルからプラットフォームを登録しました", slog.Int("registered", n))
	}

	store := content.NewStoreService(
		repository.NewSQLContentRepo(db, dialect),
		repository.NewSQLAnalysisRepo(db, dialect),
		l,
	)

	engine, closeLLM := newAnalyzer(ctx, cfg, collector, l)
	c.closers = append(c.closers, closeLLM)

	c.orchestrator = pipeline.New(pipeline.Config{
		Store:        store,
		Analyzer:     engine,
		Normalizer:   normalize.NewNormalizer(l),
		Platforms:    c.platforms,
		OpenSource:   newSourceOpener(cfg, defs, source.DefaultRegistry(), collector, l),
		Metrics:      collector,
		AnalyzeLimit: cfg.AnalyzeBatchLimit,
	}, l)

	return c, nil
}

// newAnalyzer は分析エンジンを生成する。APIキーがない場合やクライアントを生成できない場合は簡易モードにする。
func newAnalyzer(ctx context.Context, cfg *config.Config, m metrics.MetricsCollector, l *slog.Logger) (*analysis.Engine, func()) {
	chat, closeFn, err := llm.NewFromConfig(ctx, cfg, l)
	if err != nil {
		if isConfigurationError(err) {
			l.Warn("APIキーが未設定のため簡易分析モードで実行します", slog.String("key", cfg.LLMAPIKeyName()))
		} else {
			l.Error("LLMクライアントの生成に失敗したため簡易分析モードで実行します", slog.String("error", err.Error()))
		}
		chat = nil
	}

	return analysis.NewEngine(analysis.Options{
		Chat:           chat,
		LocalSentiment: cfg.LocalSentiment,
		Metrics:        m,
	}, l), closeFn
}

// newSourceOpener はプラットフォームごとに取得セッションを作ってSourceを開く関数を返す。
func newSourceOpener(cfg *config.Config, defs *platform.Definitions, registry *source.Registry, m metrics.MetricsCollector, l *slog.Logger) pipeline.SourceOpener {
	sanitizer := security.NewContentSanitizer()

	return func(ctx context.Context, p *model.Platform) (source.Source, error) {
		opts := []fetch.Option{fetch.WithMetrics(m)}
		if cfg.ScraperSSRFGuard {
			opts = append(opts, fetch.WithURLGuard(security.NewSSRFGuard()))
		}

		client, err := fetch.NewClient(fetch.Config{
			Timeout:       cfg.ScraperTimeout,
			MaxRetries:    cfg.ScraperRetryTimes,
			RetryInterval: cfg.ScraperRetryInterval,
			UserAgent:     cfg.ScraperUserAgent,
			MaxBodySize:   cfg.ScraperMaxBodySize,
			RatePerSecond: cfg.ScraperRatePerSecond,
		}, l.With(slog.String("platform", p.Name)), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetch client for %s: %w", p.Name, err)
		}

		src, err := registry.New(p, source.Deps{
			Fetcher:    client,
			Sanitizer:  sanitizer,
			Definition: defs.Source(p.Name),
			Logger:     l,
		})
		if err != nil {
			client.Close()
			return nil, err
		}
		return src, nil
	}
}
