// Package pipeline はプラットフォームごとの取得・正規化・保存と、未分析コンテンツの分析を順に実行する。
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/threadscope/internal/analysis"
	"github.com/hitoshi/threadscope/internal/metrics"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/normalize"
	"github.com/hitoshi/threadscope/internal/source"
)

// DefaultAnalyzeLimit は1回の実行で分析するコンテンツの既定の上限。
const DefaultAnalyzeLimit = 10

// スキップ理由のステージ名。メトリクスのラベルに使う。
const (
	StageList     = "list"
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageStore    = "store"
	StageReplies  = "replies"
	StageAnalyze  = "analyze"
	StageAttach   = "attach"
)

// Store はコンテンツの保存先。*content.StoreService が実装する。
type Store interface {
	Upsert(ctx context.Context, platformID string, rec model.NormalizedRecord) (*model.StoredContent, bool, error)
	AttachAnalysis(ctx context.Context, contentID string, a model.AnalysisRecord) (*model.AnalysisRecord, error)
	ListUnanalyzed(ctx context.Context, limit int) ([]*model.StoredContent, error)
}

// Analyzer はコンテンツを分析する。*analysis.Engine が実装する。
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, bool)
}

// PlatformResolver はプラットフォーム名を解決する。*platform.Service が実装する。
type PlatformResolver interface {
	Resolve(ctx context.Context, names []string) ([]*model.Platform, []string, error)
}

// SourceOpener はプラットフォームのSourceを開く。
type SourceOpener func(ctx context.Context, p *model.Platform) (source.Source, error)

// Stats は実行結果の集計。
type Stats struct {
	Platforms     int
	Pages         int
	Listed        int
	Stored        int
	Deduplicated  int
	Skipped       int
	Analyzed      int
	AnalyzeFailed int
}

// Add はoの値を加算する。
func (s *Stats) Add(o Stats) {
	s.Platforms += o.Platforms
	s.Pages += o.Pages
	s.Listed += o.Listed
	s.Stored += o.Stored
	s.Deduplicated += o.Deduplicated
	s.Skipped += o.Skipped
	s.Analyzed += o.Analyzed
	s.AnalyzeFailed += o.AnalyzeFailed
}

// Config はOrchestratorの依存。
type Config struct {
	Store        Store
	Analyzer     Analyzer
	Normalizer   *normalize.Normalizer
	Platforms    PlatformResolver
	OpenSource   SourceOpener
	Metrics      metrics.MetricsCollector
	AnalyzeLimit int
}

// Orchestrator は取得から分析までを1スレッドで順に実行する。
// 個々のコンテンツの失敗はログとメトリクスに記録してスキップし、実行全体は止めない。
type Orchestrator struct {
	store        Store
	analyzer     Analyzer
	normalizer   *normalize.Normalizer
	platforms    PlatformResolver
	openSource   SourceOpener
	metrics      metrics.MetricsCollector
	analyzeLimit int
	logger       *slog.Logger
}

// New はOrchestratorを生成する。
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:        cfg.Store,
		analyzer:     cfg.Analyzer,
		normalizer:   cfg.Normalizer,
		platforms:    cfg.Platforms,
		openSource:   cfg.OpenSource,
		metrics:      cfg.Metrics,
		analyzeLimit: cfg.AnalyzeLimit,
		logger:       logger,
	}
	if o.normalizer == nil {
		o.normalizer = normalize.NewNormalizer(logger)
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop{}
	}
	if o.analyzeLimit <= 0 {
		o.analyzeLimit = DefaultAnalyzeLimit
	}
	return o
}

// RunOptions は1回の実行の指定。
type RunOptions struct {
	// Platforms が空の場合は登録済みの全プラットフォームを対象にする。
	Platforms []string
	MaxPages  int
	Analyze   bool
}

// Run はプラットフォームを順に取得し、続けて未分析コンテンツを分析する。
// プラットフォームの解決に失敗した場合と、ctxがキャンセルされた場合にエラーを返す。
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Stats, error) {
	start := time.Now()
	var total Stats

	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}

	platforms, unknown, err := o.platforms.Resolve(ctx, opts.Platforms)
	if err != nil {
		return total, err
	}
	for _, name := range unknown {
		o.logger.Error("プラットフォームが登録されていません", slog.String("platform", name))
	}
	if len(platforms) == 0 {
		o.logger.Warn("取得対象のプラットフォームがありません")
	}

	for _, p := range platforms {
		if ctx.Err() != nil {
			break
		}
		src, err := o.openSource(ctx, p)
		if err != nil {
			o.logger.Error("取得元の初期化に失敗しました",
				slog.String("platform", p.Name),
				slog.String("type", string(p.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		total.Add(o.ScrapePlatform(ctx, p, src, opts.MaxPages))
	}

	if opts.Analyze && ctx.Err() == nil {
		total.Add(o.AnalyzePending(ctx, o.analyzeLimit))
	}

	o.logger.Info("実行が完了しました",
		slog.Int("platforms", total.Platforms),
		slog.Int("pages", total.Pages),
		slog.Int("stored", total.Stored),
		slog.Int("deduplicated", total.Deduplicated),
		slog.Int("skipped", total.Skipped),
		slog.Int("analyzed", total.Analyzed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, ctx.Err()
}

// ScrapePlatform は一覧の1〜maxPagesページを取得し、各投稿の本文と返信を保存する。
// srcはすべての終了経路で閉じられる。
func (o *Orchestrator) ScrapePlatform(ctx context.Context, p *model.Platform, src source.Source, maxPages int) (stats Stats) {
	logger := o.logger.With(slog.String("platform", p.Name))
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("取得元のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}()

	stats.Platforms = 1
	logger.Info("プラットフォームの取得を開始します", slog.Int("max_pages", maxPages))

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return stats
		}
		listed, err := src.FetchPage(ctx, page)
		if err != nil {
			logger.Error("投稿一覧の取得に失敗しました",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			o.metrics.RecordItemSkipped(p.Name, StageList)
			stats.Skipped++
			continue
		}
		stats.Pages++
		stats.Listed += len(listed)

		for _, item := range listed {
			if ctx.Err() != nil {
				return stats
			}
			o.scrapePost(ctx, p, src, item, maxPages, logger, &stats)
		}
	}

	if stats.Listed == 0 {
		logger.Warn("投稿を取得できませんでした")
	}
	logger.Info("プラットフォームの取得が完了しました",
		slog.Int("listed", stats.Listed),
		slog.Int("stored", stats.Stored),
		slog.Int("deduplicated", stats.Deduplicated),
		slog.Int("skipped", stats.Skipped),
	)
	return stats
}

func (o *Orchestrator) scrapePost(ctx context.Context, p *model.Platform, src source.Source, item model.RawRecord, maxPages int, logger *slog.Logger, stats *Stats) {
	full, err := src.FetchItem(ctx, item.ContentID)
	if err != nil {
		logger.Error("投稿本文の取得に失敗しました",
			slog.String("url", item.URL),
			slog.String("content_id", item.ContentID),
			slog.String("error", err.Error()),
		)
		o.metrics.RecordItemSkipped(p.Name, StageFetch)
		stats.Skipped++
		return
	}
	if !o.save(ctx, p, *full, logger, stats) {
		return
	}

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return
		}
		replies, err := src.FetchReplies(ctx, item.ContentID, page)
		if err != nil {
			logger.Error("返信の取得に失敗しました",
				slog.String("url", full.URL),
				slog.String("content_id", item.ContentID),
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			o.metrics.RecordItemSkipped(p.Name, StageReplies)
			stats.Skipped++
			continue
		}
		if len(replies) == 0 {
			continue
		}
		logger.Info("返信を取得しました",
			slog.String("content_id", item.ContentID),
			slog.Int("replies", len(replies)),
		)
		for _, reply := range replies {
			if reply.ParentID == "" {
				reply.ParentID = item.ContentID
			}
			o.save(ctx, p, reply, logger, stats)
		}
	}
}

// save は1件を正規化して保存する。保存済み（重複を含む）ならtrue。
func (o *Orchestrator) save(ctx context.Context, p *model.Platform, raw model.RawRecord, logger *slog.Logger, stats *Stats) bool {
	rec := o.normalizer.Normalize(raw)
	stored, created, err := o.store.Upsert(ctx, p.ID, rec)
	if err != nil {
		stage := StageStore
		if errors.Is(err, model.ErrInvalidRecord) {
			stage = StageValidate
		}
		logger.Error("コンテンツの保存をスキップしました",
			slog.String("url", rec.URL),
			slog.String("content_id", rec.ContentID),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		o.metrics.RecordItemSkipped(p.Name, stage)
		stats.Skipped++
		return false
	}

	if created {
		o.metrics.RecordItemStored(p.Name)
		stats.Stored++
		logger.Info("コンテンツを保存しました",
			slog.String("content_id", stored.ContentID),
			slog.String("id", stored.ID),
		)
	} else {
		o.metrics.RecordItemDeduplicated(p.Name)
		stats.Deduplicated++
		logger.Info("コンテンツは既に保存されています", slog.String("content_id", stored.ContentID))
	}
	return true
}

// AnalyzePending は未分析のコンテンツを最大limit件分析し、結果を登録する。
// 分析段階のスキップはプラットフォームを問わないため、メトリクスのplatformラベルは空になる。
func (o *Orchestrator) AnalyzePending(ctx context.Context, limit int) (stats Stats) {
	if limit <= 0 {
		limit = o.analyzeLimit
	}
	contents, err := o.store.ListUnanalyzed(ctx, limit)
	if err != nil {
		o.logger.Error("未分析コンテンツの取得に失敗しました", slog.String("error", err.Error()))
		return stats
	}
	if len(contents) == 0 {
		o.logger.Info("分析が必要なコンテンツはありません")
		return stats
	}
	o.logger.Info("コンテンツの分析を開始します", slog.Int("count", len(contents)))

	for _, c := range contents {
		if ctx.Err() != nil {
			break
		}
		res, ok := o.analyzer.Analyze(ctx, analysis.Input{
			Content:      c.Content,
			Title:        c.Title,
			RepliesCount: c.RepliesCount,
			ContentType:  c.ContentType,
		})
		if !ok {
			o.logger.Warn("コンテンツの分析に失敗しました",
				slog.String("content_id", c.ContentID),
				slog.String("id", c.ID),
			)
			o.metrics.RecordItemSkipped("", StageAnalyze)
			stats.AnalyzeFailed++
			continue
		}

		if _, err := o.store.AttachAnalysis(ctx, c.ID, res.Record(c.ID)); err != nil {
			o.logger.Error("分析結果の登録に失敗しました",
				slog.String("content_id", c.ContentID),
				slog.String("id", c.ID),
				slog.String("error", err.Error()),
			)
			o.metrics.RecordItemSkipped("", StageAttach)
			stats.AnalyzeFailed++
			continue
		}

		o.metrics.RecordAnalysis(string(res.Sentiment))
		stats.Analyzed++
		o.logger.Info("コンテンツの分析が完了しました",
			slog.String("content_id", c.ContentID),
			slog.String("sentiment", string(res.Sentiment)),
			slog.Int("importance_score", res.ImportanceScore),
		)
	}
	return stats
}
