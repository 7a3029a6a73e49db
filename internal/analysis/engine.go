// Package analysis はコンテンツ本文の感情・キーワード・トピック・要約・重要度を算出する。
// 言語モデルを利用できない場合は各項目をローカルの規則で補う。
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/threadscope/internal/analysis/llm"
	"github.com/hitoshi/threadscope/internal/metrics"
	"github.com/hitoshi/threadscope/internal/model"
)

// 既定値。
const (
	DefaultTopKeywords   = 10
	DefaultTopTopics     = 5
	DefaultSummaryLength = 150
)

// 各サブ分析で言語モデルに渡す本文の最大文字数。
const (
	sentimentInputLimit  = 1000
	keywordsInputLimit   = 1500
	topicsInputLimit     = 1500
	summaryInputLimit    = 2000
	importanceInputLimit = 1000
	topicKeywordHints    = 10
)

// フォールバックのステージ名。メトリクスのラベルに使う。
const (
	StageSentiment  = "sentiment"
	StageKeywords   = "keywords"
	StageTopics     = "topics"
	StageSummary    = "summary"
	StageImportance = "importance"
)

// Mode は分析エンジンの動作モード。
type Mode string

const (
	// ModePrimary は言語モデルを使用するモード。
	ModePrimary Mode = "primary"
	// ModeNoKey は認証情報がなく、ローカルの規則だけで結果を作るモード。
	ModeNoKey Mode = "nokey"
)

// Input は分析対象のコンテンツ。
type Input struct {
	Content      string
	Title        string
	RepliesCount int
	ContentType  model.ContentType
}

// Result は1件の分析結果。
type Result struct {
	Sentiment       model.Sentiment
	Keywords        []string
	Topics          []string
	Summary         string
	ImportanceScore int
	Language        string
}

// Record は結果を永続化用のAnalysisRecordに変換する。
func (r *Result) Record(contentID string) model.AnalysisRecord {
	return model.AnalysisRecord{
		ContentID:       contentID,
		Sentiment:       r.Sentiment,
		Keywords:        model.EncodeStringList(r.Keywords),
		Topics:          model.EncodeStringList(r.Topics),
		Summary:         r.Summary,
		ImportanceScore: r.ImportanceScore,
		Language:        r.Language,
	}
}

// Options はEngineの生成オプション。
type Options struct {
	// Chat がnilの場合はNoKeyモードになる。
	Chat llm.ChatClient
	// LocalSentiment がtrueの場合、NoKeyモードの感情ラベルをVADERで算出する。
	LocalSentiment bool
	Metrics        metrics.MetricsCollector
}

// Engine はコンテンツ分析エンジン。
type Engine struct {
	chat           llm.ChatClient
	localSentiment bool
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
}

// NewEngine はEngineを生成する。
func NewEngine(opts Options, logger *slog.Logger) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	e := &Engine{
		chat:           opts.Chat,
		localSentiment: opts.LocalSentiment,
		metrics:        m,
		logger:         logger,
	}
	if e.chat == nil {
		logger.Info("言語モデルなしの簡易分析で動作します",
			slog.Bool("local_sentiment", e.localSentiment),
		)
	}
	return e
}

// Mode は現在の動作モードを返す。
func (e *Engine) Mode() Mode {
	if e.chat == nil {
		return ModeNoKey
	}
	return ModePrimary
}

// Analyze はコンテンツを分析する。
// 本文が空の場合、または内部で予期しないパニックが発生した場合はokがfalseになる。
func (e *Engine) Analyze(ctx context.Context, in Input) (res *Result, ok bool) {
	if in.Content == "" {
		e.logger.Warn("分析対象の本文が空です")
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("コンテンツ分析に失敗しました", slog.Any("panic", r))
			res, ok = nil, false
		}
	}()

	if e.chat == nil {
		return e.analyzeNoKey(in), true
	}

	sentiment := e.AnalyzeSentiment(ctx, in.Content)
	keywords := e.ExtractKeywords(ctx, in.Content, DefaultTopKeywords)
	topics := e.ExtractTopics(ctx, in.Content, keywords)
	summary := e.GenerateSummary(ctx, in.Content, DefaultSummaryLength)
	score := e.ImportanceScore(ctx, in, keywords, sentiment)

	return &Result{
		Sentiment:       sentiment,
		Keywords:        keywords,
		Topics:          topics,
		Summary:         summary,
		ImportanceScore: score,
		Language:        DetectLanguage(in.Content),
	}, true
}

func (e *Engine) analyzeNoKey(in Input) *Result {
	sentiment := model.SentimentNeutral
	if e.localSentiment {
		_, sentiment = LocalSentiment(in.Content)
	}
	return &Result{
		Sentiment:       sentiment,
		Keywords:        []string{},
		Topics:          []string{},
		Summary:         TruncateSummary(in.Content, DefaultSummaryLength),
		ImportanceScore: FallbackImportance(in, nil),
		Language:        "unknown",
	}
}

// AnalyzeSentiment は感情ラベルを返す。呼び出しに失敗した場合は unknown。
func (e *Engine) AnalyzeSentiment(ctx context.Context, text string) model.Sentiment {
	if e.chat == nil {
		return model.SentimentUnknown
	}
	out, err := e.complete(ctx, StageSentiment,
		"You are a sentiment analysis assistant. Classify the sentiment of the following text. Reply with exactly one of 'positive', 'negative' or 'neutral'.",
		truncateRunes(text, sentimentInputLimit),
	)
	if err != nil {
		e.metrics.RecordAnalysisFallback(StageSentiment)
		return model.SentimentUnknown
	}
	return ClassifySentiment(out)
}

// ClassifySentiment はモデルの応答を感情ラベルに正規化する。
func ClassifySentiment(answer string) model.Sentiment {
	answer = strings.ToLower(strings.TrimSpace(answer))
	switch {
	case strings.Contains(answer, "positive"):
		return model.SentimentPositive
	case strings.Contains(answer, "negative"):
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// ExtractKeywords は最大topN個のキーワードを返す。失敗時は空スライス。
func (e *Engine) ExtractKeywords(ctx context.Context, text string, topN int) []string {
	if e.chat == nil {
		return []string{}
	}
	out, err := e.complete(ctx, StageKeywords,
		fmt.Sprintf(`You are a keyword extraction assistant. Extract at most %d keywords from the following text and return them as a JSON array, e.g. ["keyword1", "keyword2", ...].`, topN),
		truncateRunes(text, keywordsInputLimit),
	)
	if err != nil {
		e.metrics.RecordAnalysisFallback(StageKeywords)
		return []string{}
	}
	return capList(ParseList(strings.TrimSpace(out)), topN)
}

// ExtractTopics は最大5個のトピックを返す。呼び出しに失敗した場合はキーワードの先頭5個で代替する。
func (e *Engine) ExtractTopics(ctx context.Context, text string, keywords []string) []string {
	if e.chat == nil {
		return []string{}
	}
	system := fmt.Sprintf(`You are a topic extraction expert. Identify %d main topics or categories in the following text and return them as a JSON array, e.g. ["topic1", "topic2", ...].`, DefaultTopTopics)
	if len(keywords) > 0 {
		system += " Reference keywords: " + strings.Join(capList(keywords, topicKeywordHints), ", ")
	}
	out, err := e.complete(ctx, StageTopics, system, truncateRunes(text, topicsInputLimit))
	if err != nil {
		e.metrics.RecordAnalysisFallback(StageTopics)
		return capList(append([]string{}, keywords...), DefaultTopTopics)
	}
	return capList(ParseList(strings.TrimSpace(out)), DefaultTopTopics)
}

// GenerateSummary はmaxLength文字以内の要約を返す。失敗時は本文を文の区切りで切り詰める。
func (e *Engine) GenerateSummary(ctx context.Context, text string, maxLength int) string {
	if e.chat == nil {
		return TruncateSummary(text, maxLength)
	}
	out, err := e.complete(ctx, StageSummary,
		fmt.Sprintf("You are a text summarization expert. Write a concise summary of the following text in no more than %d characters.", maxLength),
		truncateRunes(text, summaryInputLimit),
	)
	if err != nil {
		e.metrics.RecordAnalysisFallback(StageSummary)
		return TruncateSummary(text, maxLength)
	}
	return TruncateSummary(strings.TrimSpace(out), maxLength)
}

var scorePattern = regexp.MustCompile(`\b(\d{1,3})\b`)

// ImportanceScore は重要度スコア [1,100] を返す。
// 応答から数値を取り出せない場合や呼び出しに失敗した場合はFallbackImportanceを使う。
func (e *Engine) ImportanceScore(ctx context.Context, in Input, keywords []string, sentiment model.Sentiment) int {
	if e.chat == nil {
		return FallbackImportance(in, nil)
	}

	out, err := e.complete(ctx, StageImportance,
		"You are a content evaluation expert. Rate the importance of the following content with an integer from 1 to 100. Reply with the integer only.",
		fmt.Sprintf("Content: %s\n\nContext: %s", truncateRunes(in.Content, importanceInputLimit), importanceContext(in, keywords, sentiment)),
	)
	if err == nil {
		if m := scorePattern.FindStringSubmatch(strings.TrimSpace(out)); m != nil {
			if score, convErr := strconv.Atoi(m[1]); convErr == nil {
				return model.ClampImportance(score)
			}
		}
	}
	e.metrics.RecordAnalysisFallback(StageImportance)
	return FallbackImportance(in, keywords)
}

func importanceContext(in Input, keywords []string, sentiment model.Sentiment) string {
	contentType := in.ContentType
	if contentType == "" {
		contentType = model.ContentTypePost
	}
	ctxInfo := struct {
		ContentLength int      `json:"content_length"`
		HasTitle      bool     `json:"has_title"`
		RepliesCount  int      `json:"replies_count"`
		ContentType   string   `json:"content_type"`
		Keywords      []string `json:"keywords,omitempty"`
		Sentiment     string   `json:"sentiment,omitempty"`
	}{
		ContentLength: runeLen(in.Content),
		HasTitle:      in.Title != "",
		RepliesCount:  in.RepliesCount,
		ContentType:   string(contentType),
		Keywords:      capList(keywords, topicKeywordHints),
		Sentiment:     string(sentiment),
	}
	b, err := json.Marshal(ctxInfo)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// complete はsystemとuserの2メッセージで言語モデルを呼び出し、レイテンシを記録する。
func (e *Engine) complete(ctx context.Context, stage, system, user string) (string, error) {
	start := time.Now()
	out, err := e.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	})
	e.metrics.RecordLLMLatency(time.Since(start))
	if err != nil {
		e.logger.Error("言語モデルの呼び出しに失敗しました",
			slog.String("stage", stage),
			slog.Bool("transient", model.IsTransient(err)),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return out, nil
}
