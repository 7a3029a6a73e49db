package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/threadscope/internal/analysis/llm"
	"github.com/hitoshi/threadscope/internal/metrics"
	"github.com/hitoshi/threadscope/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stageChat はsystemプロンプトの内容からサブ分析を判別し、ステージごとの応答を返すChatClient。
type stageChat struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	lastUser  map[string]string
	lastSys   map[string]string
}

func newStageChat() *stageChat {
	return &stageChat{
		responses: map[string]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
		lastUser:  map[string]string{},
		lastSys:   map[string]string{},
	}
}

func stageOf(system string) string {
	switch {
	case strings.Contains(system, "sentiment"):
		return StageSentiment
	case strings.Contains(system, "keyword extraction"):
		return StageKeywords
	case strings.Contains(system, "topic"):
		return StageTopics
	case strings.Contains(system, "summar"):
		return StageSummary
	default:
		return StageImportance
	}
}

func (s *stageChat) Complete(_ context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage := stageOf(messages[0].Content)
	s.calls[stage]++
	s.lastSys[stage] = messages[0].Content
	s.lastUser[stage] = messages[1].Content
	if err := s.errs[stage]; err != nil {
		return "", err
	}
	return s.responses[stage], nil
}

// fallbackRecorder はフォールバックのステージを記録するMetricsCollector。
type fallbackRecorder struct {
	metrics.Nop
	stages []string
	llm    int
}

func (f *fallbackRecorder) RecordAnalysisFallback(stage string) { f.stages = append(f.stages, stage) }
func (f *fallbackRecorder) RecordLLMLatency(time.Duration)     { f.llm++ }

func TestEngine_NoKeyMode(t *testing.T) {
	e := NewEngine(Options{}, testLogger())
	if e.Mode() != ModeNoKey {
		t.Fatalf("Mode = %s, want nokey", e.Mode())
	}

	content := strings.Repeat("a", 1500)
	res, ok := e.Analyze(context.Background(), Input{Content: content, RepliesCount: 12})
	if !ok {
		t.Fatal("分析結果が返されるべきです")
	}
	if res.ImportanceScore != 75 {
		t.Errorf("ImportanceScore = %d, want 75", res.ImportanceScore)
	}
	if res.Sentiment != model.SentimentNeutral {
		t.Errorf("Sentiment = %s, want neutral", res.Sentiment)
	}
	if len(res.Keywords) != 0 || len(res.Topics) != 0 {
		t.Errorf("キーワードとトピックは空であるべきです: %v %v", res.Keywords, res.Topics)
	}
	if res.Language != "unknown" {
		t.Errorf("Language = %s, want unknown", res.Language)
	}
	if want := strings.Repeat("a", 150) + "."; res.Summary != want {
		t.Errorf("Summary の長さ = %d, want %d", len(res.Summary), len(want))
	}

	rec := res.Record("content-1")
	if rec.Keywords != "[]" || rec.Topics != "[]" {
		t.Errorf("空リストは [] として保存されるべきです: %q %q", rec.Keywords, rec.Topics)
	}
}

func TestEngine_NoKeyMode_LocalSentiment(t *testing.T) {
	e := NewEngine(Options{LocalSentiment: true}, testLogger())
	res, ok := e.Analyze(context.Background(), Input{Content: "I love this, it is wonderful and great!"})
	if !ok {
		t.Fatal("分析結果が返されるべきです")
	}
	if res.Sentiment != model.SentimentPositive {
		t.Errorf("Sentiment = %s, want positive", res.Sentiment)
	}
}

func TestEngine_EmptyContent(t *testing.T) {
	e := NewEngine(Options{Chat: newStageChat()}, testLogger())
	if res, ok := e.Analyze(context.Background(), Input{}); ok || res != nil {
		t.Errorf("空の本文では結果なしになるべきです: %+v", res)
	}
}

type panicChat struct{}

func (panicChat) Complete(context.Context, []llm.Message) (string, error) {
	panic("boom")
}

func TestEngine_RecoversFromPanic(t *testing.T) {
	e := NewEngine(Options{Chat: panicChat{}}, testLogger())
	if res, ok := e.Analyze(context.Background(), Input{Content: "text"}); ok || res != nil {
		t.Errorf("パニック時は結果なしになるべきです: %+v", res)
	}
}

func TestEngine_PrimaryMode(t *testing.T) {
	chat := newStageChat()
	chat.responses[StageSentiment] = " Positive "
	chat.responses[StageKeywords] = `Here you go: ["golang", "concurrency", "channels"]`
	chat.responses[StageTopics] = "1. Programming\n2. Software design"
	chat.responses[StageSummary] = "Go makes concurrency approachable."
	chat.responses[StageImportance] = "Score: 82"
	rec := &fallbackRecorder{}

	e := NewEngine(Options{Chat: chat, Metrics: rec}, testLogger())
	in := Input{Content: "Go 语言的并发模型 with goroutines and channels.", Title: "Go", RepliesCount: 3, ContentType: model.ContentTypePost}
	res, ok := e.Analyze(context.Background(), in)
	if !ok {
		t.Fatal("分析結果が返されるべきです")
	}

	if res.Sentiment != model.SentimentPositive {
		t.Errorf("Sentiment = %s", res.Sentiment)
	}
	if strings.Join(res.Keywords, ",") != "golang,concurrency,channels" {
		t.Errorf("Keywords = %v", res.Keywords)
	}
	if strings.Join(res.Topics, ",") != "Programming,Software design" {
		t.Errorf("Topics = %v", res.Topics)
	}
	if res.Summary != "Go makes concurrency approachable." {
		t.Errorf("Summary = %q", res.Summary)
	}
	if res.ImportanceScore != 82 {
		t.Errorf("ImportanceScore = %d, want 82", res.ImportanceScore)
	}
	if res.Language != "zh" {
		t.Errorf("Language = %s, want zh", res.Language)
	}
	if len(rec.stages) != 0 {
		t.Errorf("フォールバックは使われないべきです: %v", rec.stages)
	}
	if rec.llm != 5 {
		t.Errorf("LLM呼び出しの記録数 = %d, want 5", rec.llm)
	}

	if !strings.Contains(chat.lastSys[StageTopics], "golang, concurrency, channels") {
		t.Errorf("トピック抽出にキーワードのヒントが含まれるべきです: %q", chat.lastSys[StageTopics])
	}
	for _, want := range []string{`"content_type":"post"`, `"has_title":true`, `"replies_count":3`, `"sentiment":"positive"`, `"keywords":["golang","concurrency","channels"]`} {
		if !strings.Contains(chat.lastUser[StageImportance], want) {
			t.Errorf("重要度の文脈に %s が含まれるべきです: %q", want, chat.lastUser[StageImportance])
		}
	}
}

func TestEngine_AllCallsFail(t *testing.T) {
	chat := newStageChat()
	failure := &model.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
	for _, s := range []string{StageSentiment, StageKeywords, StageTopics, StageSummary, StageImportance} {
		chat.errs[s] = failure
	}
	rec := &fallbackRecorder{}
	e := NewEngine(Options{Chat: chat, Metrics: rec}, testLogger())

	content := strings.Repeat("word ", 300)
	res, ok := e.Analyze(context.Background(), Input{Content: content, RepliesCount: 12})
	if !ok {
		t.Fatal("フォールバックで結果が返されるべきです")
	}
	if res.Sentiment != model.SentimentUnknown {
		t.Errorf("Sentiment = %s, want unknown", res.Sentiment)
	}
	if len(res.Keywords) != 0 || len(res.Topics) != 0 {
		t.Errorf("Keywords/Topics = %v / %v", res.Keywords, res.Topics)
	}
	if res.ImportanceScore != 75 {
		t.Errorf("ImportanceScore = %d, want 75", res.ImportanceScore)
	}
	if !strings.HasSuffix(res.Summary, ".") || len([]rune(res.Summary)) > DefaultSummaryLength+1 {
		t.Errorf("Summary = %q", res.Summary)
	}
	if len(rec.stages) != 5 {
		t.Errorf("フォールバック数 = %d, want 5 (%v)", len(rec.stages), rec.stages)
	}
}

func TestEngine_AnalyzeSentiment(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		want   model.Sentiment
	}{
		{"positive", "POSITIVE", nil, model.SentimentPositive},
		{"negative", "the sentiment is negative.", nil, model.SentimentNegative},
		{"どちらも含まない", "mixed feelings", nil, model.SentimentNeutral},
		{"positiveが優先", "not negative but positive", nil, model.SentimentPositive},
		{"呼び出し失敗", "", &model.ResponseFormatError{Err: errors.New("no choices")}, model.SentimentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := newStageChat()
			chat.responses[StageSentiment] = tt.answer
			if tt.err != nil {
				chat.errs[StageSentiment] = tt.err
			}
			e := NewEngine(Options{Chat: chat}, testLogger())
			if got := e.AnalyzeSentiment(context.Background(), "text"); got != tt.want {
				t.Errorf("AnalyzeSentiment = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEngine_InputTruncation(t *testing.T) {
	chat := newStageChat()
	chat.responses[StageImportance] = "50"
	e := NewEngine(Options{Chat: chat}, testLogger())

	text := strings.Repeat("語", 3000)
	e.AnalyzeSentiment(context.Background(), text)
	e.ExtractKeywords(context.Background(), text, DefaultTopKeywords)
	e.ExtractTopics(context.Background(), text, nil)
	e.GenerateSummary(context.Background(), text, DefaultSummaryLength)

	want := map[string]int{
		StageSentiment: 1000,
		StageKeywords:  1500,
		StageTopics:    1500,
		StageSummary:   2000,
	}
	for stage, n := range want {
		if got := len([]rune(chat.lastUser[stage])); got != n {
			t.Errorf("%s の入力文字数 = %d, want %d", stage, got, n)
		}
	}
}

func TestEngine_ExtractKeywords_CapsToTopN(t *testing.T) {
	chat := newStageChat()
	chat.responses[StageKeywords] = `["a","b","c","d","e","f"]`
	e := NewEngine(Options{Chat: chat}, testLogger())

	got := e.ExtractKeywords(context.Background(), "text", 3)
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("ExtractKeywords = %v", got)
	}
	if !strings.Contains(chat.lastSys[StageKeywords], "at most 3 keywords") {
		t.Errorf("プロンプトに上限が含まれるべきです: %q", chat.lastSys[StageKeywords])
	}
}

func TestEngine_ExtractTopics_FailureUsesKeywords(t *testing.T) {
	chat := newStageChat()
	chat.errs[StageTopics] = errors.New("down")
	e := NewEngine(Options{Chat: chat}, testLogger())

	got := e.ExtractTopics(context.Background(), "text", []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"})
	if strings.Join(got, ",") != "k1,k2,k3,k4,k5" {
		t.Errorf("ExtractTopics = %v", got)
	}
}

func TestEngine_GenerateSummary_TruncatesLongAnswer(t *testing.T) {
	chat := newStageChat()
	chat.responses[StageSummary] = strings.Repeat("x", 100) + ". " + strings.Repeat("y", 100)
	e := NewEngine(Options{Chat: chat}, testLogger())

	got := e.GenerateSummary(context.Background(), "source", DefaultSummaryLength)
	if want := strings.Repeat("x", 100) + "."; got != want {
		t.Errorf("GenerateSummary = %q, want %q", got, want)
	}
}

func TestEngine_ImportanceScore(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		want   int
	}{
		{"数値をそのまま使う", "73", nil, 73},
		{"上限に丸める", "250", nil, 100},
		{"下限に丸める", "0", nil, 1},
		{"4桁は一致しない", "1000 points", nil, 40},
		{"数値がない", "very important", nil, 40},
		{"呼び出し失敗", "", errors.New("down"), 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := newStageChat()
			chat.responses[StageImportance] = tt.answer
			if tt.err != nil {
				chat.errs[StageImportance] = tt.err
			}
			e := NewEngine(Options{Chat: chat}, testLogger())
			got := e.ImportanceScore(context.Background(), Input{Content: "short"}, nil, model.SentimentNeutral)
			if got != tt.want {
				t.Errorf("ImportanceScore = %d, want %d", got, tt.want)
			}
			if got < model.MinImportanceScore || got > model.MaxImportanceScore {
				t.Errorf("スコアが範囲外です: %d", got)
			}
		})
	}
}
