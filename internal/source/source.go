// Package source はプラットフォームごとのコンテンツ取得と解析を提供する。
// パイプラインはSourceインターフェースにのみ依存し、取得元の種類はRegistryで切り替える。
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/threadscope/internal/fetch"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/security"
)

// ErrItemNotFound は指定されたコンテンツが取得元に見つからない場合のエラー。
var ErrItemNotFound = errors.New("item not found")

// Source は1つのプラットフォームからコンテンツを取得する。
type Source interface {
	// FetchPage は一覧の指定ページ（1始まり）の投稿を返す。一覧に本文が含まれない場合はContentが空になる。
	FetchPage(ctx context.Context, page int) ([]model.RawRecord, error)
	// FetchItem は投稿の本文を含む完全なレコードを返す。
	FetchItem(ctx context.Context, contentID string) (*model.RawRecord, error)
	// FetchReplies は投稿への返信の指定ページを返す。ParentIDには投稿の自然キーが入る。
	FetchReplies(ctx context.Context, contentID string, page int) ([]model.RawRecord, error)
	// ParseRawRecord はJSONドキュメントをRawRecordに変換する。
	ParseRawRecord(data []byte) (*model.RawRecord, error)
	Close() error
}

// Fetcher はSourceが使用するHTTP取得セッション。*fetch.Client が実装する。
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*fetch.Response, error)
	SetHeader(key, value string)
	Close()
}

// Deps はSourceの生成に必要な依存。
type Deps struct {
	Fetcher    Fetcher
	Sanitizer  security.ContentSanitizer
	Definition Definition
	Logger     *slog.Logger
}

// Factory はプラットフォームからSourceを生成する。
type Factory func(p *model.Platform, deps Deps) (Source, error)

// Registry はプラットフォーム種別とFactoryの対応を保持する。
type Registry struct {
	mu        sync.RWMutex
	factories map[model.PlatformType]Factory
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[model.PlatformType]Factory)}
}

// DefaultRegistry は組み込みのSource（forum、feed、xiaohongshu）を登録したRegistryを返す。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.PlatformTypeForum, NewForumSource)
	r.Register(model.PlatformTypeFeed, NewFeedSource)
	r.Register(model.PlatformTypeXiaohongshu, NewXiaohongshuSource)
	return r
}

// Register はFactoryを登録する。同じ種別が登録済みの場合は置き換える。
func (r *Registry) Register(t model.PlatformType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Supports は種別が登録済みかどうかを返す。
func (r *Registry) Supports(t model.PlatformType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// New はプラットフォームの種別に対応するSourceを生成する。
func (r *Registry) New(p *model.Platform, deps Deps) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[p.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported platform type: %q", p.Type)
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewContentSanitizer()
	}
	for k, v := range deps.Definition.Headers {
		deps.Fetcher.SetHeader(k, v)
	}
	return f(p, deps)
}

// ParseJSONRecord はRawRecord形式のJSONを解析する。
// 文字列のcreated_timeはParseTimeで解釈する。
func ParseJSONRecord(data []byte) (*model.RawRecord, error) {
	var doc struct {
		model.RawRecord
		CreatedTime any `json:"created_time"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid record JSON: %w", err)
	}
	rec := doc.RawRecord
	rec.CreatedTime = timeFromAny(doc.CreatedTime)
	if rec.ContentType == "" {
		rec.ContentType = model.ContentTypePost
	}
	return &rec, nil
}

func timeFromAny(v any) *time.Time {
	switch t := v.(type) {
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return unixTime(n)
		}
		return ParseTime(t)
	case float64:
		return unixTime(int64(t))
	}
	return nil
}

// unixTime は秒またはミリ秒のUNIX時刻を変換する。0以下はnil。
func unixTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	var t time.Time
	if v > 1e12 {
		t = time.UnixMilli(v).UTC()
	} else {
		t = time.Unix(v, 0).UTC()
	}
	return &t
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTime はサイト上の日時表記を解釈する。解釈できない場合はnil。
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// expand はURLテンプレートの {key} を値で置き換える。
func expand(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func lastPathSegment(href string) string {
	href = strings.TrimRight(strings.SplitN(href, "?", 2)[0], "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// textBlocks は前後で改行を入れるブロック要素。
const textBlocks = "p, br, li, blockquote, pre"

// htmlText はサニタイズ済みHTMLから本文テキストを取り出す。
// 文字参照はデコードし、ブロック要素の境界は改行にする。
func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(fragment))
	}
	doc.Find(textBlocks).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})
	return strings.TrimSpace(doc.Text())
}
