// Package normalize は取得したレコードのテキストとURLを正規化する。
package normalize

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/hitoshi/threadscope/internal/model"
)

var (
	// 改行をまたぐタグも1つのタグとして除去する。
	// 空白の畳み込みで新しいタグが組み上がらないようにするため、冪等性に必要。
	tagPattern        = regexp.MustCompile(`(?s)<.*?>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	newlinePattern    = regexp.MustCompile(`\n+`)
)

// CleanText はHTMLタグを除去し、空白を畳み込んで前後の空白を取り除く。
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = tagPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = newlinePattern.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// NormalizeURL はスキームを補完し、末尾のスラッシュを取り除く。
// 空文字列は空文字列のまま返す。スキーム部分の "//" は削らない。
func NormalizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	scheme := "https://"
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		rawURL = rawURL[len("https://"):]
	case strings.HasPrefix(rawURL, "http://"):
		scheme = "http://"
		rawURL = rawURL[len("http://"):]
	}
	return scheme + strings.TrimRight(rawURL, "/")
}

// Normalizer はRawRecordをNormalizedRecordに変換する。
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer はNormalizerを生成する。
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize はレコードの本文、タイトル、URLを正規化する。失敗しない。
// 内部でpanicした場合はログを残し、フィールドをそのまま通過させる。
func (n *Normalizer) Normalize(raw model.RawRecord) (out model.NormalizedRecord) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("正規化中にpanicが発生したため元の値を使用します",
				slog.String("content_id", raw.ContentID),
				slog.Any("panic", r),
			)
			out = model.NormalizedRecord{RawRecord: raw, Processed: true}
		}
	}()

	rec := raw
	rec.Content = CleanText(raw.Content)
	rec.Title = CleanText(raw.Title)
	rec.URL = NormalizeURL(raw.URL)
	return model.NormalizedRecord{RawRecord: rec, Processed: true}
}

// NormalizeBatch は複数のレコードを順に正規化する。
func (n *Normalizer) NormalizeBatch(raws []model.RawRecord) []model.NormalizedRecord {
	out := make([]model.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw))
	}
	return out
}
