package security

import "github.com/microcosm-cc/bluemonday"

// ContentSanitizer は取得したHTML本文から危険な要素を取り除く。
// 正規化の前段で使用し、script/styleの中身が本文テキストに混入するのを防ぐ。
type ContentSanitizer interface {
	// Sanitize は段落構造を表すタグのみを残したHTMLを返す。
	// script, style, iframe は中身ごと除去され、リンクと画像はテキストのみ残る。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は投稿本文向けのbluemondayポリシーを構築する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// 属性は一切許可しない
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
