package analysis

import (
	"regexp"
	"strings"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/normalize"
)

// VADERのcompoundスコアの閾値。
const (
	localPositiveThreshold = 0.20
	localNegativeThreshold = -0.20
)

var (
	vader          = govader.NewSentimentIntensityAnalyzer()
	markdownLink   = regexp.MustCompile(`\[(.*?)\]\((https?://[^\s)]+)\)`)
	bareURLPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// LocalSentiment はVADERで感情を判定し、compoundスコアとラベルを返す。
// 本文はMarkdownとして描画してからタグとリンクを除去する。
func LocalSentiment(text string) (float64, model.Sentiment) {
	score := vader.PolarityScores(plainText(text)).Compound
	switch {
	case score >= localPositiveThreshold:
		return score, model.SentimentPositive
	case score <= localNegativeThreshold:
		return score, model.SentimentNegative
	default:
		return score, model.SentimentNeutral
	}
}

func plainText(text string) string {
	text = markdownLink.ReplaceAllString(text, "$1")
	rendered := blackfriday.Run([]byte(text), blackfriday.WithNoExtensions())
	plain := normalize.CleanText(string(rendered))
	plain = bareURLPattern.ReplaceAllString(plain, "")
	return strings.Join(strings.Fields(plain), " ")
}
