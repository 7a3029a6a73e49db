package model

import (
	"encoding/json"
	"time"
)

// Sentiment は感情分析のラベル。
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentUnknown  Sentiment = "unknown"
)

// 重要度スコアの範囲。
const (
	MinImportanceScore = 1
	MaxImportanceScore = 100
)

// ClampImportance はスコアを [1, 100] に丸める。
func ClampImportance(score int) int {
	if score < MinImportanceScore {
		return MinImportanceScore
	}
	if score > MaxImportanceScore {
		return MaxImportanceScore
	}
	return score
}

// AnalysisRecord は1件のコンテンツに対する分析結果。
// Keywords と Topics は文字列配列のJSONテキストとして保持する。
type AnalysisRecord struct {
	ID              string
	ContentID       string // StoredContent.ID
	Sentiment       Sentiment
	Keywords        string
	Topics          string
	Summary         string
	ImportanceScore int
	Language        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// KeywordList はキーワードをデシリアライズして返す。
func (a *AnalysisRecord) KeywordList() []string {
	return decodeStringList(a.Keywords)
}

// TopicList はトピックをデシリアライズして返す。
func (a *AnalysisRecord) TopicList() []string {
	return decodeStringList(a.Topics)
}

// EncodeStringList は文字列スライスをJSON配列テキストに変換する。nilは "[]" になる。
func EncodeStringList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStringList(s string) []string {
	if s == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}
