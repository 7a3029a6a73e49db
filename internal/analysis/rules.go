package analysis

import (
	"strings"
	"unicode/utf8"
)

// 重要度フォールバックの加点規則。
const (
	baseImportance       = 50
	longContentRunes     = 1000
	shortContentRunes    = 100
	lengthAdjustment     = 10
	keywordBonusPerMatch = 5
	keywordBonusCap      = 20
)

// FallbackImportance はローカル規則で重要度を算出する。
// 基準50点に、本文の長さ（>1000で+10、<100で-10）、本文中に見つかったキーワード（1個5点、上限20点）、
// 返信数（>10で+15、>5で+10、>0で+5）を加え、[1,100] に丸める。
func FallbackImportance(in Input, keywords []string) int {
	score := baseImportance

	n := runeLen(in.Content)
	switch {
	case n > longContentRunes:
		score += lengthAdjustment
	case n < shortContentRunes:
		score -= lengthAdjustment
	}

	if len(keywords) > 0 {
		lower := strings.ToLower(in.Content)
		found := 0
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				found++
			}
		}
		score += min(found*keywordBonusPerMatch, keywordBonusCap)
	}

	switch {
	case in.RepliesCount > 10:
		score += 15
	case in.RepliesCount > 5:
		score += 10
	case in.RepliesCount > 0:
		score += 5
	}

	return max(1, min(score, 100))
}

// TruncateSummary はテキストがmaxLength文字を超える場合、先頭maxLength文字のうち最後の '.' までを残し、末尾に '.' を付ける。
// '.' がない場合は先頭maxLength文字に '.' を付ける。
func TruncateSummary(text string, maxLength int) string {
	if runeLen(text) <= maxLength {
		return text
	}
	prefix := truncateRunes(text, maxLength)
	if i := strings.LastIndex(prefix, "."); i >= 0 {
		prefix = prefix[:i]
	}
	return prefix + "."
}

// DetectLanguage はCJK統合漢字（U+4E00–U+9FFF）を含む場合 "zh"、それ以外は "en" を返す。
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return "zh"
		}
	}
	return "en"
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func capList(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	if values == nil {
		return []string{}
	}
	return values
}
