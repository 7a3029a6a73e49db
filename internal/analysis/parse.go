package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// listTrimChars は行分割で取り出した項目の前後から取り除く文字。
const listTrimChars = " \"',.;:()[]{}"

// ParseList はモデルの応答から文字列リストを取り出す。
// まずJSON配列として解釈し、空でない結果が得られなければ行ごとの列挙として解釈する。
func ParseList(content string) []string {
	if items, ok := ParseJSONList(content); ok && len(items) > 0 {
		return items
	}
	return ParseLineList(content)
}

// ParseJSONList は最初の '[' から最後の ']' までをJSON配列として解析する。
// 要素は文字列化してトリムし、空の要素は除く。配列が見つからないか解析できない場合はokがfalse。
func ParseJSONList(content string) (items []string, ok bool) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var raw []any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, false
	}

	items = []string{}
	for _, v := range raw {
		if isEmptyValue(v) {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s != "" {
			items = append(items, s)
		}
	}
	return items, true
}

// ParseLineList は空でない各行について最後の '.' より後ろを取り、前後の記号を除く。
// "1. foo" のような番号付きの列挙を想定している。
func ParseLineList(content string) []string {
	items := []string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.LastIndex(line, "."); i >= 0 {
			line = line[i+1:]
		}
		if item := strings.Trim(line, listTrimChars); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
