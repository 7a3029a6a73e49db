// Package llm はチャット形式の言語モデルAPIクライアントを提供する。
// プロバイダごとの実装、一時的エラーのリトライ、応答キャッシュを同じインターフェースで重ねて使う。
package llm

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/hitoshi/threadscope/internal/model"
)

// メッセージのロール。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message はチャットの1メッセージ。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient はメッセージ列を送信し、最初の候補の本文を返す。
// 一時的な失敗は *model.TransientError、それ以外は *model.ResponseFormatError として返す。
type ChatClient interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// DefaultTemperature は分析リクエストの既定temperature。
const DefaultTemperature = 0.3

// classifyStatus はHTTPステータスからエラーを分類する。429と5xxのみリトライ対象。
func classifyStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return &model.TransientError{StatusCode: status, Err: err}
	}
	return &model.ResponseFormatError{StatusCode: status, Err: err}
}

// classifyTransport はHTTPステータスを伴わないエラーを分類する。
// 通信エラーとタイムアウトはリトライ対象、それ以外（JSONの解析失敗など）は形式エラー。
func classifyTransport(err error) error {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &model.TransientError{Err: err}
	}
	return &model.ResponseFormatError{Err: err}
}
