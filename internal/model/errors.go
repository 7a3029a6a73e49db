package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord はレコードの必須フィールドが欠けている場合のエラー。
	ErrInvalidRecord = errors.New("invalid record")
	// ErrAlreadyAnalyzed は分析結果が既に登録済みの場合のエラー。
	ErrAlreadyAnalyzed = errors.New("content already analyzed")
	// ErrContentNotFound は指定コンテンツが存在しない場合のエラー。
	ErrContentNotFound = errors.New("content not found")
)

// FetchFailure はリトライを使い切った後の確定的な取得失敗。
type FetchFailure struct {
	URL        string
	Attempts   int
	StatusCode int // 最後の試行のHTTPステータス。通信エラーの場合は0
	Err        error
}

func (e *FetchFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts: status %d", e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchFailure) Unwrap() error { return e.Err }

// TransientError はリトライ可能な一時的エラー（通信エラー、タイムアウト、429、5xx）を表す。
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient はエラーがリトライ可能かどうかを返す。
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ResponseFormatError は外部APIの応答が期待した形式でない場合のエラー。リトライしない。
type ResponseFormatError struct {
	StatusCode int
	Err        error
}

func (e *ResponseFormatError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("unexpected response (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("unexpected response: %v", e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

// PersistenceError は1レコードの書き込み失敗。該当レコードはロールバックされる。
type PersistenceError struct {
	PlatformID string
	ContentID  string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist content %s/%s: %v", e.PlatformID, e.ContentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError は必須設定（APIキーなど）の欠落を表す。
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Key)
}
