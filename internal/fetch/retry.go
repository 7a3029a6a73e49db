package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// StatusClass はHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は2xx。
	StatusOK StatusClass = iota
	// StatusClientError は429以外の4xx。
	StatusClientError
	// StatusThrottled は429。
	StatusThrottled
	// StatusServerError は5xx。
	StatusServerError
	// StatusUnexpected はそれ以外（1xx、リダイレクト未追跡の3xxなど）。
	StatusUnexpected
)

func (c StatusClass) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusClientError:
		return "client_error"
	case StatusThrottled:
		return "throttled"
	case StatusServerError:
		return "server_error"
	default:
		return "unexpected"
	}
}

// ClassifyStatus はHTTPステータスコードを分類する。
// StatusOK以外はすべてリトライ対象となる。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == 429:
		return StatusThrottled
	case statusCode >= 400 && statusCode < 500:
		return StatusClientError
	case statusCode >= 500:
		return StatusServerError
	default:
		return StatusUnexpected
	}
}

// StatusError は2xx以外の応答を表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s)", e.StatusCode, ClassifyStatus(e.StatusCode))
}

// リトライ間隔に加えるジッターの範囲。
const (
	minJitter = 100 * time.Millisecond
	maxJitter = 2 * time.Second
)

// RetryDelay はリトライ前の待機時間を返す。
// 固定の基本間隔にジッターを加えるだけで、指数的には増加しない。
func RetryDelay(base time.Duration, jitter func() time.Duration) time.Duration {
	return base + jitter()
}

// uniformJitter は [minJitter, maxJitter) の一様乱数を返す。
func uniformJitter() time.Duration {
	return minJitter + time.Duration(rand.Int64N(int64(maxJitter-minJitter)))
}

// sleepContext はdだけ待機する。コンテキストがキャンセルされた場合は即座に戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
