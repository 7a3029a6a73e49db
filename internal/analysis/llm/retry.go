package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/threadscope/internal/model"
)

const (
	// DefaultMaxAttempts は1回の呼び出しあたりの最大試行回数。
	DefaultMaxAttempts = 3
	// DefaultBaseDelay は初回リトライ前の待機時間。以降は倍々で増える。
	DefaultBaseDelay = time.Second
)

// RetryingClient は一時的エラーに限り指数バックオフでリトライするChatClient。
// 形式エラーや4xxはリトライせず、そのまま返す。
type RetryingClient struct {
	next        ChatClient
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// RetryOption はRetryingClientの生成オプション。
type RetryOption func(*RetryingClient)

// WithMaxAttempts は最大試行回数を設定する。
func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryingClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay は初回リトライ前の待機時間を設定する。
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryingClient) { c.baseDelay = d }
}

// WithRetrySleep は待機関数を差し替える。テスト用。
func WithRetrySleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(c *RetryingClient) { c.sleep = fn }
}

// NewRetryingClient はnextをリトライで包む。
func NewRetryingClient(next ChatClient, logger *slog.Logger, opts ...RetryOption) *RetryingClient {
	c := &RetryingClient{
		next:        next,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete はnextを呼び出し、一時的エラーの場合は待機してから再試行する。
func (c *RetryingClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		out, err := c.next.Complete(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !model.IsTransient(err) || attempt == c.maxAttempts-1 {
			break
		}

		delay := c.baseDelay << attempt
		c.logger.Warn("LLM呼び出しが一時的に失敗したためリトライします",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.maxAttempts),
			slog.Float64("delay_ms", float64(delay.Milliseconds())),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

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
