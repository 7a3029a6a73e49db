// Package fetch はリトライとセッション管理を備えたHTTP取得クライアントを提供する。
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/hitoshi/threadscope/internal/metrics"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/security"
)

const (
	defaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
)

// Config は取得クライアントの設定。
type Config struct {
	Timeout       time.Duration
	MaxRetries    int // 初回に加えて行うリトライ回数
	RetryInterval time.Duration
	UserAgent     string
	MaxBodySize   int64
	RatePerSecond float64 // 0の場合はペース制御しない
}

// Response は取得結果。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string // リダイレクト後の最終URL
}

// Text は本文を文字列として返す。
func (r *Response) Text() string {
	return string(r.Body)
}

// Client はリトライ付きのHTTP取得クライアント。
// インスタンスごとにCookieと既定ヘッダーを保持するセッションとして振る舞う。
// 同時に複数のゴルーチンから使用しないこと。
type Client struct {
	cfg        Config
	httpClient *http.Client
	guard      security.URLGuard
	headers    http.Header
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() time.Duration
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithURLGuard はURLの事前検証とSSRF防止付きHTTPクライアントを有効にする。
func WithURLGuard(guard security.URLGuard) Option {
	return func(c *Client) { c.guard = guard }
}

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSleep はリトライ待機関数を差し替える。テスト用。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithJitter はジッター生成関数を差し替える。テスト用。
func WithJitter(fn func() time.Duration) Option {
	return func(c *Client) { c.jitter = fn }
}

// NewClient は取得クライアントを生成する。
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}

	c := &Client{
		cfg:     cfg,
		headers: make(http.Header),
		sleep:   sleepContext,
		jitter:  uniformJitter,
		metrics: metrics.Nop{},
		logger:  logger,
	}
	if cfg.UserAgent != "" {
		c.headers.Set("User-Agent", cfg.UserAgent)
	}
	c.headers.Set("Accept-Language", defaultAcceptLanguage)
	c.headers.Set("Accept", defaultAccept)

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		if c.guard != nil {
			c.httpClient = c.guard.NewSafeClient(cfg.Timeout)
		} else {
			c.httpClient = &http.Client{Timeout: cfg.Timeout}
		}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return c, nil
}

// SetHeader はセッションの既定ヘッダーを設定する。Refererなどプラットフォーム固有の値に使用する。
func (c *Client) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

// Get はGETリクエストを送信する。paramsはURLのクエリに追加される。
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	target, err := withQuery(rawURL, params)
	if err != nil {
		return nil, &model.FetchFailure{URL: rawURL, Err: err}
	}
	return c.do(ctx, http.MethodGet, target, nil, "")
}

// Post はPOSTリクエストを送信する。jsonBodyがnilでなければJSON、そうでなければformを送信する。
func (c *Client) Post(ctx context.Context, rawURL string, form url.Values, jsonBody any) (*Response, error) {
	if jsonBody != nil {
		b, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, &model.FetchFailure{URL: rawURL, Err: fmt.Errorf("failed to encode JSON body: %w", err)}
		}
		return c.do(ctx, http.MethodPost, rawURL, b, "application/json")
	}
	return c.do(ctx, http.MethodPost, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

// do はリトライ付きでリクエストを送信する。
// 通信エラー、タイムアウト、2xx以外の応答はMaxRetries回までリトライし、
// 使い切った場合は *model.FetchFailure を返す。
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) (*Response, error) {
	if c.guard != nil {
		if err := c.guard.ValidateURL(rawURL); err != nil {
			c.logger.Warn("URL検証によりリクエストを拒否しました",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			c.metrics.RecordFetchFailure("blocked")
			return nil, &model.FetchFailure{URL: rawURL, Err: err}
		}
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error
	var lastStatus int
	attempts := 0

	for attempts < maxAttempts {
		if attempts > 0 {
			delay := RetryDelay(c.cfg.RetryInterval, c.jitter)
			c.logger.Warn("リクエストに失敗したためリトライします",
				slog.String("url", rawURL),
				slog.Int("attempt", attempts),
				slog.Int("max_attempts", maxAttempts),
				slog.Float64("delay_ms", float64(delay.Milliseconds())),
				slog.String("error", lastErr.Error()),
			)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		resp, err := c.attempt(ctx, method, rawURL, body, contentType)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		lastStatus = 0
		var se *StatusError
		if errors.As(err, &se) {
			lastStatus = se.StatusCode
		}
		if ctx.Err() != nil {
			break
		}
	}

	reason := "network"
	if lastStatus != 0 {
		reason = ClassifyStatus(lastStatus).String()
	}
	c.metrics.RecordFetchFailure(reason)
	c.logger.Error("リクエストが最終的に失敗しました",
		slog.String("url", rawURL),
		slog.Int("attempts", attempts),
		slog.Int("http_status", lastStatus),
		slog.String("error", lastErr.Error()),
	)
	return nil, &model.FetchFailure{URL: rawURL, Attempts: attempts, StatusCode: lastStatus, Err: lastErr}
}

// attempt は1回分のリクエストを送信する。
func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		c.metrics.RecordFetchAttempt(0)
		return nil, err
	}
	defer resp.Body.Close()

	c.metrics.RecordFetchAttempt(resp.StatusCode)
	if ClassifyStatus(resp.StatusCode) != StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("取得しました",
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
	}, nil
}

// withQuery はURLの既存クエリにparamsを追加する。
func withQuery(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close はセッションのアイドル接続を閉じる。
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// IsFetchFailure はerrが確定的な取得失敗かどうかを返す。
func IsFetchFailure(err error) bool {
	var ff *model.FetchFailure
	return errors.As(err, &ff)
}

