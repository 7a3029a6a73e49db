package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/threadscope/internal/fetch"
	"github.com/hitoshi/threadscope/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFetcher(t *testing.T) *fetch.Client {
	t.Helper()
	c, err := fetch.NewClient(fetch.Config{Timeout: 5 * time.Second, UserAgent: "threadscope-test"}, testLogger(),
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func newSource(t *testing.T, pt model.PlatformType, website string, def Definition) Source {
	t.Helper()
	p := &model.Platform{ID: "p1", Name: "test", Website: website, Type: pt}
	src, err := DefaultRegistry().New(p, Deps{Fetcher: newFetcher(t), Definition: def, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Registry.New failed: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

// headerRecorder はSetHeaderの呼び出しを記録するFetcher。
type headerRecorder struct {
	headers map[string]string
}

func (h *headerRecorder) Get(context.Context, string, url.Values) (*fetch.Response, error) {
	return nil, errors.New("not implemented")
}
func (h *headerRecorder) SetHeader(k, v string) { h.headers[k] = v }
func (h *headerRecorder) Close()                {}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, pt := range []model.PlatformType{model.PlatformTypeForum, model.PlatformTypeFeed, model.PlatformTypeXiaohongshu} {
		if !r.Supports(pt) {
			t.Errorf("%s が登録されているべきです", pt)
		}
	}

	_, err := r.New(&model.Platform{Name: "x", Type: "unknown"}, Deps{Fetcher: newFetcher(t)})
	if err == nil {
		t.Error("未登録の種別はエラーになるべきです")
	}
	_, err = r.New(&model.Platform{Name: "x", Type: model.PlatformTypeForum}, Deps{})
	if err == nil {
		t.Error("Fetcherがない場合はエラーになるべきです")
	}
}

func TestRegistry_AppliesHeadersAndReferer(t *testing.T) {
	rec := &headerRecorder{headers: map[string]string{}}
	p := &model.Platform{Name: "xhs", Website: "https://www.xiaohongshu.com", Type: model.PlatformTypeXiaohongshu}
	def := Definition{Headers: map[string]string{"User-Agent": "custom-ua", "Cookie": "a=b"}}
	if _, err := DefaultRegistry().New(p, Deps{Fetcher: rec, Definition: def, Logger: testLogger()}); err != nil {
		t.Fatalf("Registry.New failed: %v", err)
	}
	if rec.headers["User-Agent"] != "custom-ua" || rec.headers["Cookie"] != "a=b" {
		t.Errorf("定義のヘッダーが設定されるべきです: %v", rec.headers)
	}
	if rec.headers["Referer"] != XiaohongshuReferer {
		t.Errorf("Referer = %q, want %q", rec.headers["Referer"], XiaohongshuReferer)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01T10:20:30Z", "2024-03-01T10:20:30Z"},
		{" 2024-03-01 10:20:30 ", "2024-03-01T10:20:30Z"},
		{"2024/03/01 10:20", "2024-03-01T10:20:00Z"},
		{"2024-03-01", "2024-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		got := ParseTime(tt.in)
		if got == nil {
			t.Errorf("ParseTime(%q) = nil", tt.in)
			continue
		}
		if s := got.Format(time.RFC3339); s != tt.want {
			t.Errorf("ParseTime(%q) = %s, want %s", tt.in, s, tt.want)
		}
	}
	for _, in := range []string{"", "3 hours ago", "昨天"} {
		if got := ParseTime(in); got != nil {
			t.Errorf("ParseTime(%q) はnilであるべきです: %v", in, got)
		}
	}
}

func TestParseJSONRecord(t *testing.T) {
	rec, err := ParseJSONRecord([]byte(`{"content_id":"42","url":"https://x.com/42","content":"hi","created_time":"2024-01-02 03:04:05"}`))
	if err != nil {
		t.Fatalf("ParseJSONRecord failed: %v", err)
	}
	if rec.ContentID != "42" || rec.Content != "hi" {
		t.Errorf("レコード = %+v", rec)
	}
	if rec.ContentType != model.ContentTypePost {
		t.Errorf("ContentType の既定値は post であるべきです: %q", rec.ContentType)
	}
	if rec.CreatedTime == nil || rec.CreatedTime.Year() != 2024 {
		t.Errorf("CreatedTime = %v", rec.CreatedTime)
	}

	rec, err = ParseJSONRecord([]byte(`{"content_id":"1","content_type":"reply","parent_id":"0","created_time":1700000000000}`))
	if err != nil {
		t.Fatalf("ParseJSONRecord failed: %v", err)
	}
	if rec.ParentID != "0" || rec.ContentType != model.ContentTypeReply {
		t.Errorf("レコード = %+v", rec)
	}
	if rec.CreatedTime == nil || rec.CreatedTime.Unix() != 1700000000 {
		t.Errorf("ミリ秒のUNIX時刻を解釈するべきです: %v", rec.CreatedTime)
	}

	if _, err := ParseJSONRecord([]byte(`not json`)); err == nil {
		t.Error("不正なJSONはエラーになるべきです")
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := map[string]string{
		"/forum/post/123":       "123",
		"/forum/post/123/":      "123",
		"/forum/post/123?x=1":   "123",
		"https://a.com/t/abc-1": "abc-1",
		"plain":                 "plain",
	}
	for in, want := range tests {
		if got := lastPathSegment(in); got != want {
			t.Errorf("lastPathSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		body, ok := routes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
