package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/security"
)

// FeedSource はRSS/Atomフィードを公開するフォーラムからコンテンツを取得する。
// 一覧はプラットフォームのURLのフィード、返信はトピックごとのフィード（{link}.rss）から取得する。
type FeedSource struct {
	platform  *model.Platform
	fetcher   Fetcher
	sanitizer security.ContentSanitizer
	parser    *gofeed.Parser
	listed    map[string]model.RawRecord
	logger    *slog.Logger
}

// NewFeedSource はFeedSourceを生成する。
func NewFeedSource(p *model.Platform, deps Deps) (Source, error) {
	return &FeedSource{
		platform:  p,
		fetcher:   deps.Fetcher,
		sanitizer: deps.Sanitizer,
		parser:    gofeed.NewParser(),
		listed:    make(map[string]model.RawRecord),
		logger:    deps.Logger.With(slog.String("platform", p.Name)),
	}, nil
}

func (s *FeedSource) feed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	resp, err := s.fetcher.Get(ctx, feedURL, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parser.ParseString(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}
	return parsed, nil
}

func withPage(rawURL string, page int) string {
	if page <= 1 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "page=" + strconv.Itoa(page)
}

// FetchPage はフィードの記事を投稿として返す。フィードは本文を含むため、結果はFetchItem用に保持する。
func (s *FeedSource) FetchPage(ctx context.Context, page int) ([]model.RawRecord, error) {
	feedURL := withPage(s.platform.Website, page)
	s.logger.Info("フィードを取得します", slog.String("url", feedURL))

	parsed, err := s.feed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	records := make([]model.RawRecord, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		rec, ok := s.convertItem(item, model.ContentTypePost)
		if !ok {
			s.logger.Warn("IDもリンクもない記事をスキップしました", slog.String("url", feedURL))
			continue
		}
		s.listed[rec.ContentID] = rec
		records = append(records, rec)
	}
	if len(records) == 0 {
		s.logger.Warn("フィードに記事が見つかりません", slog.String("url", feedURL))
	}
	return records, nil
}

// FetchItem は一覧で取得済みの記事を返す。未取得の場合は1ページ目を読み直して探す。
func (s *FeedSource) FetchItem(ctx context.Context, contentID string) (*model.RawRecord, error) {
	if rec, ok := s.listed[contentID]; ok {
		return &rec, nil
	}
	if _, err := s.FetchPage(ctx, 1); err != nil {
		return nil, err
	}
	if rec, ok := s.listed[contentID]; ok {
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrItemNotFound, contentID)
}

// FetchReplies はトピックのフィードから返信を返す。先頭の記事は投稿自身なので除く。
func (s *FeedSource) FetchReplies(ctx context.Context, contentID string, page int) ([]model.RawRecord, error) {
	post, ok := s.listed[contentID]
	if !ok || post.URL == "" {
		return nil, nil
	}
	topicURL := withPage(strings.TrimRight(post.URL, "/")+".rss", page)
	s.logger.Info("返信フィードを取得します", slog.String("url", topicURL))

	parsed, err := s.feed(ctx, topicURL)
	if err != nil {
		return nil, err
	}

	replies := make([]model.RawRecord, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		if i == 0 && page <= 1 {
			continue
		}
		rec, ok := s.convertItem(item, model.ContentTypeReply)
		if !ok || rec.ContentID == contentID {
			continue
		}
		rec.ParentID = contentID
		replies = append(replies, rec)
	}
	return replies, nil
}

func (s *FeedSource) convertItem(item *gofeed.Item, contentType model.ContentType) (model.RawRecord, bool) {
	if item == nil {
		return model.RawRecord{}, false
	}
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return model.RawRecord{}, false
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	rec := model.RawRecord{
		ContentID:   id,
		URL:         item.Link,
		Title:       strings.TrimSpace(item.Title),
		Content:     htmlText(s.sanitizer.Sanitize(content)),
		ContentType: contentType,
	}
	if item.Author != nil {
		rec.Author = item.Author.Name
	}
	if rec.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		rec.Author = item.Authors[0].Name
	}
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		rec.CreatedTime = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		rec.CreatedTime = &t
	}
	if rec.URL == "" && (strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://")) {
		rec.URL = id
	}
	return rec, true
}

// ParseRawRecord はRawRecord形式のJSONを解析する。
func (s *FeedSource) ParseRawRecord(data []byte) (*model.RawRecord, error) {
	return ParseJSONRecord(data)
}

// Close はセッションを閉じる。
func (s *FeedSource) Close() error {
	s.fetcher.Close()
	clear(s.listed)
	s.logger.Info("取得セッションを閉じました")
	return nil
}
