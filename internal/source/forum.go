package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/security"
)

// 汎用フォーラムの既定URLテンプレート。
const (
	DefaultForumListURL = "{website}/forum/list?page={page}"
	DefaultForumPostURL = "{website}/forum/post/{id}"
)

// ForumSource は一般的なHTML構造のフォーラムから投稿と返信を取得する。
type ForumSource struct {
	platform  *model.Platform
	fetcher   Fetcher
	sanitizer security.ContentSanitizer
	listURL   string
	postURL   string
	sel       ForumSelectors
	logger    *slog.Logger
}

// NewForumSource はForumSourceを生成する。
func NewForumSource(p *model.Platform, deps Deps) (Source, error) {
	def := deps.Definition
	s := &ForumSource{
		platform:  p,
		fetcher:   deps.Fetcher,
		sanitizer: deps.Sanitizer,
		listURL:   DefaultForumListURL,
		postURL:   DefaultForumPostURL,
		sel:       def.Selectors.withDefaults(),
		logger:    deps.Logger.With(slog.String("platform", p.Name)),
	}
	if def.ListURL != "" {
		s.listURL = def.ListURL
	}
	if def.PostURL != "" {
		s.postURL = def.PostURL
	}
	return s, nil
}

func (s *ForumSource) website() string {
	return strings.TrimRight(s.platform.Website, "/")
}

func (s *ForumSource) pageURL(page int) string {
	return expand(s.listURL, map[string]string{"website": s.website(), "page": strconv.Itoa(page)})
}

func (s *ForumSource) itemURL(id string) string {
	return expand(s.postURL, map[string]string{"website": s.website(), "id": id})
}

func (s *ForumSource) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := s.fetcher.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML %s: %w", rawURL, err)
	}
	return doc, nil
}

// FetchPage は一覧ページの投稿を返す。必須要素が欠けた投稿はログに残してスキップする。
func (s *ForumSource) FetchPage(ctx context.Context, page int) ([]model.RawRecord, error) {
	listURL := s.pageURL(page)
	s.logger.Info("投稿一覧を取得します", slog.String("url", listURL))

	doc, err := s.document(ctx, listURL)
	if err != nil {
		return nil, err
	}

	items := doc.Find(s.sel.PostItem)
	if items.Length() == 0 {
		s.logger.Warn("ページに投稿が見つかりません", slog.String("url", listURL))
		return nil, nil
	}

	records := make([]model.RawRecord, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		id, ok := item.Attr("data-id")
		if !ok || id == "" {
			href, _ := item.Find(s.sel.PostLink).First().Attr("href")
			id = lastPathSegment(href)
		}
		title := item.Find(s.sel.PostTitle).First()
		if id == "" || title.Length() == 0 {
			s.logger.Error("投稿要素の解析に失敗しました",
				slog.String("url", listURL),
				slog.String("content_id", id),
			)
			return
		}
		author := item.Find(s.sel.PostAuthor).First()
		authorID, _ := author.Attr("data-userid")

		records = append(records, model.RawRecord{
			ContentID:   id,
			URL:         s.itemURL(id),
			Title:       strings.TrimSpace(title.Text()),
			Author:      strings.TrimSpace(author.Text()),
			AuthorID:    authorID,
			CreatedTime: ParseTime(item.Find(s.sel.PostTime).First().Text()),
			ContentType: model.ContentTypePost,
		})
	})

	s.logger.Info("投稿一覧の取得が完了しました",
		slog.Int("page", page),
		slog.Int("posts", len(records)),
	)
	return records, nil
}

// FetchItem は投稿ページから本文を含むレコードを返す。
// 本文HTMLはサニタイズしてからテキストにして渡す。
func (s *ForumSource) FetchItem(ctx context.Context, contentID string) (*model.RawRecord, error) {
	itemURL := s.itemURL(contentID)
	s.logger.Info("投稿本文を取得します", slog.String("url", itemURL))

	doc, err := s.document(ctx, itemURL)
	if err != nil {
		return nil, err
	}

	title := doc.Find(s.sel.PostTitle).First()
	body := doc.Find(s.sel.PostContent).First()
	if title.Length() == 0 || body.Length() == 0 {
		return nil, fmt.Errorf("%w: %s has no post title or content", ErrItemNotFound, itemURL)
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render post content %s: %w", itemURL, err)
	}
	author := doc.Find(s.sel.PostAuthor).First()
	authorID, _ := author.Attr("data-userid")

	return &model.RawRecord{
		ContentID:   contentID,
		URL:         itemURL,
		Title:       strings.TrimSpace(title.Text()),
		Content:     htmlText(s.sanitizer.Sanitize(bodyHTML)),
		Author:      strings.TrimSpace(author.Text()),
		AuthorID:    authorID,
		CreatedTime: ParseTime(doc.Find(s.sel.PostTime).First().Text()),
		ContentType: model.ContentTypePost,
	}, nil
}

// FetchReplies は投稿ページの指定ページから返信を返す。
func (s *ForumSource) FetchReplies(ctx context.Context, contentID string, page int) ([]model.RawRecord, error) {
	pageURL := s.itemURL(contentID) + "?page=" + strconv.Itoa(page)
	s.logger.Info("返信を取得します", slog.String("url", pageURL))

	doc, err := s.document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	items := doc.Find(s.sel.ReplyItem)
	if items.Length() == 0 {
		s.logger.Warn("ページに返信が見つかりません", slog.String("url", pageURL))
		return nil, nil
	}

	replies := make([]model.RawRecord, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		id, _ := item.Attr("data-id")
		content := item.Find(s.sel.ReplyContent).First()
		if id == "" || content.Length() == 0 {
			s.logger.Error("返信要素の解析に失敗しました",
				slog.String("url", pageURL),
				slog.String("content_id", id),
			)
			return
		}
		author := item.Find(s.sel.ReplyAuthor).First()
		authorID, _ := author.Attr("data-userid")

		replies = append(replies, model.RawRecord{
			ContentID:   id,
			ParentID:    contentID,
			URL:         pageURL + "#reply-" + id,
			Content:     strings.TrimSpace(content.Text()),
			Author:      strings.TrimSpace(author.Text()),
			AuthorID:    authorID,
			CreatedTime: ParseTime(item.Find(s.sel.ReplyTime).First().Text()),
			ContentType: model.ContentTypeReply,
		})
	})

	s.logger.Info("返信の取得が完了しました",
		slog.Int("page", page),
		slog.Int("replies", len(replies)),
	)
	return replies, nil
}

// ParseRawRecord はRawRecord形式のJSONを解析する。
func (s *ForumSource) ParseRawRecord(data []byte) (*model.RawRecord, error) {
	return ParseJSONRecord(data)
}

// Close はセッションを閉じる。
func (s *ForumSource) Close() error {
	s.fetcher.Close()
	s.logger.Info("取得セッションを閉じました")
	return nil
}
