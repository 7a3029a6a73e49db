package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/threadscope/internal/model"
)

// 小紅書の既定値。
const (
	XiaohongshuReferer        = "https://www.xiaohongshu.com"
	DefaultXiaohongshuSearch  = "https://www.xiaohongshu.com/api/sns/v10/search/notes"
	xiaohongshuNoteURLPattern = "https://www.xiaohongshu.com/explore/{id}"
)

// XiaohongshuSource は小紅書のノートAPI（JSON）からコンテンツを取得する。
// ブラウザでのログインは扱わないため、必要なCookieはヘッダー設定で与える。
type XiaohongshuSource struct {
	platform *model.Platform
	fetcher  Fetcher
	search   string
	comments string
	keyword  string
	listed   map[string]model.RawRecord
	logger   *slog.Logger
}

// NewXiaohongshuSource はXiaohongshuSourceを生成する。
func NewXiaohongshuSource(p *model.Platform, deps Deps) (Source, error) {
	def := deps.Definition
	if !hasHeader(def.Headers, "Referer") {
		deps.Fetcher.SetHeader("Referer", XiaohongshuReferer)
	}
	search := def.SearchEndpoint
	if search == "" {
		search = DefaultXiaohongshuSearch
	}
	return &XiaohongshuSource{
		platform: p,
		fetcher:  deps.Fetcher,
		search:   search,
		comments: def.CommentsEndpoint,
		keyword:  def.Keyword,
		listed:   make(map[string]model.RawRecord),
		logger:   deps.Logger.With(slog.String("platform", p.Name)),
	}, nil
}

// xhsNote はノートAPIの1件分。
type xhsNote struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
	Desc   string `json:"desc"`
	User   struct {
		Nickname string `json:"nickname"`
		UserID   string `json:"user_id"`
	} `json:"user"`
	Time any `json:"time"`
}

type xhsComment struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	UserInfo struct {
		Nickname string `json:"nickname"`
		UserID   string `json:"user_id"`
	} `json:"user_info"`
	CreateTime any `json:"create_time"`
}

func (n *xhsNote) record() model.RawRecord {
	rec := model.RawRecord{
		ContentID:   n.NoteID,
		URL:         expand(xiaohongshuNoteURLPattern, map[string]string{"id": n.NoteID}),
		Title:       n.Title,
		Content:     n.Desc,
		Author:      n.User.Nickname,
		AuthorID:    n.User.UserID,
		ContentType: model.ContentTypePost,
		CreatedTime: timeFromAny(n.Time),
	}
	return rec
}

// FetchPage は検索APIの指定ページのノートを返す。
func (s *XiaohongshuSource) FetchPage(ctx context.Context, page int) ([]model.RawRecord, error) {
	params := url.Values{"page": {strconv.Itoa(page)}}
	if s.keyword != "" {
		params.Set("keyword", s.keyword)
	}
	s.logger.Info("ノート一覧を取得します", slog.String("url", s.search), slog.Int("page", page))

	resp, err := s.fetcher.Get(ctx, s.search, params)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data struct {
			Notes []xhsNote `json:"notes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode note list: %w", err)
	}

	records := make([]model.RawRecord, 0, len(body.Data.Notes))
	for i := range body.Data.Notes {
		note := &body.Data.Notes[i]
		if note.NoteID == "" {
			continue
		}
		rec := note.record()
		s.listed[rec.ContentID] = rec
		records = append(records, rec)
	}
	return records, nil
}

// FetchItem は一覧で取得済みのノートを返す。
func (s *XiaohongshuSource) FetchItem(_ context.Context, contentID string) (*model.RawRecord, error) {
	rec, ok := s.listed[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, contentID)
	}
	return &rec, nil
}

// FetchReplies はコメントAPIからノートへのコメントを返す。エンドポイント未設定の場合は常に空。
func (s *XiaohongshuSource) FetchReplies(ctx context.Context, contentID string, page int) ([]model.RawRecord, error) {
	if s.comments == "" {
		return nil, nil
	}
	params := url.Values{"note_id": {contentID}, "page": {strconv.Itoa(page)}}
	resp, err := s.fetcher.Get(ctx, s.comments, params)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data struct {
			Comments []xhsComment `json:"comments"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}

	noteURL := expand(xiaohongshuNoteURLPattern, map[string]string{"id": contentID})
	replies := make([]model.RawRecord, 0, len(body.Data.Comments))
	for _, c := range body.Data.Comments {
		if c.ID == "" {
			continue
		}
		rec := model.RawRecord{
			ContentID:   c.ID,
			ParentID:    contentID,
			URL:         noteURL + "#comment-" + c.ID,
			Content:     c.Content,
			Author:      c.UserInfo.Nickname,
			AuthorID:    c.UserInfo.UserID,
			ContentType: model.ContentTypeComment,
			CreatedTime: timeFromAny(c.CreateTime),
		}
		replies = append(replies, rec)
	}
	return replies, nil
}

// ParseRawRecord はノートAPI形式（note_idを持つ）またはRawRecord形式のJSONを解析する。
func (s *XiaohongshuSource) ParseRawRecord(data []byte) (*model.RawRecord, error) {
	if strings.Contains(string(data), `"note_id"`) {
		var note xhsNote
		if err := json.Unmarshal(data, &note); err != nil {
			return nil, fmt.Errorf("invalid note JSON: %w", err)
		}
		if note.NoteID != "" {
			rec := note.record()
			return &rec, nil
		}
	}
	return ParseJSONRecord(data)
}

// hasHeader はヘッダー名を大文字小文字を区別せずに探す。設定ファイルのキーは小文字化されるため。
func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Close はセッションを閉じる。
func (s *XiaohongshuSource) Close() error {
	s.fetcher.Close()
	clear(s.listed)
	s.logger.Info("取得セッションを閉じました")
	return nil
}
