package model

import (
	"fmt"
	"time"
)

// ContentType はコンテンツの種別（投稿、返信、コメント）を表す。
type ContentType string

const (
	ContentTypePost    ContentType = "post"
	ContentTypeReply   ContentType = "reply"
	ContentTypeComment ContentType = "comment"
)

// Valid は既知の種別かどうかを返す。
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypePost, ContentTypeReply, ContentTypeComment:
		return true
	}
	return false
}

// RawRecord はパーサーが生成した未加工のコンテンツ。
// ContentID と ParentID は取得元サイト上の自然キーであり、内部IDではない。
type RawRecord struct {
	ContentID   string      `json:"content_id"`
	ParentID    string      `json:"parent_id,omitempty"`
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content"`
	Author      string      `json:"author,omitempty"`
	AuthorID    string      `json:"author_id,omitempty"`
	CreatedTime *time.Time  `json:"created_time,omitempty"`
	ContentType ContentType `json:"content_type"`
}

// Validate は変換境界で必須フィールドを検証する。
func (r *RawRecord) Validate() error {
	if r.ContentID == "" {
		return fmt.Errorf("%w: content_id is empty", ErrInvalidRecord)
	}
	if !r.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content_type %q", ErrInvalidRecord, r.ContentType)
	}
	return nil
}

// NormalizedRecord は正規化済みのコンテンツ。
type NormalizedRecord struct {
	RawRecord
	Processed bool
}

// Raw は正規化済みレコードを RawRecord として返す。再正規化に使用する。
func (n NormalizedRecord) Raw() RawRecord {
	return n.RawRecord
}

// StoredContent は永続化されたコンテンツを表す。
type StoredContent struct {
	ID          string
	PlatformID  string
	ContentID   string
	ParentID    *string // 内部ID。親が未取得だった場合はnil
	URL         string
	Title       string
	Content     string
	Author      string
	AuthorID    string
	CreatedTime *time.Time
	ContentType ContentType
	ScrapedAt   time.Time
	Processed   bool
	Analyzed    bool

	// RepliesCount はこのコンテンツを親に持つ行数。クエリ時に導出される。
	RepliesCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}
