package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/threadscope/internal/model"
)

// SQLContentRepo はdatabase/sqlを使用したコンテンツリポジトリ。
type SQLContentRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLContentRepo はSQLContentRepoを生成する。
func NewSQLContentRepo(db *sql.DB, dialect Dialect) *SQLContentRepo {
	return &SQLContentRepo{db: db, dialect: dialect}
}

// replies_count は子コンテンツ数から導出する
const contentSelect = `SELECT c.id, c.platform_id, c.content_id, c.parent_id, c.url, c.title,
        c.content, c.author, c.author_id, c.created_time, c.content_type,
        c.scraped_at, c.processed, c.analyzed, c.created_at, c.updated_at,
        (SELECT COUNT(*) FROM contents r WHERE r.parent_id = c.id) AS replies_count
 FROM contents c`

func scanContent(row interface{ Scan(...any) error }) (*model.StoredContent, error) {
	c := &model.StoredContent{}
	var parentID, title, author, authorID sql.NullString
	var createdTime sql.NullTime
	var contentType string

	err := row.Scan(
		&c.ID, &c.PlatformID, &c.ContentID, &parentID, &c.URL, &title,
		&c.Content, &author, &authorID, &createdTime, &contentType,
		&c.ScrapedAt, &c.Processed, &c.Analyzed, &c.CreatedAt, &c.UpdatedAt,
		&c.RepliesCount,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		p := parentID.String
		c.ParentID = &p
	}
	c.Title = nullStringValue(title)
	c.Author = nullStringValue(author)
	c.AuthorID = nullStringValue(authorID)
	if createdTime.Valid {
		t := createdTime.Time
		c.CreatedTime = &t
	}
	c.ContentType = model.ContentType(contentType)
	return c, nil
}

// FindByNaturalKey は自然キーでコンテンツを取得する。見つからない場合はnilを返す。
func (r *SQLContentRepo) FindByNaturalKey(ctx context.Context, platformID, contentID string) (*model.StoredContent, error) {
	c, err := scanContent(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(contentSelect+` WHERE c.platform_id = $1 AND c.content_id = $2`),
		platformID, contentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("自然キーによるコンテンツの検索に失敗しました: %w", err)
	}
	return c, nil
}

// FindByID は内部IDでコンテンツを取得する。見つからない場合はnilを返す。
func (r *SQLContentRepo) FindByID(ctx context.Context, id string) (*model.StoredContent, error) {
	c, err := scanContent(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(contentSelect+` WHERE c.id = $1`),
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	return c, nil
}

// Create はコンテンツを独立したトランザクションで作成する。
func (r *SQLContentRepo) Create(ctx context.Context, c *model.StoredContent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdTime sql.NullTime
	if c.CreatedTime != nil {
		createdTime = sql.NullTime{Time: *c.CreatedTime, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO contents (id, platform_id, content_id, parent_id, url, title,
		        content, author, author_id, created_time, content_type,
		        scraped_at, processed, analyzed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`),
		c.ID, c.PlatformID, c.ContentID, nullStringPtr(c.ParentID), c.URL, nullString(c.Title),
		c.Content, nullString(c.Author), nullString(c.AuthorID), createdTime, string(c.ContentType),
		c.ScrapedAt, c.Processed, c.Analyzed, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コンテンツの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUnanalyzed は本文のある未分析コンテンツを取得日時の古い順に最大limit件返す。
func (r *SQLContentRepo) ListUnanalyzed(ctx context.Context, limit int) ([]*model.StoredContent, error) {
	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind(contentSelect+` WHERE c.analyzed = $1 AND c.content <> '' ORDER BY c.scraped_at, c.id LIMIT $2`),
		false, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未分析コンテンツの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var contents []*model.StoredContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("コンテンツの読み取りに失敗しました: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未分析コンテンツの走査に失敗しました: %w", err)
	}
	return contents, nil
}
