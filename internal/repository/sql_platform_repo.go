package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/threadscope/internal/model"
)

// SQLPlatformRepo はdatabase/sqlを使用したプラットフォームリポジトリ。
type SQLPlatformRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLPlatformRepo はSQLPlatformRepoを生成する。
func NewSQLPlatformRepo(db *sql.DB, dialect Dialect) *SQLPlatformRepo {
	return &SQLPlatformRepo{db: db, dialect: dialect}
}

const platformColumns = `id, name, website, type, created_at, updated_at`

func scanPlatform(row interface{ Scan(...any) error }) (*model.Platform, error) {
	p := &model.Platform{}
	var typ string
	if err := row.Scan(&p.ID, &p.Name, &p.Website, &typ, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Type = model.PlatformType(typ)
	return p, nil
}

// FindByName は名前でプラットフォームを取得する。見つからない場合はnilを返す。
func (r *SQLPlatformRepo) FindByName(ctx context.Context, name string) (*model.Platform, error) {
	p, err := scanPlatform(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+platformColumns+` FROM platforms WHERE name = $1`),
		name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プラットフォームの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByID は指定IDのプラットフォームを取得する。見つからない場合はnilを返す。
func (r *SQLPlatformRepo) FindByID(ctx context.Context, id string) (*model.Platform, error) {
	p, err := scanPlatform(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+platformColumns+` FROM platforms WHERE id = $1`),
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プラットフォームの取得に失敗しました: %w", err)
	}
	return p, nil
}

// Create はプラットフォームを作成する。
func (r *SQLPlatformRepo) Create(ctx context.Context, p *model.Platform) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO platforms (id, name, website, type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		p.ID, p.Name, p.Website, string(p.Type), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プラットフォームの作成に失敗しました: %w", err)
	}
	return nil
}

// List は登録済みの全プラットフォームを名前順で返す。
func (r *SQLPlatformRepo) List(ctx context.Context) ([]*model.Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+platformColumns+` FROM platforms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("プラットフォーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var platforms []*model.Platform
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, fmt.Errorf("プラットフォームの読み取りに失敗しました: %w", err)
		}
		platforms = append(platforms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プラットフォーム一覧の走査に失敗しました: %w", err)
	}
	return platforms, nil
}
