package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/threadscope/internal/model"
)

// SQLAnalysisRepo はdatabase/sqlを使用した分析結果リポジトリ。
type SQLAnalysisRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLAnalysisRepo はSQLAnalysisRepoを生成する。
func NewSQLAnalysisRepo(db *sql.DB, dialect Dialect) *SQLAnalysisRepo {
	return &SQLAnalysisRepo{db: db, dialect: dialect}
}

// FindByContentID はコンテンツの内部IDで分析結果を取得する。見つからない場合はnilを返す。
func (r *SQLAnalysisRepo) FindByContentID(ctx context.Context, contentID string) (*model.AnalysisRecord, error) {
	a := &model.AnalysisRecord{}
	var sentiment string
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT id, content_id, sentiment, keywords, topics, summary,
		        importance_score, language, created_at, updated_at
		 FROM analyses WHERE content_id = $1`),
		contentID,
	).Scan(
		&a.ID, &a.ContentID, &sentiment, &a.Keywords, &a.Topics, &a.Summary,
		&a.ImportanceScore, &a.Language, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("分析結果の取得に失敗しました: %w", err)
	}
	a.Sentiment = model.Sentiment(sentiment)
	return a, nil
}

// CreateAndMarkAnalyzed は分析結果の作成とanalyzedフラグの更新を同一トランザクションで行う。
func (r *SQLAnalysisRepo) CreateAndMarkAnalyzed(ctx context.Context, a *model.AnalysisRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// analyzed = false の行だけを更新し、二重登録を防ぐ
	result, err := tx.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE contents SET analyzed = $1, updated_at = $2 WHERE id = $3 AND analyzed = $4`),
		true, a.UpdatedAt, a.ContentID, false,
	)
	if err != nil {
		return fmt.Errorf("analyzedフラグの更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var analyzed bool
		err := tx.QueryRowContext(ctx,
			r.dialect.Rebind(`SELECT analyzed FROM contents WHERE id = $1`), a.ContentID,
		).Scan(&analyzed)
		if err == sql.ErrNoRows {
			return model.ErrContentNotFound
		}
		if err != nil {
			return fmt.Errorf("コンテンツの確認に失敗しました: %w", err)
		}
		return model.ErrAlreadyAnalyzed
	}

	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO analyses (id, content_id, sentiment, keywords, topics, summary,
		        importance_score, language, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		a.ID, a.ContentID, string(a.Sentiment), a.Keywords, a.Topics, a.Summary,
		a.ImportanceScore, a.Language, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return model.ErrAlreadyAnalyzed
		}
		return fmt.Errorf("分析結果の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
