// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/threadscope/internal/model"
)

// PlatformRepository は取得元プラットフォームの永続化インターフェース。
type PlatformRepository interface {
	// FindByName は名前でプラットフォームを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Platform, error)

	// FindByID は指定IDのプラットフォームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Platform, error)

	// Create はプラットフォームを作成する。
	Create(ctx context.Context, platform *model.Platform) error

	// List は登録済みの全プラットフォームを名前順で返す。
	List(ctx context.Context) ([]*model.Platform, error)
}

// ContentRepository はコンテンツの永続化インターフェース。
// (platform_id, content_id) を自然キーとする。
type ContentRepository interface {
	// FindByNaturalKey は自然キーでコンテンツを取得する。見つからない場合はnilを返す。
	FindByNaturalKey(ctx context.Context, platformID, contentID string) (*model.StoredContent, error)

	// FindByID は内部IDでコンテンツを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.StoredContent, error)

	// Create はコンテンツを1件ずつ独立したトランザクションで作成する。
	// 失敗した場合はロールバックされる。
	Create(ctx context.Context, content *model.StoredContent) error

	// ListUnanalyzed は未分析のコンテンツを取得日時の古い順に最大limit件返す。
	// RepliesCount は子コンテンツ数から導出される。
	ListUnanalyzed(ctx context.Context, limit int) ([]*model.StoredContent, error)
}

// AnalysisRepository は分析結果の永続化インターフェース。
type AnalysisRepository interface {
	// FindByContentID はコンテンツの内部IDで分析結果を取得する。見つからない場合はnilを返す。
	FindByContentID(ctx context.Context, contentID string) (*model.AnalysisRecord, error)

	// CreateAndMarkAnalyzed は分析結果の作成とコンテンツのanalyzedフラグ更新を
	// 同一トランザクションで行う。既に分析済みの場合は model.ErrAlreadyAnalyzed を返す。
	CreateAndMarkAnalyzed(ctx context.Context, analysis *model.AnalysisRecord) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
