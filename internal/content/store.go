// Package content は正規化済みレコードの保存（重複排除と親子の紐付け）と分析結果の登録を提供する。
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/repository"
)

// StoreService はコンテンツの保存サービス。
// (platform_id, content_id) が一致する既存行があれば、その行を変更せずに返す（先勝ち）。
type StoreService struct {
	contentRepo  repository.ContentRepository
	analysisRepo repository.AnalysisRepository
	logger       *slog.Logger
	now          func() time.Time
}

// NewStoreService はStoreServiceを生成する。
func NewStoreService(
	contentRepo repository.ContentRepository,
	analysisRepo repository.AnalysisRepository,
	logger *slog.Logger,
) *StoreService {
	return &StoreService{
		contentRepo:  contentRepo,
		analysisRepo: analysisRepo,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Upsert はレコードを保存し、保存済みコンテンツを返す。createdは新規作成された場合にtrue。
//
// 親の解決は保存時の1回だけ行う。返信が親より先に届いた場合、parent_id はnullのまま残り、
// 後から親が保存されても、あるいは同じ返信を再取得しても紐付けは修復されない。
//
// 書き込みに失敗した場合は *model.PersistenceError を返す。失敗はこのレコードに限定され、
// 他のレコードの処理には影響しない。
func (s *StoreService) Upsert(ctx context.Context, platformID string, rec model.NormalizedRecord) (*model.StoredContent, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.contentRepo.FindByNaturalKey(ctx, platformID, rec.ContentID)
	if err != nil {
		return nil, false, &model.PersistenceError{PlatformID: platformID, ContentID: rec.ContentID, Err: err}
	}
	if existing != nil {
		return existing, false, nil
	}

	var parentID *string
	if rec.ParentID != "" {
		parent, err := s.contentRepo.FindByNaturalKey(ctx, platformID, rec.ParentID)
		if err != nil {
			return nil, false, &model.PersistenceError{PlatformID: platformID, ContentID: rec.ContentID, Err: err}
		}
		if parent != nil {
			parentID = &parent.ID
		} else {
			s.logger.Warn("親コンテンツが未保存のため親子の紐付けなしで保存します",
				slog.String("platform_id", platformID),
				slog.String("content_id", rec.ContentID),
				slog.String("parent_content_id", rec.ParentID),
			)
		}
	}

	now := s.now()
	stored := &model.StoredContent{
		ID:          uuid.New().String(),
		PlatformID:  platformID,
		ContentID:   rec.ContentID,
		ParentID:    parentID,
		URL:         rec.URL,
		Title:       rec.Title,
		Content:     rec.Content,
		Author:      rec.Author,
		AuthorID:    rec.AuthorID,
		CreatedTime: rec.CreatedTime,
		ContentType: rec.ContentType,
		ScrapedAt:   now,
		Processed:   rec.Processed,
		Analyzed:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.contentRepo.Create(ctx, stored); err != nil {
		// 並行して同じキーが書き込まれた場合は既存行を返す
		if repository.IsUniqueViolation(err) {
			if existing, findErr := s.contentRepo.FindByNaturalKey(ctx, platformID, rec.ContentID); findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		s.logger.Error("コンテンツの保存に失敗しました",
			slog.String("platform_id", platformID),
			slog.String("content_id", rec.ContentID),
			slog.String("error", err.Error()),
		)
		return nil, false, &model.PersistenceError{PlatformID: platformID, ContentID: rec.ContentID, Err: err}
	}

	return stored, true, nil
}

// AttachAnalysis は分析結果を登録し、コンテンツを分析済みにする。両者は同一トランザクションで書き込まれる。
// 既に分析済みの場合は model.ErrAlreadyAnalyzed を返す。
func (s *StoreService) AttachAnalysis(ctx context.Context, contentID string, analysis model.AnalysisRecord) (*model.AnalysisRecord, error) {
	now := s.now()
	analysis.ID = uuid.New().String()
	analysis.ContentID = contentID
	analysis.ImportanceScore = model.ClampImportance(analysis.ImportanceScore)
	if analysis.Keywords == "" {
		analysis.Keywords = model.EncodeStringList(nil)
	}
	if analysis.Topics == "" {
		analysis.Topics = model.EncodeStringList(nil)
	}
	analysis.CreatedAt = now
	analysis.UpdatedAt = now

	if err := s.analysisRepo.CreateAndMarkAnalyzed(ctx, &analysis); err != nil {
		if errors.Is(err, model.ErrAlreadyAnalyzed) || errors.Is(err, model.ErrContentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("分析結果の登録に失敗しました: %w", err)
	}
	return &analysis, nil
}

// ListUnanalyzed は未分析のコンテンツを取得日時の古い順に最大limit件返す。
func (s *StoreService) ListUnanalyzed(ctx context.Context, limit int) ([]*model.StoredContent, error) {
	if limit <= 0 {
		return nil, nil
	}
	contents, err := s.contentRepo.ListUnanalyzed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("未分析コンテンツの取得に失敗しました: %w", err)
	}
	return contents, nil
}
