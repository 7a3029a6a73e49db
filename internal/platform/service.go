// Package platform はコンテンツ取得元プラットフォームの登録と定義ファイルの読み込みを提供する。
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/normalize"
	"github.com/hitoshi/threadscope/internal/repository"
)

// ErrInvalidPlatform はプラットフォームの登録内容が不正な場合のエラー。
var ErrInvalidPlatform = errors.New("invalid platform")

// Service はプラットフォームの登録と参照を行う。
type Service struct {
	repo   repository.PlatformRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.PlatformRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Register はプラットフォームを登録する。同名のプラットフォームが既にあれば、それをそのまま返す。
// createdは新規作成した場合にtrue。
func (s *Service) Register(ctx context.Context, name, website string, platformType model.PlatformType) (p *model.Platform, created bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: name is empty", ErrInvalidPlatform)
	}
	if strings.TrimSpace(website) == "" {
		return nil, false, fmt.Errorf("%w: website is empty", ErrInvalidPlatform)
	}
	if platformType == "" {
		platformType = model.PlatformTypeForum
	}
	if !platformType.Valid() {
		return nil, false, fmt.Errorf("%w: unknown type %q", ErrInvalidPlatform, platformType)
	}

	existing, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find platform: %w", err)
	}
	if existing != nil {
		s.logger.Info("プラットフォームは既に登録されています",
			slog.String("platform", name),
			slog.String("platform_id", existing.ID),
		)
		return existing, false, nil
	}

	now := s.now().UTC()
	p = &model.Platform{
		ID:        uuid.New().String(),
		Name:      name,
		Website:   normalize.NormalizeURL(website),
		Type:      platformType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, findErr := s.repo.FindByName(ctx, name)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create platform: %w", err)
	}

	s.logger.Info("プラットフォームを登録しました",
		slog.String("platform", p.Name),
		slog.String("platform_id", p.ID),
		slog.String("website", p.Website),
		slog.String("type", string(p.Type)),
	)
	return p, true, nil
}

// List は登録済みの全プラットフォームを返す。
func (s *Service) List(ctx context.Context) ([]*model.Platform, error) {
	platforms, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	return platforms, nil
}

// Resolve は名前の一覧をプラットフォームに解決する。namesが空の場合は登録済みの全件を返す。
// 見つからなかった名前はunknownに入る。
func (s *Service) Resolve(ctx context.Context, names []string) (platforms []*model.Platform, unknown []string, err error) {
	if len(names) == 0 {
		platforms, err = s.List(ctx)
		return platforms, nil, err
	}
	for _, name := range names {
		p, err := s.repo.FindByName(ctx, strings.TrimSpace(name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find platform %q: %w", name, err)
		}
		if p == nil {
			unknown = append(unknown, name)
			continue
		}
		platforms = append(platforms, p)
	}
	return platforms, unknown, nil
}
