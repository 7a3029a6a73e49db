package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/source"
)

// Definition は定義ファイルの1プラットフォーム分。
type Definition struct {
	Name              string `mapstructure:"name"`
	Website           string `mapstructure:"website"`
	Type              string `mapstructure:"type"`
	source.Definition `mapstructure:",squash"`
}

// Definitions はプラットフォーム定義ファイル（YAML）の内容。
//
//	platforms:
//	  - name: example-forum
//	    website: https://forum.example.com
//	    type: forum
//	    selectors:
//	      post_item: .topic-row
//	    headers:
//	      Cookie: session=...
type Definitions struct {
	Platforms []Definition `mapstructure:"platforms"`
}

// LoadDefinitions は定義ファイルを読み込む。pathが空の場合は空の定義を返す。
func LoadDefinitions(path string) (*Definitions, error) {
	defs := &Definitions{}
	if path == "" {
		return defs, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read platforms file %s: %w", path, err)
	}
	if err := v.Unmarshal(defs); err != nil {
		return nil, fmt.Errorf("failed to decode platforms file %s: %w", path, err)
	}
	for i, d := range defs.Platforms {
		if d.Name == "" {
			return nil, fmt.Errorf("platforms[%d]: name is required", i)
		}
	}
	return defs, nil
}

// Source は名前に対応する取得設定を返す。定義がない場合はゼロ値。
func (d *Definitions) Source(name string) source.Definition {
	if d == nil {
		return source.Definition{}
	}
	for _, p := range d.Platforms {
		if p.Name == name {
			return p.Definition
		}
	}
	return source.Definition{}
}

// RegisterAll は定義ファイルのプラットフォームをすべて登録する。個別の失敗はログに残して続行する。
func (d *Definitions) RegisterAll(ctx context.Context, svc *Service, logger *slog.Logger) int {
	if d == nil {
		return 0
	}
	registered := 0
	for _, p := range d.Platforms {
		if p.Website == "" {
			continue
		}
		if _, created, err := svc.Register(ctx, p.Name, p.Website, model.PlatformType(p.Type)); err != nil {
			logger.Error("定義ファイルのプラットフォーム登録に失敗しました",
				slog.String("platform", p.Name),
				slog.String("error", err.Error()),
			)
		} else if created {
			registered++
		}
	}
	return registered
}
