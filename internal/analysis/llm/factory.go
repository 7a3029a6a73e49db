package llm

import (
	"context"
	"log/slog"

	"github.com/hitoshi/threadscope/internal/config"
	"github.com/hitoshi/threadscope/internal/model"
)

// NewFromConfig は設定に従ってプロバイダクライアントを生成し、リトライとキャッシュで包む。
// APIキーが未設定の場合は *model.ConfigurationError を返す。呼び出し側は分析を簡易モードに切り替える。
// 戻り値のclose関数は常に非nilで、キャッシュ接続を閉じる。
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ChatClient, func(), error) {
	noop := func() {}
	if cfg.LLMAPIKey() == "" {
		return nil, noop, &model.ConfigurationError{Key: cfg.LLMAPIKeyName()}
	}

	var (
		provider  ChatClient
		modelName string
	)
	switch cfg.LLMProvider {
	case "anthropic":
		modelName = cfg.AnthropicModel
		provider = NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.LLMTimeout,
		})
	default:
		modelName = cfg.OpenAIModel
		provider = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LLMTimeout,
		})
	}

	var client ChatClient = NewRetryingClient(provider, logger)

	if cfg.ValkeyAddress == "" {
		return client, noop, nil
	}
	cache, err := NewValkeyCache(ctx, cfg.ValkeyAddress, cfg.ValkeyPassword)
	if err != nil {
		logger.Warn("Valkeyに接続できないためLLMキャッシュを無効にします",
			slog.String("address", cfg.ValkeyAddress),
			slog.String("error", err.Error()),
		)
		return client, noop, nil
	}
	logger.Info("LLMキャッシュを有効にしました", slog.String("address", cfg.ValkeyAddress))
	return NewCachedClient(client, cache, cfg.LLMProvider+":"+modelName, cfg.LLMCacheTTL, logger), cache.Close, nil
}
