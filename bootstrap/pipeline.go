package bootstrap

import (
	"fmt"

	"vigil/config"
	"vigil/correlate"
	"vigil/narrative"
	"vigil/risk"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InitProviders builds the ordered narrative providers. Credentials must
// already be resolved by config.LoadSecrets.
func InitProviders(cfg *config.Config, sugar *zap.SugaredLogger) ([]narrative.Provider, error) {
	providers := make([]narrative.Provider, 0, len(cfg.Narrative.Providers))
	for _, p := range cfg.Narrative.Providers {
		provider, err := narrative.NewHTTPProvider(narrative.ProviderConfig{
			Name:              p.Name,
			Endpoint:          p.Endpoint,
			ModelID:           p.ModelID,
			Credential:        p.Credential,
			RequestsPerMinute: p.RequestsPerMinute,
			Burst:             p.Burst,
			MaxTokens:         p.MaxTokens,
			Temperature:       p.Temperature,
		}, cfg.Narrative.CircuitBreaker, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to create narrative provider: %w", err)
		}
		providers = append(providers, provider)
		sugar.Infow("Narrative provider configured",
			"provider", p.Name,
			"model_id", p.ModelID,
			"requests_per_minute", p.RequestsPerMinute)
	}
	if len(providers) == 0 {
		sugar.Info("No narrative providers configured, narratives are template-only")
	}
	return providers, nil
}

// InitNarrator creates the narrative generator. A Redis completion cache is
// used when storage has a Redis client, otherwise an in-process LRU.
func InitNarrator(cfg *config.Config, st *StorageComponents, scorer *risk.Scorer, tp trace.TracerProvider, sugar *zap.SugaredLogger) (*narrative.Generator, error) {
	providers, err := InitProviders(cfg, sugar)
	if err != nil {
		return nil, err
	}

	var cache narrative.CompletionCache
	if st.Redis != nil {
		cache = narrative.NewRedisCache(st.Redis, cfg.Redis.KeyPrefix+"completion:", cfg.Narrative.CacheTTL, sugar)
	} else {
		cache = narrative.NewMemoryCache(cfg.Narrative.CacheSize, cfg.Narrative.CacheTTL)
	}

	return narrative.NewGenerator(providers, sugar,
		narrative.WithTimeout(cfg.Narrative.Timeout),
		narrative.WithCache(cache),
		narrative.WithScorer(scorer),
		narrative.WithTracerProvider(tp),
	), nil
}

// InitCorrelation creates the correlation engine and its scheduler. The
// scheduler is not started.
func InitCorrelation(cfg *config.Config, st *StorageComponents, narrator correlate.Narrator, scorer *risk.Scorer, tp trace.TracerProvider, sugar *zap.SugaredLogger) (*correlate.Engine, *correlate.Scheduler) {
	engine := correlate.NewEngine(st.Store, narrator, st.Locker,
		correlate.Config{
			AttachWindow: cfg.Correlation.AttachWindow,
			Workers:      cfg.Correlation.Workers,
		},
		sugar,
		correlate.WithScorer(scorer),
		correlate.WithTracerProvider(tp),
	)
	scheduler := correlate.NewScheduler(engine, cfg.Correlation.Interval, cfg.Correlation.QueueSize, sugar)
	return engine, scheduler
}
