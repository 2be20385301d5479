package cmd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
	"github.com/ethanteng/finsight-sub001/internal/advisor"
	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/audit"
	"github.com/ethanteng/finsight-sub001/internal/classifier"
	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/llm"
	"github.com/ethanteng/finsight-sub001/internal/prompt"
	"github.com/ethanteng/finsight-sub001/internal/query"
	"github.com/ethanteng/finsight-sub001/internal/sources"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// app holds everything a command needs to answer questions. close releases
// the SQLite handles in reverse order of opening.
type app struct {
	cfg        *config.Config
	registry   *tier.Registry
	aggregator *aggregator.Aggregator
	advisor    *advisor.Advisor
	audit      *audit.Store

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close_failed")
		}
	}
}

// loadRegistry returns the built-in tier table unless the operator supplied
// one.
func loadRegistry(cfg *config.Config) (*tier.Registry, error) {
	if cfg.TierFile == "" {
		return tier.DefaultRegistry(), nil
	}
	reg, err := tier.LoadFile(cfg.TierFile)
	if err != nil {
		return nil, fmt.Errorf("loading tier file: %w", err)
	}
	return reg, nil
}

// buildSources returns a source for every configured endpoint. Unconfigured
// providers are left out and surface as not_configured omissions.
func buildSources(cfg *config.Config) []sources.Source {
	client := func(e config.Endpoint) sources.ClientConfig {
		return sources.ClientConfig{
			BaseURL:           e.BaseURL,
			APIKey:            e.APIKey,
			Timeout:           cfg.ProviderTimeout,
			RequestsPerMinute: e.RequestsPerMinute,
		}
	}

	var srcs []sources.Source
	if cfg.Economic.Configured() {
		srcs = append(srcs, sources.NewEconomicIndicators(client(cfg.Economic), nil))
	}
	if cfg.Market.Configured() {
		srcs = append(srcs, sources.NewLiveMarketData(client(cfg.Market), nil))
	}
	if cfg.Search.Configured() {
		srcs = append(srcs, sources.NewWebSearch(client(cfg.Search), 0))
	}
	return srcs
}

func buildAggregator(cfg *config.Config, reg *tier.Registry) *aggregator.Aggregator {
	opts := []aggregator.Option{
		aggregator.WithDefaultTTL(cfg.CacheTTL),
		aggregator.WithProviderTimeout(cfg.ProviderTimeout),
		aggregator.WithBreaker(sources.NewBreaker(cfg.BreakerThreshold, cfg.BreakerWindow)),
		aggregator.WithQueryCacheSize(cfg.QueryCacheSize),
	}
	for id, ttl := range cfg.SourceTTLs {
		opts = append(opts, aggregator.WithTTL(id, ttl))
	}
	return aggregator.New(reg, buildSources(cfg), opts...)
}

// openAccountStore prefers the fixture file when one is configured.
func openAccountStore(cfg *config.Config) (accounts.Store, func() error, error) {
	if cfg.AccountsFile != "" {
		store, err := accounts.LoadFixtures(cfg.AccountsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading account fixtures: %w", err)
		}
		log.Info().Str("file", cfg.AccountsFile).Int("users", len(store.Users())).Msg("account_fixtures_loaded")
		return store, func() error { return nil }, nil
	}
	store, err := accounts.NewSQLiteStore(cfg.AccountsDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening account store: %w", err)
	}
	return store, store.Close, nil
}

func openAuditStore(cfg *config.Config) (*audit.Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	var scanOpts []classifier.ScannerOption
	if cfg.PIIPatternFile != "" {
		scanOpts = append(scanOpts, classifier.WithPatternFile(cfg.PIIPatternFile))
	}
	scanner, err := classifier.NewScanner(scanOpts...)
	if err != nil {
		return nil, fmt.Errorf("initializing PII scanner: %w", err)
	}

	provider, err := llm.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("initializing model provider: %w", err)
	}
	if llm.ProviderUsesAPIKey(cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
		log.Warn().Str("provider", cfg.LLM.Provider).Msg("llm_api_key not set; model calls will fail")
	}
	router := llm.NewRouter(provider, cfg.LLM.Model, cfg.LLM.TierModels)

	a := &app{cfg: cfg, registry: registry, aggregator: buildAggregator(cfg, registry)}

	store, closeStore, err := openAccountStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	a.audit, err = audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}
	a.closers = append(a.closers, a.audit.Close)

	a.advisor = advisor.New(
		store,
		a.aggregator,
		query.NewEnhancer(cfg.Institutions, cfg.RateTerms),
		prompt.NewAssembler(prompt.WithHistoryTurns(cfg.HistoryTurns)),
		router,
		advisor.WithScanner(scanner),
		advisor.WithRecorder(audit.NewGenerator(a.audit)),
		advisor.WithRetry(llm.DefaultRetryConfig()),
		advisor.WithMaxTokens(cfg.LLM.MaxTokens),
		advisor.WithTemperature(cfg.LLM.Temperature),
	)
	return a, nil
}

var errNoSourcesConfigured = errors.New("no external sources configured")
