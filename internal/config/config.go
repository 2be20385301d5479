// Package config holds operator-level configuration for a finsight
// deployment: where state lives, which model and data providers to call,
// cache lifetimes and request limits.
//
// Values come from Viper, which merges FINSIGHT_* environment variables,
// finsight.config.yaml and the defaults registered here. Provider API keys
// may be set either way; they are never logged.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ethanteng/finsight-sub001/internal/llm"
	"github.com/ethanteng/finsight-sub001/internal/query"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// Viper keys. Each maps to an env var with the FINSIGHT_ prefix
// (e.g. "signing_key" -> FINSIGHT_SIGNING_KEY) and to a YAML field of the
// same name.
const (
	KeyDataDir        = "data_dir"
	KeySigningKey     = "signing_key"
	KeyAccountsFile   = "accounts_file"
	KeyTierFile       = "tier_file"
	KeyPIIPatternFile = "pii_pattern_file"

	KeyLLMProvider     = "llm_provider"
	KeyLLMAPIKey       = "llm_api_key"
	KeyLLMBaseURL      = "llm_base_url"
	KeyLLMModel        = "llm_model"
	KeyLLMModelStarter = "llm_model_starter"
	KeyLLMModelStd     = "llm_model_standard"
	KeyLLMModelPremium = "llm_model_premium"
	KeyLLMMaxTokens    = "llm_max_tokens"
	KeyLLMTemperature  = "llm_temperature"
	KeyOllamaBaseURL   = "ollama_base_url"

	KeyEconomicBaseURL = "economic_base_url"
	KeyEconomicAPIKey  = "economic_api_key"
	KeyEconomicRPM     = "economic_rpm"
	KeyMarketBaseURL   = "market_base_url"
	KeyMarketAPIKey    = "market_api_key"
	KeyMarketRPM       = "market_rpm"
	KeySearchBaseURL   = "search_base_url"
	KeySearchAPIKey    = "search_api_key"
	KeySearchRPM       = "search_rpm"

	KeyCacheTTL         = "cache_ttl"
	KeyCacheTTLEconomic = "cache_ttl_economic"
	KeyCacheTTLMarket   = "cache_ttl_market"
	KeyCacheTTLSearch   = "cache_ttl_search"
	KeyProviderTimeout  = "provider_timeout"
	KeyBreakerThreshold = "breaker_threshold"
	KeyBreakerWindow    = "breaker_window"
	KeyRefreshCron      = "refresh_cron"
	KeyQueryCacheSize   = "query_cache_size"

	KeyHistoryTurns = "history_turns"
	KeyInstitutions = "institutions"
	KeyRateTerms    = "rate_terms"

	KeyAPIKeys        = "api_keys"
	KeyRateLimitRPS   = "rate_limit_rps"
	KeyRateLimitBurst = "rate_limit_burst"
)

// Defaults.
const (
	DefaultLLMProvider     = "openai"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultLLMMaxTokens    = 1024
	DefaultLLMTemperature  = 0.2
	DefaultEconomicBaseURL = "https://api.stlouisfed.org/fred"
	DefaultSearchBaseURL   = "https://api.search.brave.com"
	DefaultEconomicRPM     = 120
	DefaultMarketRPM       = 60
	DefaultSearchRPM       = 60
	DefaultCacheTTL        = 15 * time.Minute
	DefaultEconomicTTL     = 6 * time.Hour
	DefaultMarketTTL       = 5 * time.Minute
	DefaultSearchTTL       = 15 * time.Minute
	DefaultProviderTimeout = 10 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerWindow   = time.Minute
	DefaultRefreshCron     = "*/10 * * * *"
	DefaultQueryCacheSize  = 256
	DefaultHistoryTurns    = 10
	DefaultRateLimitRPS    = 2.0
	DefaultRateLimitBurst  = 5
)

var ErrInvalidAPIKeyEntry = errors.New("api_keys entry must look like key=user:tier")

// Endpoint is one external data provider.
type Endpoint struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
}

// Configured reports whether the provider can be called. Every supported
// data provider needs a key.
func (e Endpoint) Configured() bool {
	return e.BaseURL != "" && e.APIKey != ""
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	TierModels  map[string]string
	MaxTokens   int
	Temperature float64
}

// Principal is who an API key authenticates as.
type Principal struct {
	UserID string
	Tier   tier.Tier
}

// Config is the resolved configuration of a finsight process.
type Config struct {
	DataDir        string
	SigningKey     string // HMAC-SHA256 key for audit records (>=32 bytes)
	AccountsFile   string // YAML fixtures; empty means the SQLite account store
	TierFile       string // optional tier table override
	PIIPatternFile string

	LLM      LLMConfig
	Economic Endpoint
	Market   Endpoint
	Search   Endpoint

	CacheTTL         time.Duration
	SourceTTLs       map[string]time.Duration
	ProviderTimeout  time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	RefreshCron      string
	QueryCacheSize   int // cached search queries kept at once

	HistoryTurns int
	Institutions []string
	RateTerms    []string

	APIKeys        map[string]Principal
	RateLimitRPS   float64
	RateLimitBurst int

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey reports whether the signing key was derived rather
// than set.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// AuditDBPath is the audit trail database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// AccountsDBPath is the SQLite account store.
func (c *Config) AccountsDBPath() string {
	return filepath.Join(c.DataDir, "accounts.db")
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs when the signing key was derived. Suppressed with
// FINSIGHT_QUICKSTART=1.
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("using generated default FINSIGHT_SIGNING_KEY; set it via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("FINSIGHT_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("FINSIGHT")
	viper.AutomaticEnv()
	setDefaults()
}

func setDefaults() {
	viper.SetDefault(KeyLLMProvider, DefaultLLMProvider)
	viper.SetDefault(KeyLLMModel, DefaultLLMModel)
	viper.SetDefault(KeyLLMMaxTokens, DefaultLLMMaxTokens)
	viper.SetDefault(KeyLLMTemperature, DefaultLLMTemperature)
	viper.SetDefault(KeyEconomicBaseURL, DefaultEconomicBaseURL)
	viper.SetDefault(KeySearchBaseURL, DefaultSearchBaseURL)
	viper.SetDefault(KeyEconomicRPM, DefaultEconomicRPM)
	viper.SetDefault(KeyMarketRPM, DefaultMarketRPM)
	viper.SetDefault(KeySearchRPM, DefaultSearchRPM)
	viper.SetDefault(KeyCacheTTL, DefaultCacheTTL)
	viper.SetDefault(KeyCacheTTLEconomic, DefaultEconomicTTL)
	viper.SetDefault(KeyCacheTTLMarket, DefaultMarketTTL)
	viper.SetDefault(KeyCacheTTLSearch, DefaultSearchTTL)
	viper.SetDefault(KeyProviderTimeout, DefaultProviderTimeout)
	viper.SetDefault(KeyBreakerThreshold, DefaultBreakerFailures)
	viper.SetDefault(KeyBreakerWindow, DefaultBreakerWindow)
	viper.SetDefault(KeyRefreshCron, DefaultRefreshCron)
	viper.SetDefault(KeyQueryCacheSize, DefaultQueryCacheSize)
	viper.SetDefault(KeyHistoryTurns, DefaultHistoryTurns)
	viper.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
	viper.SetDefault(KeyRateLimitBurst, DefaultRateLimitBurst)
}

// Load reads configuration from Viper and returns it validated.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		SigningKey:     viper.GetString(KeySigningKey),
		AccountsFile:   viper.GetString(KeyAccountsFile),
		TierFile:       viper.GetString(KeyTierFile),
		PIIPatternFile: viper.GetString(KeyPIIPatternFile),
		LLM: LLMConfig{
			Provider:    strings.ToLower(viper.GetString(KeyLLMProvider)),
			APIKey:      viper.GetString(KeyLLMAPIKey),
			BaseURL:     viper.GetString(KeyLLMBaseURL),
			Model:       viper.GetString(KeyLLMModel),
			MaxTokens:   viper.GetInt(KeyLLMMaxTokens),
			Temperature: viper.GetFloat64(KeyLLMTemperature),
			TierModels:  make(map[string]string),
		},
		Economic: endpoint(KeyEconomicBaseURL, KeyEconomicAPIKey, KeyEconomicRPM),
		Market:   endpoint(KeyMarketBaseURL, KeyMarketAPIKey, KeyMarketRPM),
		Search:   endpoint(KeySearchBaseURL, KeySearchAPIKey, KeySearchRPM),
		CacheTTL: viper.GetDuration(KeyCacheTTL),
		SourceTTLs: map[string]time.Duration{
			tier.SourceEconomicIndicators: viper.GetDuration(KeyCacheTTLEconomic),
			tier.SourceLiveMarketData:     viper.GetDuration(KeyCacheTTLMarket),
			tier.SourceWebSearch:          viper.GetDuration(KeyCacheTTLSearch),
		},
		ProviderTimeout:  viper.GetDuration(KeyProviderTimeout),
		BreakerThreshold: viper.GetInt(KeyBreakerThreshold),
		BreakerWindow:    viper.GetDuration(KeyBreakerWindow),
		RefreshCron:      viper.GetString(KeyRefreshCron),
		QueryCacheSize:   viper.GetInt(KeyQueryCacheSize),
		HistoryTurns:     viper.GetInt(KeyHistoryTurns),
		Institutions:     listOr(KeyInstitutions, query.DefaultInstitutions),
		RateTerms:        listOr(KeyRateTerms, query.DefaultRateTerms),
		RateLimitRPS:     viper.GetFloat64(KeyRateLimitRPS),
		RateLimitBurst:   viper.GetInt(KeyRateLimitBurst),
	}
	for name, key := range map[string]string{"starter": KeyLLMModelStarter, "standard": KeyLLMModelStd, "premium": KeyLLMModelPremium} {
		if m := viper.GetString(key); m != "" {
			cfg.LLM.TierModels[name] = m
		}
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = viper.GetString(KeyOllamaBaseURL)
	}

	keys, err := ParseAPIKeys(listOr(KeyAPIKeys, nil))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.APIKeys = keys

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func endpoint(urlKey, apiKey, rpmKey string) Endpoint {
	return Endpoint{
		BaseURL:           strings.TrimRight(viper.GetString(urlKey), "/"),
		APIKey:            viper.GetString(apiKey),
		RequestsPerMinute: viper.GetInt(rpmKey),
	}
}

// listOr reads a list that may come from YAML (a sequence) or from an env
// var (comma or space separated).
func listOr(key string, fallback []string) []string {
	var out []string
	for _, v := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// ParseAPIKeys parses "key=user:tier" entries.
func ParseAPIKeys(entries []string) (map[string]Principal, error) {
	out := make(map[string]Principal, len(entries))
	for _, e := range entries {
		key, rest, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			return nil, ErrInvalidAPIKeyEntry
		}
		user, tierName, ok := strings.Cut(rest, ":")
		if !ok || user == "" {
			return nil, ErrInvalidAPIKeyEntry
		}
		t, err := tier.Parse(tierName)
		if err != nil {
			return nil, fmt.Errorf("api key for %s: %w", user, err)
		}
		out[key] = Principal{UserID: user, Tier: t}
	}
	return out, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".finsight"
	}
	return filepath.Join(home, ".finsight")
}

// deriveDefaultKey produces a deterministic per-machine fallback key from
// the data directory. It is not a secret; it only lets a fresh install sign
// its audit trail before an operator sets FINSIGHT_SIGNING_KEY.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("finsight:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if _, err := llm.NewProvider(c.LLM.Provider, c.LLM.APIKey, c.LLM.BaseURL); err != nil {
		return fmt.Errorf("llm_provider: %w", err)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm_model must be set")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	for id, ttl := range c.SourceTTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl for %s must be positive", id)
		}
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider_timeout must be positive")
	}
	if c.QueryCacheSize <= 0 {
		return fmt.Errorf("query_cache_size must be positive")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("history_turns must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_rps and rate_limit_burst must be positive")
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("refresh_cron %q: %w", c.RefreshCron, err)
		}
	}
	return nil
}

// validateSigningKey requires at least 32 bytes; a 64+ character hex key
// qualifies either way.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes (got %d); set FINSIGHT_SIGNING_KEY", n)
}
