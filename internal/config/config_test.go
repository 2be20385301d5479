package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/query"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

func resetViper(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		KeySigningKey, KeyDataDir, KeyLLMProvider, KeyLLMModel, KeyLLMModelPremium,
		KeyCacheTTL, KeyCacheTTLMarket, KeyProviderTimeout, KeyRefreshCron,
		KeyInstitutions, KeyAPIKeys, KeyMarketBaseURL, KeyMarketAPIKey, KeyHistoryTurns,
		KeyQueryCacheSize,
	} {
		t.Setenv("FINSIGHT_"+upper(k), "")
	}
	viper.Reset()
	viper.SetEnvPrefix("FINSIGHT")
	viper.AutomaticEnv()
	setDefaults()
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("FINSIGHT_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLLMProvider, cfg.LLM.Provider)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultMarketTTL, cfg.SourceTTLs[tier.SourceLiveMarketData])
	assert.Equal(t, DefaultProviderTimeout, cfg.ProviderTimeout)
	assert.Equal(t, DefaultHistoryTurns, cfg.HistoryTurns)
	assert.Equal(t, DefaultQueryCacheSize, cfg.QueryCacheSize)
	assert.Equal(t, query.DefaultInstitutions, cfg.Institutions)
	assert.Equal(t, DefaultRefreshCron, cfg.RefreshCron)
	assert.Empty(t, cfg.APIKeys)
	assert.False(t, cfg.Market.Configured())
	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.GreaterOrEqual(t, len(cfg.SigningKey), 32)
}

func TestLoad_FromEnv(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("FINSIGHT_DATA_DIR", dir)
	t.Setenv("FINSIGHT_SIGNING_KEY", "my-signing-key-at-least-32-chars!")
	t.Setenv("FINSIGHT_LLM_PROVIDER", "Anthropic")
	t.Setenv("FINSIGHT_LLM_MODEL_PREMIUM", "claude-large")
	t.Setenv("FINSIGHT_CACHE_TTL_MARKET", "90s")
	t.Setenv("FINSIGHT_INSTITUTIONS", "chase, ally")
	t.Setenv("FINSIGHT_API_KEYS", "k1=user-a:premium,k2=user-b:starter")
	t.Setenv("FINSIGHT_MARKET_BASE_URL", "https://market.example.com/")
	t.Setenv("FINSIGHT_MARKET_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.False(t, cfg.UsingDefaultSigningKey())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, map[string]string{"premium": "claude-large"}, cfg.LLM.TierModels)
	assert.Equal(t, 90*time.Second, cfg.SourceTTLs[tier.SourceLiveMarketData])
	assert.Equal(t, []string{"chase", "ally"}, cfg.Institutions)
	assert.Equal(t, Principal{UserID: "user-a", Tier: tier.Premium}, cfg.APIKeys["k1"])
	assert.Equal(t, Principal{UserID: "user-b", Tier: tier.Starter}, cfg.APIKeys["k2"])
	assert.Equal(t, "https://market.example.com", cfg.Market.BaseURL)
	assert.True(t, cfg.Market.Configured())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"short signing key", KeySigningKey, "short", "signing_key must be at least 32 bytes"},
		{"unknown provider", KeyLLMProvider, "watson", "llm_provider"},
		{"zero ttl", KeyCacheTTL, "0s", "cache_ttl must be positive"},
		{"negative timeout", KeyProviderTimeout, "-1s", "provider_timeout must be positive"},
		{"bad cron", KeyRefreshCron, "every tuesday", "refresh_cron"},
		{"bad api key entry", KeyAPIKeys, "nokey", "api_keys entry"},
		{"bad api key tier", KeyAPIKeys, "k=user:gold", "unknown tier"},
		{"negative history", KeyHistoryTurns, "-2", "history_turns"},
		{"zero query cache", KeyQueryCacheSize, "0", "query_cache_size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			t.Setenv("FINSIGHT_DATA_DIR", t.TempDir())
			t.Setenv("FINSIGHT_"+upper(tt.key), tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAPIKeys(t *testing.T) {
	keys, err := ParseAPIKeys([]string{"abc=alice:standard"})
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "alice", Tier: tier.Standard}, keys["abc"])

	_, err = ParseAPIKeys([]string{"abc=:standard"})
	assert.ErrorIs(t, err, ErrInvalidAPIKeyEntry)
	_, err = ParseAPIKeys([]string{"=alice:standard"})
	assert.ErrorIs(t, err, ErrInvalidAPIKeyEntry)
}

func TestDeriveDefaultKey_PerDataDir(t *testing.T) {
	a := deriveDefaultKey("/a", "audit-signing")
	b := deriveDefaultKey("/b", "audit-signing")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, a, deriveDefaultKey("/a", "audit-signing"))
}
