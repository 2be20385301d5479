package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/requestctx"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

func TestCallersFrom(t *testing.T) {
	callers := callersFrom(map[string]config.Principal{
		"k1": {UserID: "alice", Tier: tier.Premium},
		"k2": {UserID: "bob", Tier: tier.Starter},
	})
	require.Len(t, callers, 2)
	assert.Equal(t, requestctx.Caller{UserID: "alice", Tier: tier.Premium}, callers["k1"])
	assert.Equal(t, requestctx.Caller{UserID: "bob", Tier: tier.Starter}, callers["k2"])
	assert.Empty(t, callersFrom(nil))
}

func TestServeCmd_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "8080", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("cors-origin"))
	assert.NotNil(t, serveCmd.Flags().Lookup("no-refresh"))
}

func TestBuildApp_WiresEverything(t *testing.T) {
	isolateEnv(t)
	t.Setenv("FINSIGHT_LLM_API_KEY", "sk-test")
	t.Setenv("FINSIGHT_MARKET_BASE_URL", "https://market.example.com")
	t.Setenv("FINSIGHT_MARKET_API_KEY", "k")

	cfg, err := config.Load()
	require.NoError(t, err)
	a, err := buildApp(cfg)
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.advisor)
	assert.NotNil(t, a.audit)
	status := a.aggregator.Status()
	require.Len(t, status, 1)
	assert.Equal(t, tier.SourceLiveMarketData, status[0].SourceID)
	assert.Equal(t, cfg.SourceTTLs[tier.SourceLiveMarketData].String(), status[0].TTL)
}

func TestBuildApp_BadTierFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("FINSIGHT_TIER_FILE", "/nonexistent/tiers.yaml")

	cfg, err := config.Load()
	require.NoError(t, err)
	_, err = buildApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tier file")
}
