package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points config at a fresh data dir and clears settings that a
// developer shell might carry.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FINSIGHT_DATA_DIR", dir)
	t.Setenv("FINSIGHT_QUICKSTART", "1")
	for _, k := range []string{
		"FINSIGHT_SIGNING_KEY", "FINSIGHT_LLM_PROVIDER", "FINSIGHT_LLM_API_KEY", "FINSIGHT_LLM_BASE_URL",
		"FINSIGHT_ACCOUNTS_FILE", "FINSIGHT_TIER_FILE", "FINSIGHT_API_KEYS",
		"FINSIGHT_ECONOMIC_API_KEY", "FINSIGHT_MARKET_BASE_URL", "FINSIGHT_MARKET_API_KEY", "FINSIGHT_SEARCH_API_KEY",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	expected := []string{
		"version",
		"init",
		"serve",
		"ask",
		"sources",
		"audit",
		"costs",
		"config",
		"doctor",
	}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "subcommand %q should be registered", name)
	}
}

func TestRootCommand_HelpOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "never sees real account")
	assert.Contains(t, output, "ask")
	assert.Contains(t, output, "serve")
}

func TestVersionVars_HaveDefaults(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "none", Commit)
	assert.Equal(t, "unknown", BuildDate)
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "verbose", "log-level", "log-format", "otel"} {
		t.Run(name, func(t *testing.T) {
			assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag %q should be registered", name)
		})
	}
}

func TestRootCommand_UseAndShort(t *testing.T) {
	assert.Equal(t, "finsight", rootCmd.Use)
	assert.Equal(t, "Privacy-preserving AI financial assistant", rootCmd.Short)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "Finsight")
	assert.Contains(t, buf.String(), "Go:")
}

func TestPackageLevelTracer_IsNotNil(t *testing.T) {
	assert.NotNil(t, tracer, "package-level tracer should be initialized")
}
