package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Finsight configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func renderConfig(w io.Writer, cfg *config.Config) {
	dirNote := "(will be created)"
	if dirExists(cfg.DataDir) {
		dirNote = "(exists)"
	}
	signing := "configured"
	if cfg.UsingDefaultSigningKey() {
		signing = "derived default (set FINSIGHT_SIGNING_KEY for production)"
	}

	fmt.Fprintf(w, "Data directory:   %s %s\n", cfg.DataDir, dirNote)
	fmt.Fprintf(w, "Signing key:      %s\n", signing)
	fmt.Fprintf(w, "Audit DB:         %s\n", cfg.AuditDBPath())
	fmt.Fprintf(w, "Accounts:         %s\n", accountsNote(cfg))
	fmt.Fprintf(w, "Tier table:       %s\n", orDefault(cfg.TierFile, "built-in"))
	fmt.Fprintf(w, "PII patterns:     %s\n", orDefault(cfg.PIIPatternFile, "built-in"))

	fmt.Fprintf(w, "\nLLM provider:     %s (key %s)\n", cfg.LLM.Provider, mask(cfg.LLM.APIKey))
	fmt.Fprintf(w, "LLM model:        %s\n", cfg.LLM.Model)
	for _, name := range sortedKeys(cfg.LLM.TierModels) {
		fmt.Fprintf(w, "  %-15s %s\n", name+":", cfg.LLM.TierModels[name])
	}

	fmt.Fprintln(w, "\nSources:")
	for _, e := range []struct {
		id string
		ep config.Endpoint
	}{
		{tier.SourceEconomicIndicators, cfg.Economic},
		{tier.SourceLiveMarketData, cfg.Market},
		{tier.SourceWebSearch, cfg.Search},
	} {
		state := "not configured"
		if e.ep.Configured() {
			state = fmt.Sprintf("%s (key %s)", e.ep.BaseURL, mask(e.ep.APIKey))
		}
		fmt.Fprintf(w, "  %-20s %s ttl=%s\n", e.id, state, cfg.SourceTTLs[e.id])
	}

	fmt.Fprintf(w, "\nProvider timeout: %s\n", cfg.ProviderTimeout)
	fmt.Fprintf(w, "Circuit breaker:  %d failures / %s\n", cfg.BreakerThreshold, cfg.BreakerWindow)
	fmt.Fprintf(w, "Refresh cron:     %s\n", cfg.RefreshCron)
	fmt.Fprintf(w, "Query cache:      %d searches\n", cfg.QueryCacheSize)
	fmt.Fprintf(w, "History turns:    %d\n", cfg.HistoryTurns)
	fmt.Fprintf(w, "Institutions:     %s\n", strings.Join(cfg.Institutions, ", "))
	fmt.Fprintf(w, "API keys:         %d\n", len(cfg.APIKeys))
	fmt.Fprintf(w, "Rate limit:       %.2f rps, burst %d\n", cfg.RateLimitRPS, cfg.RateLimitBurst)
}

func accountsNote(cfg *config.Config) string {
	if cfg.AccountsFile != "" {
		note := "(missing)"
		if fileExists(cfg.AccountsFile) {
			note = "(exists)"
		}
		return cfg.AccountsFile + " " + note
	}
	return cfg.AccountsDBPath()
}

// mask keeps the last four characters of a secret.
func mask(secret string) string {
	switch {
	case secret == "":
		return "unset"
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
