// Package doctor provides preflight checks for Finsight configuration and
// runtime. Used by `finsight doctor`.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
	"github.com/ethanteng/finsight-sub001/internal/audit"
	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/llm"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipUpstream bool // skip provider connectivity checks (CI/offline)
	HTTPClient   *http.Client
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check FINSIGHT_* env vars and finsight.config.yaml",
		})
	} else {
		report.Checks = append(report.Checks, checkConfig(ctx, cfg)...)
		report.Checks = append(report.Checks, checkSources(cfg)...)
		if !opts.SkipUpstream {
			report.Checks = append(report.Checks, checkUpstreams(ctx, cfg, opts.HTTPClient)...)
		}
	}

	report.tally()
	return report
}

func (r *Report) tally() {
	r.Summary = Summary{}
	for _, c := range r.Checks {
		switch c.Status {
		case "pass":
			r.Summary.Pass++
		case "warn":
			r.Summary.Warn++
		case "fail":
			r.Summary.Fail++
		}
	}

	r.Status = "pass"
	if r.Summary.Warn > 0 {
		r.Status = "warn"
	}
	if r.Summary.Fail > 0 {
		r.Status = "fail"
	}
}

func checkConfig(ctx context.Context, cfg *config.Config) []CheckResult {
	results := []CheckResult{checkDataDir(cfg)}
	results = append(results, checkSigningKey(cfg))
	results = append(results, checkLLM(cfg))
	results = append(results, checkTierTable(cfg))
	results = append(results, checkAuditDB(ctx, cfg))
	results = append(results, checkAccountStore(cfg))
	results = append(results, checkAPIKeys(cfg))
	return results
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkSigningKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSigningKey() {
		return CheckResult{
			Name: "signing_key", Category: "config", Status: "warn",
			Message: "Using generated default", Fix: "Set FINSIGHT_SIGNING_KEY for production",
		}
	}
	return CheckResult{Name: "signing_key", Category: "config", Status: "pass", Message: "Configured"}
}

func checkLLM(cfg *config.Config) CheckResult {
	if llm.ProviderUsesAPIKey(cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
		return CheckResult{
			Name: "llm_key", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s selected but no API key set", cfg.LLM.Provider),
			Fix:     "Set FINSIGHT_LLM_API_KEY or switch FINSIGHT_LLM_PROVIDER to ollama",
		}
	}
	return CheckResult{
		Name: "llm_key", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s / %s", cfg.LLM.Provider, cfg.LLM.Model),
	}
}

func checkTierTable(cfg *config.Config) CheckResult {
	if cfg.TierFile == "" {
		return CheckResult{
			Name: "tier_table", Category: "config", Status: "pass",
			Message: fmt.Sprintf("built-in (%d sources)", len(tier.DefaultRules)),
		}
	}
	reg, err := tier.LoadFile(cfg.TierFile)
	if err != nil {
		return CheckResult{
			Name: "tier_table", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.TierFile, err),
			Fix:     "Fix the tier file or unset FINSIGHT_TIER_FILE",
		}
	}
	return CheckResult{
		Name: "tier_table", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (%d sources)", cfg.TierFile, len(reg.Sources())),
	}
}

func checkAuditDB(ctx context.Context, cfg *config.Config) CheckResult {
	store, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{
			Name: "audit_db", Category: "config", Status: "fail",
			Message: err.Error(),
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recs, err := store.List(ctx, audit.Filter{})
	if err != nil {
		return CheckResult{
			Name: "audit_db", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.AuditDBPath(), err),
		}
	}
	return CheckResult{
		Name: "audit_db", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (%d records)", cfg.AuditDBPath(), len(recs)),
	}
}

func checkAccountStore(cfg *config.Config) CheckResult {
	if cfg.AccountsFile != "" {
		store, err := accounts.LoadFixtures(cfg.AccountsFile)
		if err != nil {
			return CheckResult{
				Name: "account_store", Category: "config", Status: "fail",
				Message: fmt.Sprintf("%s: %v", cfg.AccountsFile, err),
			}
		}
		if len(store.Users()) == 0 {
			return CheckResult{
				Name: "account_store", Category: "config", Status: "warn",
				Message: fmt.Sprintf("%s has no users", cfg.AccountsFile),
			}
		}
		return CheckResult{
			Name: "account_store", Category: "config", Status: "pass",
			Message: fmt.Sprintf("%s (%d users)", cfg.AccountsFile, len(store.Users())),
		}
	}
	store, err := accounts.NewSQLiteStore(cfg.AccountsDBPath())
	if err != nil {
		return CheckResult{
			Name: "account_store", Category: "config", Status: "fail",
			Message: err.Error(),
		}
	}
	_ = store.Close()
	return CheckResult{
		Name: "account_store", Category: "config", Status: "pass",
		Message: cfg.AccountsDBPath(),
	}
}

func checkAPIKeys(cfg *config.Config) CheckResult {
	if len(cfg.APIKeys) == 0 {
		return CheckResult{
			Name: "api_keys", Category: "config", Status: "warn",
			Message: "No API keys configured; the HTTP API rejects every request",
			Fix:     "Set FINSIGHT_API_KEYS=key=user:tier",
		}
	}
	return CheckResult{
		Name: "api_keys", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%d key(s)", len(cfg.APIKeys)),
	}
}

type namedEndpoint struct {
	id string
	ep config.Endpoint
}

func endpoints(cfg *config.Config) []namedEndpoint {
	return []namedEndpoint{
		{tier.SourceEconomicIndicators, cfg.Economic},
		{tier.SourceLiveMarketData, cfg.Market},
		{tier.SourceWebSearch, cfg.Search},
	}
}

// checkSources warns for every provider without credentials; those sources
// are omitted from every context as not_configured.
func checkSources(cfg *config.Config) []CheckResult {
	var results []CheckResult
	for _, e := range endpoints(cfg) {
		if !e.ep.Configured() {
			results = append(results, CheckResult{
				Name: "source_" + e.id, Category: "sources", Status: "warn",
				Message: "Not configured; omitted from every answer",
				Fix:     "Set the base URL and API key for " + e.id,
			})
			continue
		}
		results = append(results, CheckResult{
			Name: "source_" + e.id, Category: "sources", Status: "pass",
			Message: e.ep.BaseURL,
		})
	}
	return results
}

func checkUpstreams(ctx context.Context, cfg *config.Config, client *http.Client) []CheckResult {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	var results []CheckResult
	for _, e := range endpoints(cfg) {
		if e.ep.Configured() {
			results = append(results, checkUpstream(ctx, client, e.id, e.ep.BaseURL)...)
		}
	}
	if cfg.LLM.BaseURL != "" {
		results = append(results, checkUpstream(ctx, client, "llm", cfg.LLM.BaseURL)...)
	}
	return results
}

// checkUpstream only proves the host answers; any HTTP status counts as
// reachable.
func checkUpstream(ctx context.Context, client *http.Client, name, baseURL string) []CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return []CheckResult{{
			Name: "upstream_" + name, Category: "upstream", Status: "fail",
			Message: fmt.Sprintf("Invalid URL: %v", err),
		}}
	}
	start := time.Now()
	resp, err := client.Do(req) //nolint:gosec // URL from operator config
	latency := time.Since(start)
	if err != nil {
		return []CheckResult{{
			Name: "upstream_" + name, Category: "upstream", Status: "fail",
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check network connectivity and base URL",
		}}
	}
	resp.Body.Close()

	results := []CheckResult{{
		Name: "upstream_" + name, Category: "upstream", Status: "pass",
		Message: fmt.Sprintf("%s (%dms, HTTP %d)", baseURL, latency.Milliseconds(), resp.StatusCode),
	}}
	if latency > 2*time.Second {
		results = append(results, CheckResult{
			Name: "upstream_latency_" + name, Category: "upstream", Status: "warn",
			Message: fmt.Sprintf("%.1fs exceeds the 2s threshold; requests may hit the provider timeout", latency.Seconds()),
		})
	}
	return results
}
