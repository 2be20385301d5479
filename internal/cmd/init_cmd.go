package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	initDir   string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config and sample account fixtures",
	Long:  "Creates finsight.config.yaml and accounts.yaml so `finsight ask --user demo-user` works locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "init")
		defer span.End()

		written, err := writeStarterFiles(initDir, initForce)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s\n", path)
		}
		log.Debug().Strs("files", written).Msg("init_complete")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to write into")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `# Finsight configuration. Every key can also be set as FINSIGHT_<KEY>.
accounts_file: accounts.yaml

llm_provider: openai        # openai, anthropic, ollama
llm_model: gpt-4o-mini
# llm_model_premium: gpt-4o
# llm_api_key: set FINSIGHT_LLM_API_KEY instead

# External sources are omitted until both base URL and API key are set.
# economic_api_key: ""      # FRED
# market_base_url: ""
# market_api_key: ""
# search_api_key: ""        # Brave Search

cache_ttl: 15m
provider_timeout: 10s
refresh_cron: "*/10 * * * *"
query_cache_size: 256       # distinct search queries cached at once
history_turns: 10

# key=user:tier, comma separated
api_keys: "dev-key=demo-user:premium"
`

const starterAccounts = `users:
  demo-user:
    accounts:
      - id: acc-1
        name: Everyday Checking
        institution: Chase
        type: checking
        balance: 2450.17
        currency: USD
      - id: acc-2
        name: High Yield Savings
        institution: Ally
        type: savings
        balance: 15200.00
        currency: USD
        apr: 4.20
      - id: acc-3
        name: Platinum Card
        institution: American Express
        type: credit
        balance: -812.40
        currency: USD
        apr: 24.99
    transactions:
      - id: tx-1
        account_id: acc-1
        merchant: Whole Foods
        category: groceries
        amount: -84.12
        date: 2026-02-03
      - id: tx-2
        account_id: acc-3
        merchant: Delta Air Lines
        category: travel
        amount: -412.00
        date: 2026-02-01
`

// writeStarterFiles writes both templates into dir. Existing files are left
// untouched unless force is set.
func writeStarterFiles(dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	files := []struct{ name, body string }{
		{"finsight.config.yaml", starterConfig},
		{"accounts.yaml", starterAccounts},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if !force && fileExists(path) {
			return nil, fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.body), 0o600); err != nil {
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
