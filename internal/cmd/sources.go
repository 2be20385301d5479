package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

var sourcesTier string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect external data sources and tier access",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show which sources a tier can use and which are configured",
	RunE:  sourcesList,
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check [source-id...]",
	Short: "Fetch each configured source once and report failures",
	RunE:  sourcesCheck,
}

func init() {
	sourcesListCmd.Flags().StringVar(&sourcesTier, "tier", "premium", "tier to evaluate (starter, standard, premium)")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesCheckCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func loadSourceView() (*config.Config, *tier.Registry, *aggregator.Aggregator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, reg, buildAggregator(cfg, reg), nil
}

func sourcesList(cmd *cobra.Command, args []string) error {
	t, err := tier.Parse(sourcesTier)
	if err != nil {
		return err
	}
	_, reg, agg, err := loadSourceView()
	if err != nil {
		return err
	}
	renderSourceList(cmd.OutOrStdout(), reg, t, agg.Status())
	return nil
}

func sourcesCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	_, _, agg, err := loadSourceView()
	if err != nil {
		return err
	}
	if len(agg.Status()) == 0 {
		return errNoSourcesConfigured
	}

	ids := args
	if len(ids) == 0 {
		for _, st := range agg.Status() {
			if st.Category != tier.CategorySearch {
				ids = append(ids, st.SourceID)
			}
		}
	}
	errs := agg.Refresh(ctx, ids...)
	renderCheckResult(cmd.OutOrStdout(), ids, errs)
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d source(s) failed", len(errs), len(ids))
	}
	return nil
}

// renderSourceList writes the tier view of every registered source to w.
func renderSourceList(w io.Writer, reg *tier.Registry, t tier.Tier, status []aggregator.SourceStatus) {
	configured := make(map[string]bool, len(status))
	for _, st := range status {
		configured[st.SourceID] = true
	}

	fmt.Fprintf(w, "Sources for tier %s:\n\n", t)
	for _, id := range reg.Sources() {
		rule, _ := reg.Rule(id)
		mark := "\u2713"
		access := "available"
		if !reg.IsAllowed(t, id) {
			mark = "\u2717"
			access = tier.UpgradeHint(rule)
		}
		state := "not configured"
		if configured[id] {
			state = "configured"
		}
		fmt.Fprintf(w, "  %s %-20s | min %-8s | %-14s | %s\n", mark, id, rule.MinTier, state, access)
	}
}

// renderCheckResult writes one line per checked source to w.
func renderCheckResult(w io.Writer, ids []string, errs map[string]error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if err, failed := errs[id]; failed {
			fmt.Fprintf(w, "\u2717 %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(w, "\u2713 %s: ok\n", id)
	}
}
