package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/audit"
)

var (
	costsUser    string
	costsByModel bool
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show model spend per user or per model from the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "costs")
		defer span.End()

		store, err := loadAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

		recs, err := store.List(ctx, audit.Filter{UserID: costsUser, From: monthStart})
		if err != nil {
			return fmt.Errorf("querying audit records: %w", err)
		}

		label, key := "User", func(r *audit.Record) string { return r.UserID }
		if costsByModel {
			label, key = "Model", func(r *audit.Record) string {
				if r.Model.Name == "" {
					return "(none)"
				}
				return r.Model.Name
			}
		}
		daily, monthly := aggregateCosts(recs, dayStart, key)
		renderCostTable(cmd.OutOrStdout(), label, daily, monthly)
		return nil
	},
}

// aggregateCosts sums CostUSD per key, split into spend since dayStart and
// spend across all of recs.
func aggregateCosts(recs []audit.Record, dayStart time.Time, key func(*audit.Record) string) (daily, monthly map[string]float64) {
	daily = make(map[string]float64)
	monthly = make(map[string]float64)
	for i := range recs {
		rec := &recs[i]
		k := key(rec)
		monthly[k] += rec.Model.CostUSD
		if !rec.Timestamp.Before(dayStart) {
			daily[k] += rec.Model.CostUSD
		}
	}
	return daily, monthly
}

// renderCostTable writes a today/month table to w.
func renderCostTable(w io.Writer, label string, daily, monthly map[string]float64) {
	var keys []string
	for k := range monthly {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%-32s %14s %14s\n", label, "Today", "Month")
	fmt.Fprintf(w, "%-32s %14s %14s\n", "-----", "-----", "-----")
	var dailyTotal, monthlyTotal float64
	for _, k := range keys {
		d, m := daily[k], monthly[k]
		dailyTotal += d
		monthlyTotal += m
		fmt.Fprintf(w, "%-32s $%13s $%13s\n", k, formatCost(d), formatCost(m))
	}
	if len(keys) > 0 {
		fmt.Fprintf(w, "%-32s %14s %14s\n", "-----", "-----", "-----")
	}
	fmt.Fprintf(w, "%-32s $%13s $%13s\n", "Total", formatCost(dailyTotal), formatCost(monthlyTotal))
}

func init() {
	costsCmd.Flags().StringVar(&costsUser, "user", "", "only this user")
	costsCmd.Flags().BoolVar(&costsByModel, "by-model", false, "group output by model")
	rootCmd.AddCommand(costsCmd)
}
