package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/audit"
	"github.com/ethanteng/finsight-sub001/internal/config"
)

var (
	auditUser   string
	auditLimit  int
	auditFrom   string
	auditTo     string
	auditFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, verify and export the signed audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records, newest first",
	RunE:  auditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [audit-id]",
	Short: "Verify the HMAC signature of an audit record",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as CSV or JSON to stdout",
	RunE:  auditExport,
}

func init() {
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "filter by user ID")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum records to show")

	auditExportCmd.Flags().StringVar(&auditUser, "user", "", "filter by user ID")
	auditExportCmd.Flags().StringVar(&auditFrom, "from", "", "start date (YYYY-MM-DD), inclusive")
	auditExportCmd.Flags().StringVar(&auditTo, "to", "", "end date (YYYY-MM-DD), inclusive")
	auditExportCmd.Flags().StringVar(&auditFormat, "format", "csv", "output format (csv, json)")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func loadAuditStore() (*audit.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := openAuditStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}
	return store, nil
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := loadAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, audit.Filter{UserID: auditUser, Limit: auditLimit})
	if err != nil {
		return fmt.Errorf("querying audit records: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit records found.")
		return nil
	}
	renderAuditList(cmd.OutOrStdout(), recs)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id := args[0]
	store, err := loadAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	valid, err := store.Verify(ctx, id)
	if err != nil {
		return fmt.Errorf("verifying audit record: %w", err)
	}
	renderVerifyResult(cmd.OutOrStdout(), id, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", id)
	}
	return nil
}

func auditExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	filter, err := exportFilter(auditUser, auditFrom, auditTo)
	if err != nil {
		return err
	}

	store, err := loadAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("querying audit records: %w", err)
	}
	return writeExport(cmd.OutOrStdout(), auditFormat, recs)
}

// exportFilter turns the date flags into an inclusive UTC range.
func exportFilter(user, from, to string) (audit.Filter, error) {
	f := audit.Filter{UserID: user}
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return f, fmt.Errorf("invalid --from date: %w", err)
		}
		f.From = t.UTC()
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return f, fmt.Errorf("invalid --to date: %w", err)
		}
		f.To = t.UTC().Add(24*time.Hour - time.Nanosecond)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("--to is before --from")
	}
	return f, nil
}

func writeExport(w io.Writer, format string, recs []audit.Record) error {
	switch format {
	case "csv":
		return audit.WriteCSV(w, recs)
	case "json":
		return audit.WriteJSON(w, recs)
	default:
		return fmt.Errorf("unknown export format %q (use csv or json)", format)
	}
}

// renderAuditList writes one line per record to w.
func renderAuditList(w io.Writer, recs []audit.Record) {
	fmt.Fprintf(w, "Audit Records (showing %d):\n\n", len(recs))
	for i := range recs {
		rec := &recs[i]
		status := "✓"
		errorMark := ""
		if rec.Error != "" {
			status = "✗"
			errorMark = " [ERROR]"
		}
		fmt.Fprintf(w, "  %s %s | %s | %s/%s | %s | $%s | %dms%s\n",
			status,
			rec.ID,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.UserID,
			rec.Tier,
			rec.Model.Name,
			formatCost(rec.Model.CostUSD),
			rec.DurationMS,
			errorMark,
		)
	}
}

// renderVerifyResult writes the verify outcome to w.
func renderVerifyResult(w io.Writer, id string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Audit record %s: signature VALID (HMAC-SHA256 intact)\n", id)
	} else {
		fmt.Fprintf(w, "✗ Audit record %s: signature INVALID (possible tampering)\n", id)
	}
}
