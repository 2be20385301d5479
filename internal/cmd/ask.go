package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/advisor"
	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

var (
	askUser string
	askTier string
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question as a user and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "", "user id whose accounts provide context (required)")
	askCmd.Flags().StringVar(&askTier, "tier", "starter", "subscription tier (starter, standard, premium)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
	_ = askCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "ask")
	defer span.End()

	t, err := tier.Parse(askTier)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ans, err := a.advisor.AskQuestion(ctx, askUser, t, strings.Join(args, " "), nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	renderAnswer(out, ans)
	return nil
}

// renderAnswer writes the answer followed by where its context came from.
func renderAnswer(w io.Writer, ans *advisor.Answer) {
	fmt.Fprintln(w, strings.TrimSpace(ans.Answer))

	if len(ans.SourceAttributions) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range ans.SourceAttributions {
			line := fmt.Sprintf("  - %s (%s, %s)", src.SourceID, src.Provider, src.Status)
			if src.Note != "" {
				line += ": " + src.Note
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(ans.OmittedSources) > 0 {
		fmt.Fprintln(w, "\nNot included:")
		for _, o := range ans.OmittedSources {
			line := fmt.Sprintf("  - %s (%s)", o.SourceID, o.Reason)
			if o.UpgradeHint != "" {
				line += ": " + o.UpgradeHint
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "\nRequest: %s\n", ans.RequestID)
}
