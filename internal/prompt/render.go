package prompt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/tokenizer"
)

func money(d decimal.Decimal, currency string) string {
	if currency == "" || currency == "USD" {
		if d.IsNegative() {
			return "-$" + d.Abs().StringFixed(2)
		}
		return "$" + d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + currency
}

func writeAccounts(b *strings.Builder, accts []AnonAccount) {
	if len(accts) == 0 {
		return
	}
	b.WriteString("## Accounts\n")
	for _, a := range accts {
		fmt.Fprintf(b, "- %s (%s at %s): balance %s", a.Token, a.Type, a.Institution, money(a.Balance, a.Currency))
		if a.APR != nil {
			fmt.Fprintf(b, ", APR %s%%", a.APR.String())
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeTransactions(b *strings.Builder, txns []AnonTransaction) {
	if len(txns) == 0 {
		return
	}
	b.WriteString("## Recent transactions\n")
	for _, t := range txns {
		fmt.Fprintf(b, "- %s %s %s", t.Date.Format("2006-01-02"), t.Merchant, money(t.Amount, ""))
		if t.Account != "" {
			fmt.Fprintf(b, " on %s", t.Account)
		}
		if t.Category != "" {
			fmt.Fprintf(b, " [%s]", t.Category)
		}
		if t.Pending {
			b.WriteString(" (pending)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeEconomic(b *strings.Builder, actx *aggregator.Context) {
	if len(actx.EconomicIndicators) == 0 {
		return
	}
	b.WriteString("## Economic indicators\n")
	for _, i := range actx.EconomicIndicators {
		fmt.Fprintf(b, "- %s: %s (as of %s, source: %s)\n", i.Name, i.Value.String(), i.Date, i.Source)
	}
	b.WriteString(staleNote(actx, "economic"))
	b.WriteString("\n")
}

func writeMarket(b *strings.Builder, actx *aggregator.Context) {
	if len(actx.LiveMarketData) == 0 {
		return
	}
	b.WriteString("## Live market data\n")
	for _, q := range actx.LiveMarketData {
		fmt.Fprintf(b, "- %s (%s): %s", q.Name, q.Symbol, q.Value.String())
		if q.Date != "" {
			fmt.Fprintf(b, " as of %s", q.Date)
		}
		fmt.Fprintf(b, ", source: %s\n", q.Source)
	}
	b.WriteString(staleNote(actx, "market"))
	b.WriteString("\n")
}

// writeSearch anonymizes result text: public pages can name the user's own
// institutions and merchants.
func writeSearch(b *strings.Builder, sess *tokenizer.Session, actx *aggregator.Context) {
	if len(actx.SearchResults) == 0 {
		return
	}
	b.WriteString("## Web search results\n")
	for _, r := range actx.SearchResults {
		fmt.Fprintf(b, "- %s: %s (source: %s)\n", sess.Anonymize(r.Title), sess.Anonymize(r.Snippet), sess.Anonymize(r.Source))
	}
	b.WriteString("\n")
}

func writeOmitted(b *strings.Builder, actx *aggregator.Context) {
	if len(actx.OmittedSources) == 0 {
		return
	}
	b.WriteString("## Not included\n")
	for _, o := range actx.OmittedSources {
		switch {
		case o.UpgradeHint != "":
			fmt.Fprintf(b, "- %s: not available on the user's plan. %s\n", o.SourceID, o.UpgradeHint)
		default:
			fmt.Fprintf(b, "- %s: temporarily unavailable\n", o.SourceID)
		}
	}
	b.WriteString("\n")
}

func staleNote(actx *aggregator.Context, category string) string {
	for _, a := range actx.SourceAttributions {
		if string(a.Category) == category && a.Status == aggregator.StatusStale {
			return fmt.Sprintf("(Last known values; %s.)\n", a.Note)
		}
	}
	return ""
}
