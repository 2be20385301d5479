package advisor

import (
	"regexp"
	"strings"

	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/query"
)

var (
	economicTerms = wordsPattern("inflation", "cpi", "fed", "federal reserve", "fed funds",
		"interest rates?", "mortgage", "unemployment", "jobs report", "economy", "economic",
		"recession", "treasury", "10-year", "yield curve")
	marketTerms = wordsPattern("cds?", "certificates? of deposit", "stocks?", "market", "markets",
		"s&p", "nasdaq", "dow", "treasury", "t-bills?", "bonds?", "yields?", "apy", "savings rates?",
		"high-yield", "money market")
	newsTerms = wordsPattern("news", "today", "current", "currently", "latest", "right now",
		"this week", "best")
)

// wordsPattern compiles a case-insensitive whole-word alternation. Entries
// are regexp fragments.
func wordsPattern(terms ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\w&])(?:` + strings.Join(terms, "|") + `)(?:$|[^\w&])`)
}

// deriveFlags picks the external sources a question needs. Search is wanted
// for rate or institution questions and for anything time-sensitive; its
// query is the enhanced question.
func deriveFlags(question string, enh *query.Enhancer) aggregator.Flags {
	f := aggregator.Flags{
		EconomicIndicators: economicTerms.MatchString(question),
		LiveMarketData:     marketTerms.MatchString(question),
	}
	_, mentionsInstitution := enh.Institution(question)
	rate := enh.MentionsRate(question)
	if rate {
		f.EconomicIndicators = true
		f.LiveMarketData = true
	}
	if rate || mentionsInstitution || newsTerms.MatchString(question) {
		f.Search = true
		f.SearchQuery = enh.Enhance(question)
	}
	return f
}
