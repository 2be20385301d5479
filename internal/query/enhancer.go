// Package query rewrites user questions into search-provider queries using
// keyword rules. There is no index or embedding step: the rewritten string
// goes straight to a keyword text-search API.
package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInstitutions are matched case-insensitively against questions.
var DefaultInstitutions = []string{
	"chase", "bank of america", "wells fargo", "citi", "citibank", "capital one",
	"us bank", "pnc", "truist", "td bank", "ally", "marcus", "discover",
	"american express", "sofi", "schwab", "fidelity", "vanguard",
}

// DefaultRateTerms mark a question as being about rates.
var DefaultRateTerms = []string{
	"mortgage rate", "interest rate", "savings rate", "cd rate", "loan rate",
	"auto loan", "heloc", "refinance", "apy", "apr", "rates", "rate",
}

// DefaultTailWords is how many trailing question words follow the temporal
// qualifier in an institution query.
const DefaultTailWords = 3

// Enhancer rewrites questions. It holds only immutable configuration and is
// safe for concurrent use.
type Enhancer struct {
	institutions []term
	rateTerms    []term
	tailWords    int
	now          func() time.Time
}

type term struct {
	text string
	re   *regexp.Regexp
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithClock overrides the clock used for the year qualifier.
func WithClock(now func() time.Time) Option {
	return func(e *Enhancer) { e.now = now }
}

// WithTailWords sets how many trailing words are appended.
func WithTailWords(n int) Option {
	return func(e *Enhancer) {
		if n > 0 {
			e.tailWords = n
		}
	}
}

// NewEnhancer builds an Enhancer over the given term lists. Nil lists fall
// back to the defaults.
func NewEnhancer(institutions, rateTerms []string, opts ...Option) *Enhancer {
	if institutions == nil {
		institutions = DefaultInstitutions
	}
	if rateTerms == nil {
		rateTerms = DefaultRateTerms
	}
	e := &Enhancer{
		institutions: compileTerms(institutions),
		rateTerms:    compileTerms(rateTerms),
		tailWords:    DefaultTailWords,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func compileTerms(list []string) []term {
	out := make([]term, 0, len(list))
	for _, t := range list {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, term{
			text: t,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}
	// Prefer longer terms when two start at the same position ("citibank" over "citi").
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].text) > len(out[j].text) })
	return out
}

// Enhance returns the search query for question:
//   - institution and rate topic: "<institution> current rates today <year> <last words>"
//   - rate topic only: "<question> <year>"
//   - otherwise the question unchanged.
//
// When several institutions are mentioned only the first one in the
// question is used.
func (e *Enhancer) Enhance(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return question
	}
	if !e.mentionsRate(q) {
		return question
	}
	year := strconv.Itoa(e.now().Year())

	inst, ok := e.firstInstitution(q)
	if !ok {
		return q + " " + year
	}
	parts := []string{inst, "current rates today", year}
	if tail := lastWords(q, e.tailWords); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, " ")
}

// Institution returns the first institution mentioned in question, if any.
func (e *Enhancer) Institution(question string) (string, bool) {
	return e.firstInstitution(question)
}

// MentionsRate reports whether question matches any rate-topic term.
func (e *Enhancer) MentionsRate(question string) bool {
	return e.mentionsRate(question)
}

func (e *Enhancer) mentionsRate(q string) bool {
	for _, t := range e.rateTerms {
		if t.re.MatchString(q) {
			return true
		}
	}
	return false
}

func (e *Enhancer) firstInstitution(q string) (string, bool) {
	best := -1
	var found string
	for _, t := range e.institutions {
		loc := t.re.FindStringIndex(q)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			found = t.text
		}
	}
	return found, best >= 0
}

func lastWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}
