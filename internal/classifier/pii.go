// Package classifier detects and redacts financial PII in free text (card,
// account and routing numbers, IBANs, SSNs, contact data) so user-typed
// identifiers never reach the model even when the tokenizer does not know them.
package classifier

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/classifier")

const (
	// DefaultMinScore is the Presidio-compatible minimum confidence.
	DefaultMinScore = 0.5

	// ContextSimilarityFactor is added when a context word is near a match.
	ContextSimilarityFactor = 0.35

	// ContextWindowChars is searched on both sides of a match.
	ContextWindowChars = 100
)

// PIIEntity is one detected PII instance.
type PIIEntity struct {
	Type        string  `json:"type"`
	Value       string  `json:"-"`
	Position    int     `json:"position"`
	Confidence  float64 `json:"confidence"`
	Sensitivity int     `json:"sensitivity"`
}

// Classification is the result of a scan.
type Classification struct {
	HasPII         bool        `json:"has_pii"`
	Entities       []PIIEntity `json:"entities"`
	MaxSensitivity int         `json:"max_sensitivity"`
}

// Types returns the distinct entity types, sorted.
func (c *Classification) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.Entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	sort.Strings(out)
	return out
}

// Scanner detects PII using compiled recognizer patterns. Safe for
// concurrent use.
type Scanner struct {
	patterns []PIIPattern
	minScore float64
}

// ScannerOption configures a Scanner.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	patternFile      string
	disabledEntities []string
	minScore         float64
}

// WithMinScore overrides DefaultMinScore.
func WithMinScore(score float64) ScannerOption {
	return func(c *scannerConfig) { c.minScore = score }
}

// WithPatternFile layers an operator recognizer file over the defaults.
// A missing file is skipped.
func WithPatternFile(path string) ScannerOption {
	return func(c *scannerConfig) { c.patternFile = path }
}

// WithDisabledEntities removes recognizers for the given entities.
func WithDisabledEntities(entities []string) ScannerOption {
	return func(c *scannerConfig) { c.disabledEntities = entities }
}

// NewScanner builds a Scanner from the embedded defaults plus options.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}

	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}

	var overrides []RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			overrides = rf.Recognizers
		}
	}

	merged := FilterByEntities(MergeRecognizers(defaults, overrides), cfg.disabledEntities)
	compiled, err := CompilePIIPatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}

	minScore := DefaultMinScore
	if cfg.minScore > 0 {
		minScore = cfg.minScore
	}
	return &Scanner{patterns: compiled, minScore: minScore}, nil
}

// MustNewScanner is NewScanner that panics; the embedded defaults always compile.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Scan reports every validated match at or above the min score.
func (s *Scanner) Scan(ctx context.Context, text string) *Classification {
	_, span := tracer.Start(ctx, "classifier.scan")
	defer span.End()

	result := &Classification{Entities: []PIIEntity{}}
	for _, p := range s.patterns {
		for _, loc := range p.Pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if p.Validate != nil && !p.Validate(value) {
				continue
			}
			confidence := enhanceScoreWithContext(text, loc[0], p.Score, p.ContextWords)
			if confidence < s.minScore {
				continue
			}
			result.Entities = append(result.Entities, PIIEntity{
				Type:        p.Type,
				Value:       value,
				Position:    loc[0],
				Confidence:  confidence,
				Sensitivity: p.Sensitivity,
			})
			if p.Sensitivity > result.MaxSensitivity {
				result.MaxSensitivity = p.Sensitivity
			}
		}
	}
	result.HasPII = len(result.Entities) > 0

	span.SetAttributes(
		attribute.Bool("pii.detected", result.HasPII),
		attribute.Int("pii.entity_count", len(result.Entities)),
	)
	return result
}

// Redact replaces PII with type placeholders such as "[ACCOUNT_NUMBER]".
// Overlapping matches merge, keeping the more sensitive type.
func (s *Scanner) Redact(ctx context.Context, text string) string {
	out, _ := s.RedactWithResult(ctx, text)
	return out
}

// RedactWithResult is Redact that also returns the classification.
func (s *Scanner) RedactWithResult(ctx context.Context, text string) (string, *Classification) {
	ctx, span := tracer.Start(ctx, "classifier.redact")
	defer span.End()

	cls := s.Scan(ctx, text)
	if !cls.HasPII {
		return text, cls
	}

	type match struct {
		start, end  int
		ptype       string
		sensitivity int
	}
	matches := make([]match, len(cls.Entities))
	for i, e := range cls.Entities {
		matches[i] = match{start: e.Position, end: e.Position + len(e.Value), ptype: e.Type, sensitivity: e.Sensitivity}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		if li, lj := matches[i].end-matches[i].start, matches[j].end-matches[j].start; li != lj {
			return li > lj
		}
		return matches[i].sensitivity > matches[j].sensitivity
	})

	var merged []match
	for _, m := range matches {
		if len(merged) == 0 || m.start >= merged[len(merged)-1].end {
			merged = append(merged, m)
			continue
		}
		last := &merged[len(merged)-1]
		if m.sensitivity > last.sensitivity {
			last.ptype = m.ptype
			last.sensitivity = m.sensitivity
		}
		if m.end > last.end {
			last.end = m.end
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range merged {
		b.WriteString(text[prev:m.start])
		b.WriteString("[" + strings.ToUpper(m.ptype) + "]")
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String(), cls
}

// luhnValid checks a digit string with the Luhn algorithm (ISO/IEC 7812).
func luhnValid(number string) bool {
	n := len(number)
	if n < 12 || n > 19 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// abaValid checks the ABA routing number checksum (3-7-1 weights).
func abaValid(number string) bool {
	if len(number) != 9 {
		return false
	}
	weights := [3]int{3, 7, 1}
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * weights[i%3]
	}
	return sum != 0 && sum%10 == 0
}

// ibanLengths covers the countries most often seen in linked accounts.
var ibanLengths = map[string]int{
	"AT": 20, "BE": 16, "CH": 21, "DE": 22, "DK": 18, "ES": 24, "FI": 18,
	"FR": 27, "GB": 22, "IE": 22, "IT": 27, "LU": 20, "NL": 18, "NO": 15,
	"PL": 28, "PT": 25, "SE": 24,
}

func validateIBANLength(iban string) bool {
	if len(iban) < 2 {
		return false
	}
	expected, ok := ibanLengths[iban[:2]]
	return ok && len(iban) == expected
}

// validateIBANChecksum verifies the ISO 13616 MOD-97 check digits.
func validateIBANChecksum(iban string) bool {
	if len(iban) < 5 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			digits.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			fmt.Fprintf(&digits, "%d", ch-'A'+10)
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

func enhanceScoreWithContext(text string, position int, baseScore float64, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return baseScore
	}
	start := position - ContextWindowChars
	if start < 0 {
		start = 0
	}
	end := position + ContextWindowChars
	if end > len(text) {
		end = len(text)
	}
	window := strings.ToLower(text[start:end])
	for _, cw := range contextWords {
		if strings.Contains(window, strings.ToLower(cw)) {
			return baseScore + ContextSimilarityFactor
		}
	}
	return baseScore
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
