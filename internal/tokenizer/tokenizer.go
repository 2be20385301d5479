// Package tokenizer implements session-scoped, reversible pseudonymization of
// account, institution and merchant names.
//
// A Session is created for exactly one in-flight request and must never be
// shared between requests: it holds the only mapping from tokens back to real
// names, and a shared Session would let one user's identifiers resolve inside
// another user's answer. Mappings live in memory only and are discarded by
// Reset or when the Session is dropped.
package tokenizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind is the category of identifier being tokenized.
type Kind string

const (
	Account     Kind = "Account"
	Institution Kind = "Institution"
	Merchant    Kind = "Merchant"
)

// Kinds lists every supported kind in token-pattern order.
var Kinds = []Kind{Account, Institution, Merchant}

// tokenPattern matches any token this package can mint.
var tokenPattern = regexp.MustCompile(`\b(Account|Institution|Merchant)_[0-9]+\b`)

// Entry is a single token mapping owned by one Session.
type Entry struct {
	Token     string `json:"token"`
	RealValue string `json:"-"`
	Kind      Kind   `json:"kind"`
}

type mappingKey struct {
	kind  Kind
	value string
	aux   string
}

// Session holds the token mappings for one request.
type Session struct {
	mu       sync.Mutex
	id       string
	forward  map[mappingKey]string
	reverse  map[string]Entry
	counters map[Kind]int
	order    []string

	// matcher is rebuilt lazily after new tokens are minted.
	matcher *regexp.Regexp
	byValue map[string]string
	dirty   bool
}

// NewSession returns an empty Session with a fresh id.
func NewSession() *Session {
	s := &Session{}
	s.init()
	return s
}

func (s *Session) init() {
	s.id = uuid.NewString()
	s.forward = make(map[mappingKey]string)
	s.reverse = make(map[string]Entry)
	s.counters = make(map[Kind]int)
	s.order = nil
	s.matcher = nil
	s.byValue = nil
	s.dirty = false
}

// ID identifies the session in logs and audit records.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Tokenize returns the token for realValue, minting "<Kind>_<n>" on first
// encounter. The optional auxKey disambiguates equal display names; accounts
// pass their institution so "Checking" at two banks gets two tokens.
// Empty values are returned unchanged.
func (s *Session) Tokenize(kind Kind, realValue string, auxKey ...string) string {
	if strings.TrimSpace(realValue) == "" {
		log.Debug().Str("kind", string(kind)).Msg("tokenize_skipped_empty_value")
		return realValue
	}
	if !validKind(kind) {
		log.Debug().Str("kind", string(kind)).Msg("tokenize_skipped_unknown_kind")
		return realValue
	}

	key := mappingKey{kind: kind, value: realValue}
	if len(auxKey) > 0 {
		key.aux = strings.Join(auxKey, "\x00")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.forward[key]; ok {
		return tok
	}
	s.counters[kind]++
	tok := string(kind) + "_" + strconv.Itoa(s.counters[kind])
	s.forward[key] = tok
	s.reverse[tok] = Entry{Token: tok, RealValue: realValue, Kind: kind}
	s.order = append(s.order, tok)
	s.dirty = true
	return tok
}

// Reverse returns the real value for token, or token itself when this
// session never minted it.
func (s *Session) Reverse(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.reverse[token]; ok {
		return e.RealValue
	}
	return token
}

// Reset discards every mapping and counter and rotates the session id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
}

// Len returns the number of minted tokens.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reverse)
}

// Counts returns the number of minted tokens per kind.
func (s *Session) Counts() map[Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// ConvertToUserFriendly replaces every token minted by this session with its
// real value. Tokens the session does not know are left verbatim.
func (s *Session) ConvertToUserFriendly(raw string) string {
	if raw == "" {
		return raw
	}
	return tokenPattern.ReplaceAllStringFunc(raw, s.Reverse)
}

// Anonymize replaces every real value known to the session that occurs in
// text with its token. Matching is case-insensitive and respects word
// boundaries, so "Chase" does not rewrite "purchase".
func (s *Session) Anonymize(text string) string {
	m, byValue := s.snapshotMatcher()
	if m == nil || text == "" {
		return text
	}
	return m.ReplaceAllStringFunc(text, func(match string) string {
		if tok, ok := byValue[strings.ToLower(match)]; ok {
			return tok
		}
		return match
	})
}

// Leaks reports the distinct real values known to the session that occur in
// text. An empty result means text is safe to send across the model boundary.
func (s *Session) Leaks(text string) []string {
	m, _ := s.snapshotMatcher()
	if m == nil || text == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, match := range m.FindAllString(text, -1) {
		k := strings.ToLower(match)
		if !seen[k] {
			seen[k] = true
			out = append(out, match)
		}
	}
	return out
}

func (s *Session) snapshotMatcher() (*regexp.Regexp, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return s.matcher, s.byValue
	}
	s.dirty = false

	byValue := make(map[string]string, len(s.order))
	values := make([]string, 0, len(s.order))
	for _, tok := range s.order {
		e := s.reverse[tok]
		k := strings.ToLower(e.RealValue)
		if _, dup := byValue[k]; dup {
			continue
		}
		byValue[k] = tok
		values = append(values, e.RealValue)
	}
	if len(values) == 0 {
		s.matcher, s.byValue = nil, nil
		return nil, nil
	}
	// Longest first: RE2 alternation prefers the earliest branch.
	sort.SliceStable(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = boundaryQuote(v)
	}
	s.matcher = regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
	s.byValue = byValue
	return s.matcher, s.byValue
}

func boundaryQuote(v string) string {
	q := regexp.QuoteMeta(v)
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	if isWordRune(first) {
		q = `\b` + q
	}
	if isWordRune(last) {
		q += `\b`
	}
	return q
}

// isWordRune mirrors RE2's ASCII-only \b definition.
func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}
