// Package advisor answers a user's financial question end to end: scrub and
// tokenize the question, aggregate tier-permitted context, call the model
// with an anonymized prompt and translate tokens back in the answer.
//
// Each call owns a fresh tokenizer.Session that is reset before the call
// returns. Nothing but the aggregator's source cache is shared between
// concurrent calls.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/audit"
	"github.com/ethanteng/finsight-sub001/internal/classifier"
	"github.com/ethanteng/finsight-sub001/internal/llm"
	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/prompt"
	"github.com/ethanteng/finsight-sub001/internal/query"
	"github.com/ethanteng/finsight-sub001/internal/tier"
	"github.com/ethanteng/finsight-sub001/internal/tokenizer"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/advisor")

const (
	// DefaultTransactionWindow is how far back transactions are loaded.
	DefaultTransactionWindow = 90 * 24 * time.Hour
	// DefaultMaxTokens bounds the answer length.
	DefaultMaxTokens = 1024
	// DefaultTemperature keeps answers close to the supplied figures.
	DefaultTemperature = 0.2
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrMissingUser   = errors.New("user id is required")
)

// Answer is what AskQuestion returns to the caller.
type Answer struct {
	Answer             string                   `json:"answer"`
	SourceAttributions []aggregator.Attribution `json:"source_attributions"`
	OmittedSources     []tier.Omission          `json:"omitted_sources"`
	RequestID          string                   `json:"request_id"`
}

// Recorder persists one audit record per call.
type Recorder interface {
	Generate(ctx context.Context, p audit.Params) (*audit.Record, error)
}

// Advisor is safe for concurrent use.
type Advisor struct {
	accounts   accounts.Store
	aggregator *aggregator.Aggregator
	enhancer   *query.Enhancer
	assembler  *prompt.Assembler
	router     *llm.Router

	scanner     *classifier.Scanner
	recorder    Recorder
	retry       llm.RetryConfig
	window      time.Duration
	maxTxns     int
	maxTokens   int
	temperature float64
	now         func() time.Time
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithScanner scrubs PII from questions and history before prompting.
func WithScanner(s *classifier.Scanner) Option { return func(a *Advisor) { a.scanner = s } }

// WithRecorder writes an audit record for every call.
func WithRecorder(r Recorder) Option { return func(a *Advisor) { a.recorder = r } }

// WithRetry overrides the model retry policy.
func WithRetry(cfg llm.RetryConfig) Option { return func(a *Advisor) { a.retry = cfg } }

// WithTransactionWindow bounds how far back transactions are loaded.
func WithTransactionWindow(d time.Duration) Option {
	return func(a *Advisor) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithMaxTokens sets the model's answer budget.
func WithMaxTokens(n int) Option {
	return func(a *Advisor) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTemperature sets the model temperature.
func WithTemperature(t float64) Option { return func(a *Advisor) { a.temperature = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(a *Advisor) { a.now = now } }

// New creates an Advisor.
func New(store accounts.Store, agg *aggregator.Aggregator, enh *query.Enhancer, asm *prompt.Assembler, router *llm.Router, opts ...Option) *Advisor {
	a := &Advisor{
		accounts:    store,
		aggregator:  agg,
		enhancer:    enh,
		assembler:   asm,
		router:      router,
		retry:       llm.DefaultRetryConfig(),
		window:      DefaultTransactionWindow,
		maxTxns:     prompt.DefaultMaxTransactions,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		now:         time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// requestState collects what the audit record needs as the call proceeds.
type requestState struct {
	start    time.Time
	question audit.Question
	actx     *aggregator.Context
	counts   map[tokenizer.Kind]int
	provider string
	resp     *llm.Response
	cost     float64
	prompt   string
}

// AskQuestion answers question for userID at tier t. history is the prior
// conversation, oldest first. Provider outages degrade the context rather
// than failing; only a model failure (after one retry) or a prompt that
// would leak an identifier is returned as an error.
func (a *Advisor) AskQuestion(ctx context.Context, userID string, t tier.Tier, question string, history []prompt.Turn) (*Answer, error) {
	requestID := "req_" + uuid.NewString()[:8]
	ctx, span := tracer.Start(ctx, "advisor.ask_question",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			fsotel.UserTier.String(t.String()),
		))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", tier.ErrUnknownTier, int(t))
	}

	sess := tokenizer.NewSession()
	defer sess.Reset()

	st := &requestState{start: a.now(), question: audit.Question{Length: len(question)}}
	answer, err := a.answer(ctx, sess, st, userID, t, question, history)

	errText := ""
	if err != nil {
		errText = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, errText)
	}
	a.record(ctx, requestID, userID, t, sess, st, answer, errText)

	logger := log.With().
		Str("request_id", requestID).
		Str("session_id", sess.ID()).
		Str("tier", t.String()).
		Dur("duration", a.now().Sub(st.start)).
		Logger()
	if err != nil {
		logger.Warn().Func(fsotel.LogTraceFields(ctx)).Err(err).Msg("question_failed")
		if errors.Is(err, llm.ErrModelFailure) {
			// Provider detail stays in the log and audit trail.
			return nil, fmt.Errorf("request %s: %w", requestID, llm.ErrModelFailure)
		}
		return nil, err
	}
	logger.Info().Func(fsotel.LogTraceFields(ctx)).
		Int("sources", len(st.actx.SourceAttributions)).
		Int("omitted", len(st.actx.OmittedSources)).
		Msg("question_answered")

	return &Answer{
		Answer:             sess.ConvertToUserFriendly(answer),
		SourceAttributions: st.actx.SourceAttributions,
		OmittedSources:     st.actx.OmittedSources,
		RequestID:          requestID,
	}, nil
}

// answer runs the pipeline and returns the model's raw, still tokenized
// answer.
func (a *Advisor) answer(ctx context.Context, sess *tokenizer.Session, st *requestState, userID string, t tier.Tier, question string, history []prompt.Turn) (string, error) {
	question = a.scrub(ctx, question, &st.question)
	scrubbed := make([]prompt.Turn, 0, len(history))
	for _, h := range history {
		scrubbed = append(scrubbed, prompt.Turn{Role: h.Role, Content: a.scrub(ctx, h.Content, &st.question)})
	}

	flags := deriveFlags(question, a.enhancer)
	st.question.Enhanced = flags.Search && flags.SearchQuery != question

	accts, txns := a.loadAccounts(ctx, userID)
	st.actx = a.aggregator.BuildContext(ctx, t, accts, txns, flags)

	msgs, err := a.assembler.Assemble(ctx, sess, st.actx, scrubbed, question)
	st.counts = sess.Counts()
	if err != nil {
		return "", err
	}
	st.prompt = joinMessages(msgs)

	provider, model := a.router.Route(ctx, t)
	st.provider = provider.Name()
	resp, err := llm.WithRetry(provider, a.retry).Generate(ctx, &llm.Request{
		Model:       model,
		Messages:    msgs,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", err
	}
	st.resp = resp
	st.cost = provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	llm.RecordUsage(ctx, provider, resp)
	return resp.Content, nil
}

// scrub replaces free-text PII with placeholders, noting the entity types.
func (a *Advisor) scrub(ctx context.Context, text string, q *audit.Question) string {
	if a.scanner == nil || text == "" {
		return text
	}
	out, cls := a.scanner.RedactWithResult(ctx, text)
	if cls != nil && cls.HasPII {
		q.PIIRedacted = mergeTypes(q.PIIRedacted, cls.Types())
	}
	return out
}

// loadAccounts reads first-party data. A failing account store degrades to
// an empty financial context.
func (a *Advisor) loadAccounts(ctx context.Context, userID string) ([]accounts.Account, []accounts.Transaction) {
	accts, err := a.accounts.Accounts(ctx, userID)
	if err != nil {
		if !errors.Is(err, accounts.ErrUnknownUser) {
			log.Warn().Func(fsotel.LogTraceFields(ctx)).Err(err).Msg("accounts_unavailable")
		}
		return nil, nil
	}
	txns, err := a.accounts.Transactions(ctx, userID, a.now().Add(-a.window), a.maxTxns)
	if err != nil {
		log.Warn().Func(fsotel.LogTraceFields(ctx)).Err(err).Msg("transactions_unavailable")
		txns = nil
	}
	return accts, txns
}

func (a *Advisor) record(ctx context.Context, requestID, userID string, t tier.Tier, sess *tokenizer.Session, st *requestState, answer, errText string) {
	if a.recorder == nil {
		return
	}
	p := audit.Params{
		RequestID: requestID,
		UserID:    userID,
		Tier:      t.String(),
		SessionID: sess.ID(),
		Question:  st.question,
		Prompt:    st.prompt,
		Answer:    answer,
		Duration:  a.now().Sub(st.start),
		Error:     errText,
		Model:     audit.Model{Provider: st.provider},
	}
	if len(st.counts) > 0 {
		p.Tokens = make(map[string]int, len(st.counts))
		for k, n := range st.counts {
			p.Tokens[string(k)] = n
		}
	}
	if st.resp != nil {
		p.Model.Name = st.resp.Model
		p.Model.InputTokens = st.resp.InputTokens
		p.Model.OutputTokens = st.resp.OutputTokens
		p.Model.CostUSD = st.cost
	}
	if st.actx != nil {
		p.Sources = sourcesOf(st.actx)
	}
	// Audit failures never fail the question.
	if _, err := a.recorder.Generate(ctx, p); err != nil {
		log.Error().Func(fsotel.LogTraceFields(ctx)).Err(err).Str("request_id", requestID).Msg("audit_record_failed")
	}
}

func sourcesOf(actx *aggregator.Context) audit.Sources {
	var s audit.Sources
	for _, att := range actx.SourceAttributions {
		switch att.Status {
		case aggregator.StatusLive:
			s.Live = append(s.Live, att.SourceID)
		case aggregator.StatusCached:
			s.Cached = append(s.Cached, att.SourceID)
		case aggregator.StatusStale:
			s.Stale = append(s.Stale, att.SourceID)
		}
	}
	for _, o := range actx.OmittedSources {
		s.Omitted = append(s.Omitted, audit.Omission{SourceID: o.SourceID, Reason: o.Reason})
	}
	return s
}

func joinMessages(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func mergeTypes(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, h := range have {
		seen[h] = true
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			have = append(have, t)
		}
	}
	return have
}
