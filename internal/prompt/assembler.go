// Package prompt turns an aggregated context into the chat messages sent to
// the model. Every user-derived string passes through the request's
// tokenizer session, and the finished prompt is checked for any real value
// the session knows before it is returned.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/llm"
	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/tokenizer"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/prompt")

const (
	// DefaultHistoryTurns is how many prior turns are replayed.
	DefaultHistoryTurns = 10
	// DefaultMaxTransactions caps the transactions listed in the prompt.
	DefaultMaxTransactions = 50
)

// ErrIdentifierLeak is returned if a real identifier survives anonymization.
var ErrIdentifierLeak = errors.New("real identifier in prompt")

// SystemInstruction frames every conversation.
const SystemInstruction = `You are a careful personal finance assistant. Answer the user's question using the financial context provided.

Accounts, institutions and merchants appear as placeholders such as Account_1, Institution_2 or Merchant_3. Refer to them by exactly these placeholders; never guess what they stand for.

Cite the source of any market or economic figure you use. If a data source is listed as not included, say the figure is unavailable rather than inventing one. This is general information, not personalized investment, tax or legal advice.`

// UnavailableNote is added when no context at all could be built.
const UnavailableNote = "Note: data sources were unavailable for this question. Answer from general knowledge and tell the user that live data could not be retrieved."

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler builds prompts. It holds no per-request state.
type Assembler struct {
	historyTurns    int
	maxTransactions int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithHistoryTurns bounds replayed history; 0 drops history entirely.
func WithHistoryTurns(n int) Option {
	return func(a *Assembler) {
		if n >= 0 {
			a.historyTurns = n
		}
	}
}

// WithMaxTransactions caps listed transactions.
func WithMaxTransactions(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTransactions = n
		}
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{historyTurns: DefaultHistoryTurns, maxTransactions: DefaultMaxTransactions}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble renders the messages for one question: the fixed instruction, the
// anonymized context, the last N history turns and the question itself.
func (a *Assembler) Assemble(ctx context.Context, sess *tokenizer.Session, actx *aggregator.Context, history []Turn, question string) ([]llm.Message, error) {
	_, span := tracer.Start(ctx, "prompt.assemble")
	defer span.End()

	// Mint every token before rendering so free text below is anonymized
	// against the complete mapping.
	accts := AnonymizeAccounts(sess, actx.Accounts)
	txns := actx.Transactions
	if len(txns) > a.maxTransactions {
		txns = txns[:a.maxTransactions]
	}
	anonTxns := AnonymizeTransactions(sess, txns, actx.Accounts)

	var b strings.Builder
	writeAccounts(&b, accts)
	writeTransactions(&b, anonTxns)
	writeEconomic(&b, actx)
	writeMarket(&b, actx)
	writeSearch(&b, sess, actx)
	writeOmitted(&b, actx)
	if actx.Empty() {
		b.WriteString(UnavailableNote)
		b.WriteString("\n")
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemInstruction},
		{Role: llm.RoleSystem, Content: strings.TrimSpace(b.String())},
	}
	for _, t := range a.recent(history) {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: sess.Anonymize(t.Content)})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: sess.Anonymize(question)})

	// The instruction is static; everything after it is checked.
	replaced := 0
	for i := 1; i < len(msgs); i++ {
		if leaks := sess.Leaks(msgs[i].Content); len(leaks) > 0 {
			replaced += len(leaks)
			msgs[i].Content = sess.Anonymize(msgs[i].Content)
			if len(sess.Leaks(msgs[i].Content)) > 0 {
				err := fmt.Errorf("message %d: %w", i, ErrIdentifierLeak)
				span.RecordError(err)
				return nil, err
			}
		}
	}
	if replaced > 0 {
		log.Warn().Int("replaced", replaced).Str("session_id", sess.ID()).Msg("prompt_leak_scrubbed")
	}

	span.SetAttributes(
		attribute.Int("prompt.messages", len(msgs)),
		attribute.Int("prompt.tokens_minted", sess.Len()),
	)
	return msgs, nil
}

// recent returns the last historyTurns user/assistant turns.
func (a *Assembler) recent(history []Turn) []Turn {
	var kept []Turn
	for _, t := range history {
		if (t.Role == llm.RoleUser || t.Role == llm.RoleAssistant) && strings.TrimSpace(t.Content) != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) > a.historyTurns {
		kept = kept[len(kept)-a.historyTurns:]
	}
	return kept
}
