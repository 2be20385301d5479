// Package audit keeps an HMAC-signed trail of every question answered.
//
// A Record describes what happened without saying what was asked: the
// prompt and answer are stored as hashes, identifiers only as per-kind token
// counts. Records live in SQLite, one row per request, with the signed JSON
// body alongside a few indexed columns for listing.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/audit")

var (
	ErrNotFound = errors.New("audit record not found")
	ErrWeakKey  = errors.New("signing key too short")
)

// Record is the audit entry for one AskQuestion call.
type Record struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id"`
	Tier       string         `json:"tier"`
	SessionID  string         `json:"session_id"`
	Question   Question       `json:"question"`
	Sources    Sources        `json:"sources"`
	Tokens     map[string]int `json:"tokens,omitempty"`
	Model      Model          `json:"model"`
	Hashes     Hashes         `json:"hashes"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Signature  string         `json:"signature"`
}

// Question records what was scrubbed from the free text.
type Question struct {
	Length      int      `json:"length"`
	PIIRedacted []string `json:"pii_redacted,omitempty"`
	Enhanced    bool     `json:"enhanced,omitempty"`
}

// Sources lists which external sources fed the answer.
type Sources struct {
	Live    []string   `json:"live,omitempty"`
	Cached  []string   `json:"cached,omitempty"`
	Stale   []string   `json:"stale,omitempty"`
	Omitted []Omission `json:"omitted,omitempty"`
}

// Omission is a source left out of the context and why.
type Omission struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// Model captures the model call.
type Model struct {
	Provider     string  `json:"provider,omitempty"`
	Name         string  `json:"name,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Hashes are content digests of the anonymized prompt and the model's raw
// (still tokenized) answer.
type Hashes struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID string
	From   time.Time
	To     time.Time
	Limit  int
}

// Store persists signed records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens (creating if needed) the audit database at dbPath.
func NewStore(dbPath, signingKey string) (*Store, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		user_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_records(request_id);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Store{db: db, signer: signer}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store signs rec and inserts it. rec.Signature is set on success.
func (s *Store) Store(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "audit.store",
		trace.WithAttributes(
			attribute.String("audit.id", rec.ID),
			attribute.String("request.id", rec.RequestID),
		))
	defer span.End()

	rec.Signature = ""
	unsigned, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	rec.Signature = s.signer.Sign(unsigned)
	signed, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, request_id, timestamp, user_id, tier, record_json, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Timestamp, rec.UserID, rec.Tier, string(signed), rec.Signature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("storing audit record: %w", err)
	}
	return nil
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "audit.get", trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM audit_records WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling audit record: %w", err)
	}
	return &rec, nil
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list")
	defer span.End()

	query := `SELECT record_json FROM audit_records WHERE 1=1`
	var args []interface{}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.To)
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	span.SetAttributes(attribute.Int("audit.count", len(out)))
	return out, rows.Err()
}

// Verify recomputes the signature of record id.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "audit.verify", trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	sig := rec.Signature
	rec.Signature = ""
	body, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	valid := s.signer.Verify(body, sig)
	span.SetAttributes(attribute.Bool("audit.valid", valid))
	return valid, nil
}
