package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

var tracer = fsotel.Tracer("github.com/ethanteng/finsight-sub001/internal/accounts")

// SQLiteStore persists accounts and transactions in SQLite. Amounts are
// stored as decimal strings so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the account database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening accounts database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		institution TEXT NOT NULL,
		type TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		apr TEXT
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		merchant TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		pending INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating accounts schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Replace swaps a user's stored data in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, userID string, accts []Account, txns []Transaction) error {
	ctx, span := tracer.Start(ctx, "accounts.replace",
		trace.WithAttributes(
			attribute.Int("accounts.count", len(accts)),
			attribute.Int("transactions.count", len(txns)),
		))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning accounts transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing accounts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing transactions: %w", err)
	}

	for _, a := range accts {
		var apr interface{}
		if a.APR != nil {
			apr = a.APR.String()
		}
		currency := a.Currency
		if currency == "" {
			currency = "USD"
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, user_id, name, institution, type, subtype, balance, currency, apr)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, userID, a.Name, a.Institution, a.Type, a.Subtype, a.Balance.String(), currency, apr)
		if err != nil {
			return fmt.Errorf("inserting account %s: %w", a.ID, err)
		}
	}
	for _, t := range txns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, user_id, account_id, merchant, category, amount, date, pending)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, userID, t.AccountID, t.Merchant, t.Category, t.Amount.String(), t.Date.UTC(), t.Pending)
		if err != nil {
			return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// Accounts implements Store.
func (s *SQLiteStore) Accounts(ctx context.Context, userID string) ([]Account, error) {
	ctx, span := tracer.Start(ctx, "accounts.list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, institution, type, subtype, balance, currency, apr
		 FROM accounts WHERE user_id = ? ORDER BY institution, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var balance string
		var apr sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.Institution, &a.Type, &a.Subtype, &balance, &a.Currency, &apr); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("account %s balance: %w", a.ID, err)
		}
		if apr.Valid {
			v, err := decimal.NewFromString(apr.String)
			if err != nil {
				return nil, fmt.Errorf("account %s apr: %w", a.ID, err)
			}
			a.APR = &v
		}
		a.UserID = userID
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", userID, ErrUnknownUser)
	}
	span.SetAttributes(attribute.Int("accounts.count", len(out)))
	return out, nil
}

// Transactions implements Store.
func (s *SQLiteStore) Transactions(ctx context.Context, userID string, since time.Time, limit int) ([]Transaction, error) {
	ctx, span := tracer.Start(ctx, "accounts.transactions")
	defer span.End()

	query := `SELECT id, account_id, merchant, category, amount, date, pending
	          FROM transactions WHERE user_id = ?`
	args := []interface{}{userID}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY date DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Merchant, &t.Category, &amount, &t.Date, &t.Pending); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	span.SetAttributes(attribute.Int("transactions.count", len(out)))
	return out, nil
}
