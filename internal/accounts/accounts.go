// Package accounts models the first-party financial data of a user (linked
// accounts and their transactions) and the stores that serve it. Records
// here carry real names; they must pass through the tokenizer before any of
// it reaches a prompt.
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownUser is returned when a store has no data for a user.
var ErrUnknownUser = errors.New("unknown user")

// Account is one linked account.
type Account struct {
	ID          string          `json:"id" yaml:"id"`
	UserID      string          `json:"user_id" yaml:"-"`
	Name        string          `json:"name" yaml:"name"`
	Institution string          `json:"institution" yaml:"institution"`
	Type        string          `json:"type" yaml:"type"`
	Subtype     string          `json:"subtype,omitempty" yaml:"subtype"`
	Balance     decimal.Decimal `json:"balance" yaml:"balance"`
	Currency    string          `json:"currency" yaml:"currency"`
	// APR is the interest rate in percent, when the institution reports one.
	APR *decimal.Decimal `json:"apr,omitempty" yaml:"apr"`
}

// Transaction is one posted or pending transaction.
type Transaction struct {
	ID        string          `json:"id" yaml:"id"`
	AccountID string          `json:"account_id" yaml:"account_id"`
	Merchant  string          `json:"merchant" yaml:"merchant"`
	Category  string          `json:"category,omitempty" yaml:"category"`
	Amount    decimal.Decimal `json:"amount" yaml:"amount"`
	Date      time.Time       `json:"date" yaml:"date"`
	Pending   bool            `json:"pending,omitempty" yaml:"pending"`
}

// Store serves a user's accounts and recent transactions.
type Store interface {
	Accounts(ctx context.Context, userID string) ([]Account, error)
	// Transactions returns the newest transactions first, at most limit
	// (all when limit <= 0), dated on or after since (all when zero).
	Transactions(ctx context.Context, userID string, since time.Time, limit int) ([]Transaction, error)
}

// Index maps account id to account, for resolving a transaction's account.
func Index(accts []Account) map[string]Account {
	out := make(map[string]Account, len(accts))
	for _, a := range accts {
		out[a.ID] = a
	}
	return out
}

// NetWorth sums balances, subtracting credit and loan accounts.
func NetWorth(accts []Account) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accts {
		if IsLiability(a.Type) {
			total = total.Sub(a.Balance.Abs())
			continue
		}
		total = total.Add(a.Balance)
	}
	return total
}

// IsLiability reports whether an account type represents debt.
func IsLiability(accountType string) bool {
	switch accountType {
	case "credit", "loan", "mortgage":
		return true
	}
	return false
}
