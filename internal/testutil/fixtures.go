package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
)

// Dec parses a decimal literal, panicking on bad input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SampleAccounts returns two accounts at two institutions.
func SampleAccounts() []accounts.Account {
	apr := Dec("24.99")
	return []accounts.Account{
		{ID: "acc-1", Name: "Everyday Checking", Institution: "Chase", Type: "checking", Balance: Dec("2450.17"), Currency: "USD"},
		{ID: "acc-2", Name: "Platinum Card", Institution: "American Express", Type: "credit", Balance: Dec("-812.40"), Currency: "USD", APR: &apr},
	}
}

// SampleTransactions returns transactions against SampleAccounts.
func SampleTransactions() []accounts.Transaction {
	return []accounts.Transaction{
		{ID: "tx-1", AccountID: "acc-1", Merchant: "Whole Foods", Category: "groceries", Amount: Dec("-84.12"), Date: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)},
		{ID: "tx-2", AccountID: "acc-2", Merchant: "Delta Air Lines", Category: "travel", Amount: Dec("-412.00"), Date: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
	}
}

// SampleStore returns a memory store holding the sample data for userID.
func SampleStore(userID string) *accounts.MemoryStore {
	s := accounts.NewMemoryStore()
	s.Put(userID, SampleAccounts(), SampleTransactions())
	return s
}
