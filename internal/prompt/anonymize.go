package prompt

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethanteng/finsight-sub001/internal/accounts"
	"github.com/ethanteng/finsight-sub001/internal/tokenizer"
)

// AnonAccount is an account with its name and institution replaced by
// session tokens.
type AnonAccount struct {
	Token       string
	Institution string
	Type        string
	Balance     decimal.Decimal
	Currency    string
	APR         *decimal.Decimal
}

// AnonTransaction is a transaction with merchant and account replaced by
// session tokens.
type AnonTransaction struct {
	Date     time.Time
	Merchant string
	Account  string
	Category string
	Amount   decimal.Decimal
	Pending  bool
}

// AnonymizeAccounts tokenizes account and institution names. Accounts key off
// (name, institution) so same-named accounts at two banks stay distinct.
func AnonymizeAccounts(sess *tokenizer.Session, accts []accounts.Account) []AnonAccount {
	out := make([]AnonAccount, 0, len(accts))
	for _, a := range accts {
		out = append(out, AnonAccount{
			Token:       sess.Tokenize(tokenizer.Account, a.Name, a.Institution),
			Institution: sess.Tokenize(tokenizer.Institution, a.Institution),
			Type:        a.Type,
			Balance:     a.Balance,
			Currency:    a.Currency,
			APR:         a.APR,
		})
	}
	return out
}

// AnonymizeTransactions tokenizes merchants and resolves each transaction's
// account to the token AnonymizeAccounts minted for it. Transactions whose
// account is unknown keep an empty Account.
func AnonymizeTransactions(sess *tokenizer.Session, txns []accounts.Transaction, accts []accounts.Account) []AnonTransaction {
	byID := accounts.Index(accts)
	out := make([]AnonTransaction, 0, len(txns))
	for _, t := range txns {
		var acct string
		if a, ok := byID[t.AccountID]; ok {
			acct = sess.Tokenize(tokenizer.Account, a.Name, a.Institution)
		}
		out = append(out, AnonTransaction{
			Date:     t.Date,
			Merchant: sess.Tokenize(tokenizer.Merchant, t.Merchant),
			Account:  acct,
			Category: t.Category,
			Amount:   t.Amount,
			Pending:  t.Pending,
		})
	}
	return out
}
