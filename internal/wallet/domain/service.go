package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OwnerRef identifies the tenant a wallet belongs to.
type OwnerRef struct {
	Type OwnerType
	ID   string
}

// CheckResult reports whether a spend would succeed, without mutating.
type CheckResult struct {
	HasCredits bool  `json:"has_credits"`
	Remaining  int64 `json:"remaining"`
}

// DeductResult reports a completed whole-credit deduction.
type DeductResult struct {
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
}

// AccumulateResult reports a fractional accumulation. TransactionID is
// empty when no whole credit crossed the boundary.
type AccumulateResult struct {
	CreditsDeducted   int64           `json:"credits_deducted"`
	NewBalance        int64           `json:"new_balance"`
	NewPendingCredits decimal.Decimal `json:"new_pending_credits"`
	TransactionID     string          `json:"transaction_id,omitempty"`
}

// ListTransactionsRequest pages a wallet's history, newest first.
type ListTransactionsRequest struct {
	WalletID string
	Limit    int
	Offset   int
	Type     TransactionType
}

// ListTransactionsResponse carries one page plus the total count.
type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
}

// Service owns all wallet mutations. No caller writes balances
// directly.
type Service interface {
	GetOrCreate(ctx context.Context, owner OwnerRef) (*Wallet, error)
	Get(ctx context.Context, walletID string) (*Wallet, error)
	CheckCredits(ctx context.Context, walletID string, required int64) (*CheckResult, error)
	DeductCredits(ctx context.Context, walletID string, amount int64, description string) (*DeductResult, error)
	AccumulateAndDeduct(ctx context.Context, walletID string, fractional decimal.Decimal, description string) (*AccumulateResult, error)
	AddCredits(ctx context.Context, walletID string, amount int64, txType TransactionType, description string) (*Wallet, error)
	GetTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	ResetMonthlyUsage(ctx context.Context, walletID string) error
}
