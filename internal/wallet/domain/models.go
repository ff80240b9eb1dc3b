package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidOwner        = errors.New("invalid_owner")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
)

// OwnerType scopes a wallet to a personal user or an organization.
// The owner reference is mutually exclusive: one wallet per owner.
type OwnerType string

const (
	OwnerTypeUser         OwnerType = "user"
	OwnerTypeOrganization OwnerType = "organization"
)

// Wallet is an owner-scoped ledger of spendable credits. Balance is
// whole credits and never goes negative; PendingCredits carries the
// fractional remainder in [0,1) until enough accumulates to deduct a
// whole credit.
type Wallet struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	OwnerType         OwnerType       `gorm:"type:text;not null;uniqueIndex:ux_wallets_owner,priority:1"`
	OwnerID           snowflake.ID    `gorm:"not null;uniqueIndex:ux_wallets_owner,priority:2"`
	Balance           int64           `gorm:"not null;default:0"`
	Lifetime          int64           `gorm:"not null;default:0"`
	PendingCredits    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	MonthlyAllocation int64           `gorm:"not null;default:0"`
	MonthlyUsed       int64           `gorm:"not null;default:0"`
	AllocationResetAt *time.Time      `gorm:""`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// TransactionType tags a ledger movement.
type TransactionType string

const (
	TransactionTypeGrant      TransactionType = "grant"
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAllocation TransactionType = "allocation"
	TransactionTypeUsage      TransactionType = "usage"
)

// CreditTypes are the transaction types accepted by AddCredits.
var CreditTypes = map[TransactionType]bool{
	TransactionTypeGrant:      true,
	TransactionTypePurchase:   true,
	TransactionTypeBonus:      true,
	TransactionTypeRefund:     true,
	TransactionTypeAllocation: true,
}

// Details is the closed per-type payload of a transaction. Exactly the
// fields relevant to the transaction's type are set; this replaces the
// open key/value metadata bag so consumers get typed coverage.
type Details struct {
	// usage via fractional accumulation
	FractionalApplied decimal.NullDecimal `gorm:"type:decimal(20,8)"`
	PendingAfter      decimal.NullDecimal `gorm:"type:decimal(20,8)"`
	// purchase
	PaymentRef string `gorm:"type:text"`
	// grant
	PlanTier string `gorm:"type:text"`
}

// Transaction is an immutable, append-only ledger record. Replaying a
// wallet's transactions in creation order from zero reproduces its
// balance.
type Transaction struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	WalletID     snowflake.ID    `gorm:"not null;index"`
	Type         TransactionType `gorm:"type:text;not null;index"`
	Amount       int64           `gorm:"not null"`
	BalanceAfter int64           `gorm:"not null"`
	Description  string          `gorm:"type:text"`
	Details      Details         `gorm:"embedded;embeddedPrefix:detail_"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }
