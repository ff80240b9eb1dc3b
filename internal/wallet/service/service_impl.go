package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/flowgate/internal/audit/domain"
	obsmetrics "github.com/smallbiznis/flowgate/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
	"github.com/smallbiznis/flowgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Tenants    tenantdomain.Repository
	Audit      auditdomain.Recorder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	tenants    tenantdomain.Repository
	audit      auditdomain.Recorder
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		tenants:    p.Tenants,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

// GetOrCreate returns the owner's wallet, lazily seeding it from the
// owner's plan. Creation and the initial grant transaction commit as
// one unit; a concurrent create loses the insert race and re-reads.
func (s *Service) GetOrCreate(ctx context.Context, owner walletdomain.OwnerRef) (*walletdomain.Wallet, error) {
	if owner.Type != walletdomain.OwnerTypeUser && owner.Type != walletdomain.OwnerTypeOrganization {
		return nil, walletdomain.ErrInvalidOwner
	}
	ownerID, err := parseID(owner.ID, walletdomain.ErrInvalidOwner)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByOwner(ctx, owner.Type, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ownerPlan, _, err := s.tenants.ResolvePlan(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := walletdomain.Wallet{
		ID:                s.genID.Generate(),
		OwnerType:         owner.Type,
		OwnerID:           ownerID,
		Balance:           ownerPlan.InitialCredits,
		Lifetime:          ownerPlan.InitialCredits,
		PendingCredits:    decimal.Zero,
		MonthlyAllocation: ownerPlan.InitialCredits,
		MonthlyUsed:       0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		grant := walletdomain.Transaction{
			ID:           s.genID.Generate(),
			WalletID:     record.ID,
			Type:         walletdomain.TransactionTypeGrant,
			Amount:       ownerPlan.InitialCredits,
			BalanceAfter: record.Balance,
			Description:  "plan credit grant",
			Details: walletdomain.Details{
				PlanTier: string(ownerPlan.Tier),
			},
			CreatedAt: now,
		}
		return tx.Create(&grant).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.findByOwner(ctx, owner.Type, ownerID)
		}
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, ownerID, "wallet.created", "wallet", record.ID.String(), map[string]any{
			"plan_tier":       string(ownerPlan.Tier),
			"initial_credits": ownerPlan.InitialCredits,
		})
	}

	return &record, nil
}

func (s *Service) Get(ctx context.Context, walletID string) (*walletdomain.Wallet, error) {
	id, err := parseID(walletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return nil, err
	}
	var record walletdomain.Wallet
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, walletdomain.ErrWalletNotFound
		}
		return nil, err
	}
	return &record, nil
}

// CheckCredits is read-only; the authoritative check runs again inside
// DeductCredits under the row lock.
func (s *Service) CheckCredits(ctx context.Context, walletID string, required int64) (*walletdomain.CheckResult, error) {
	if required < 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	record, err := s.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return &walletdomain.CheckResult{
		HasCredits: record.Balance >= required,
		Remaining:  record.Balance,
	}, nil
}

// DeductCredits decrements the balance, bumps monthly usage, and
// appends the usage transaction in one transaction. The balance check
// happens under the row lock, so two concurrent deductions cannot
// both pass it.
func (s *Service) DeductCredits(ctx context.Context, walletID string, amount int64, description string) (*walletdomain.DeductResult, error) {
	if amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	id, err := parseID(walletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return nil, err
	}

	var result walletdomain.DeductResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := lockWallet(tx, id)
		if err != nil {
			return err
		}
		if record.Balance < amount {
			return walletdomain.ErrInsufficientCredits
		}

		now := time.Now().UTC()
		record.Balance -= amount
		record.MonthlyUsed += amount
		if err := tx.Model(&walletdomain.Wallet{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"balance":      record.Balance,
				"monthly_used": record.MonthlyUsed,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		usage := walletdomain.Transaction{
			ID:           s.genID.Generate(),
			WalletID:     record.ID,
			Type:         walletdomain.TransactionTypeUsage,
			Amount:       -amount,
			BalanceAfter: record.Balance,
			Description:  description,
			CreatedAt:    now,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return err
		}

		result = walletdomain.DeductResult{
			NewBalance:    record.Balance,
			TransactionID: usage.ID.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordWalletDeduction(string(walletdomain.TransactionTypeUsage))
	if s.audit != nil {
		s.audit.Record(ctx, id, "wallet.deducted", "wallet", walletID, map[string]any{
			"amount":      amount,
			"new_balance": result.NewBalance,
		})
	}
	return &result, nil
}

// AccumulateAndDeduct adds a fractional cost to the pending remainder
// and deducts whole credits only once enough has accumulated. Unit
// costs priced in fractions of a credit would otherwise overcharge
// (round up per call) or leak (round down per call); carrying the
// remainder forward resolves the error exactly once per whole credit.
func (s *Service) AccumulateAndDeduct(ctx context.Context, walletID string, fractional decimal.Decimal, description string) (*walletdomain.AccumulateResult, error) {
	if fractional.IsNegative() {
		return nil, walletdomain.ErrInvalidAmount
	}
	id, err := parseID(walletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return nil, err
	}

	var result walletdomain.AccumulateResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := lockWallet(tx, id)
		if err != nil {
			return err
		}

		pending := record.PendingCredits.Add(fractional)
		whole := pending.Floor().IntPart()
		now := time.Now().UTC()

		if whole <= 0 {
			if err := tx.Model(&walletdomain.Wallet{}).
				Where("id = ?", record.ID).
				Updates(map[string]any{
					"pending_credits": pending,
					"updated_at":      now,
				}).Error; err != nil {
				return err
			}
			result = walletdomain.AccumulateResult{
				CreditsDeducted:   0,
				NewBalance:        record.Balance,
				NewPendingCredits: pending,
			}
			return nil
		}

		if record.Balance < whole {
			return walletdomain.ErrInsufficientCredits
		}

		remainder := pending.Sub(decimal.NewFromInt(whole))
		record.Balance -= whole
		record.MonthlyUsed += whole
		if err := tx.Model(&walletdomain.Wallet{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"balance":         record.Balance,
				"monthly_used":    record.MonthlyUsed,
				"pending_credits": remainder,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		usage := walletdomain.Transaction{
			ID:           s.genID.Generate(),
			WalletID:     record.ID,
			Type:         walletdomain.TransactionTypeUsage,
			Amount:       -whole,
			BalanceAfter: record.Balance,
			Description:  description,
			Details: walletdomain.Details{
				FractionalApplied: decimal.NullDecimal{Decimal: fractional, Valid: true},
				PendingAfter:      decimal.NullDecimal{Decimal: remainder, Valid: true},
			},
			CreatedAt: now,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return err
		}

		result = walletdomain.AccumulateResult{
			CreditsDeducted:   whole,
			NewBalance:        record.Balance,
			NewPendingCredits: remainder,
			TransactionID:     usage.ID.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.CreditsDeducted > 0 {
		s.obsMetrics.RecordWalletDeduction(string(walletdomain.TransactionTypeUsage))
	}
	return &result, nil
}

// AddCredits increments the balance; lifetime moves only for
// purchases.
func (s *Service) AddCredits(ctx context.Context, walletID string, amount int64, txType walletdomain.TransactionType, description string) (*walletdomain.Wallet, error) {
	if amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	if !walletdomain.CreditTypes[txType] {
		return nil, walletdomain.ErrInvalidType
	}
	id, err := parseID(walletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return nil, err
	}

	var updated *walletdomain.Wallet
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := lockWallet(tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		record.Balance += amount
		updates := map[string]any{
			"balance":    record.Balance,
			"updated_at": now,
		}
		if txType == walletdomain.TransactionTypePurchase {
			record.Lifetime += amount
			updates["lifetime"] = record.Lifetime
		}
		if err := tx.Model(&walletdomain.Wallet{}).
			Where("id = ?", record.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		credit := walletdomain.Transaction{
			ID:           s.genID.Generate(),
			WalletID:     record.ID,
			Type:         txType,
			Amount:       amount,
			BalanceAfter: record.Balance,
			Description:  description,
			CreatedAt:    now,
		}
		if err := tx.Create(&credit).Error; err != nil {
			return err
		}

		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, id, "wallet.credited", "wallet", walletID, map[string]any{
			"amount": amount,
			"type":   string(txType),
		})
	}
	return updated, nil
}

func (s *Service) GetTransactions(ctx context.Context, req walletdomain.ListTransactionsRequest) (walletdomain.ListTransactionsResponse, error) {
	id, err := parseID(req.WalletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return walletdomain.ListTransactionsResponse{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&walletdomain.Transaction{}).Where("wallet_id = ?", id)
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return walletdomain.ListTransactionsResponse{}, err
	}

	var items []walletdomain.Transaction
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return walletdomain.ListTransactionsResponse{}, err
	}

	return walletdomain.ListTransactionsResponse{
		Transactions: items,
		Total:        total,
	}, nil
}

// ResetMonthlyUsage is invoked by the external scheduler at each
// tenant's billing-period boundary.
func (s *Service) ResetMonthlyUsage(ctx context.Context, walletID string) error {
	id, err := parseID(walletID, walletdomain.ErrWalletNotFound)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&walletdomain.Wallet{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"monthly_used":        0,
			"allocation_reset_at": now,
			"updated_at":          now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return walletdomain.ErrWalletNotFound
	}
	return nil
}

func (s *Service) findByOwner(ctx context.Context, ownerType walletdomain.OwnerType, ownerID snowflake.ID) (*walletdomain.Wallet, error) {
	var record walletdomain.Wallet
	err := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// lockWallet reads the wallet row under FOR UPDATE where the dialect
// supports it. SQLite serializes on its single writer instead.
func lockWallet(tx *gorm.DB, id snowflake.ID) (*walletdomain.Wallet, error) {
	query := tx
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record walletdomain.Wallet
	if err := query.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, walletdomain.ErrWalletNotFound
		}
		return nil, err
	}
	return &record, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
