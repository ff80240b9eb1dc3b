package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/flowgate/internal/plan"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// tenantStub serves a fixed plan for every owner.
type tenantStub struct {
	plan plan.Plan
}

func (s *tenantStub) FindByID(_ context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return &tenantdomain.Tenant{ID: id, Kind: tenantdomain.TenantKindUser, PlanTier: s.plan.Tier}, nil
}

func (s *tenantStub) FindDepartment(_ context.Context, id snowflake.ID) (*tenantdomain.Department, error) {
	return &tenantdomain.Department{ID: id}, nil
}

func (s *tenantStub) ResolvePlan(_ context.Context, _ snowflake.ID) (plan.Plan, plan.ExecutionMode, error) {
	return s.plan, plan.ExecutionModeCloud, nil
}

func prepareWalletSchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	schema := []string{
		`CREATE TABLE wallets (
			id BIGINT PRIMARY KEY,
			owner_type TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			lifetime BIGINT NOT NULL DEFAULT 0,
			pending_credits DECIMAL(20,8) NOT NULL DEFAULT 0,
			monthly_allocation BIGINT NOT NULL DEFAULT 0,
			monthly_used BIGINT NOT NULL DEFAULT 0,
			allocation_reset_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_wallets_owner ON wallets(owner_type, owner_id)`,
		`CREATE TABLE credit_transactions (
			id BIGINT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			description TEXT,
			detail_fractional_applied DECIMAL(20,8),
			detail_pending_after DECIMAL(20,8),
			detail_payment_ref TEXT,
			detail_plan_tier TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX ix_credit_transactions_wallet ON credit_transactions(wallet_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
}

func setupWalletService(t *testing.T, initialCredits int64) (walletdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error
	prepareWalletSchema(t, db)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Tenants: &tenantStub{plan: plan.Plan{
			Tier:           plan.TierFree,
			InitialCredits: initialCredits,
		}},
	})
	return svc, db
}

func mustWallet(t *testing.T, svc walletdomain.Service, node *snowflake.Node) *walletdomain.Wallet {
	t.Helper()
	record, err := svc.GetOrCreate(context.Background(), walletdomain.OwnerRef{
		Type: walletdomain.OwnerTypeUser,
		ID:   node.Generate().String(),
	})
	if err != nil {
		t.Fatalf("get or create wallet: %v", err)
	}
	return record
}

func TestGetOrCreateSeedsFromPlan(t *testing.T) {
	node := mustNode(t)
	svc, db := setupWalletService(t, 100)

	ctx := context.Background()
	owner := walletdomain.OwnerRef{Type: walletdomain.OwnerTypeUser, ID: node.Generate().String()}

	record, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if record.Balance != 100 || record.Lifetime != 100 {
		t.Fatalf("expected seeded balance=lifetime=100, got balance=%d lifetime=%d", record.Balance, record.Lifetime)
	}
	if !record.PendingCredits.IsZero() {
		t.Fatalf("expected zero pending credits, got %s", record.PendingCredits)
	}

	again, err := svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != record.ID {
		t.Fatalf("expected idempotent wallet, got %s then %s", record.ID, again.ID)
	}

	var grants []walletdomain.Transaction
	if err := db.Where("wallet_id = ? AND type = ?", record.ID, walletdomain.TransactionTypeGrant).
		Find(&grants).Error; err != nil {
		t.Fatalf("load grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant transaction, got %d", len(grants))
	}
	if grants[0].Amount != 100 || grants[0].BalanceAfter != 100 {
		t.Fatalf("grant amount=%d balance_after=%d, want 100/100", grants[0].Amount, grants[0].BalanceAfter)
	}
	if grants[0].Details.PlanTier != string(plan.TierFree) {
		t.Fatalf("expected plan tier detail %q, got %q", plan.TierFree, grants[0].Details.PlanTier)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	node := mustNode(t)
	svc, db := setupWalletService(t, 100)

	ctx := context.Background()
	owner := walletdomain.OwnerRef{Type: walletdomain.OwnerTypeUser, ID: node.Generate().String()}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetOrCreate(ctx, owner); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get or create: %v", err)
	}

	var wallets int64
	if err := db.Model(&walletdomain.Wallet{}).Count(&wallets).Error; err != nil {
		t.Fatalf("count wallets: %v", err)
	}
	if wallets != 1 {
		t.Fatalf("expected a single wallet row, got %d", wallets)
	}

	var grants int64
	if err := db.Model(&walletdomain.Transaction{}).
		Where("type = ?", walletdomain.TransactionTypeGrant).
		Count(&grants).Error; err != nil {
		t.Fatalf("count grants: %v", err)
	}
	if grants != 1 {
		t.Fatalf("expected a single grant transaction, got %d", grants)
	}
}

func TestDeductCredits(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()

	result, err := svc.DeductCredits(ctx, record.ID.String(), 30, "workflow run")
	if err != nil {
		t.Fatalf("deduct 30 of 100: %v", err)
	}
	if result.NewBalance != 70 {
		t.Fatalf("expected balance 70, got %d", result.NewBalance)
	}

	if _, err := svc.DeductCredits(ctx, record.ID.String(), 71, "too much"); !errors.Is(err, walletdomain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if _, err := svc.DeductCredits(ctx, record.ID.String(), 0, "zero"); !errors.Is(err, walletdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := svc.DeductCredits(ctx, node.Generate().String(), 1, "ghost"); !errors.Is(err, walletdomain.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	// A failed deduction must not have moved the balance.
	check, err := svc.CheckCredits(ctx, record.ID.String(), 70)
	if err != nil {
		t.Fatalf("check credits: %v", err)
	}
	if !check.HasCredits || check.Remaining != 70 {
		t.Fatalf("expected remaining=70, got has=%v remaining=%d", check.HasCredits, check.Remaining)
	}
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()

	const attempts = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DeductCredits(ctx, record.ID.String(), 10, "concurrent")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, walletdomain.ErrInsufficientCredits) {
				t.Errorf("unexpected deduction error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 of %d deductions of 10 from 100, got %d", attempts, succeeded)
	}
	final, err := svc.Get(ctx, record.ID.String())
	if err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if final.Balance != 0 {
		t.Fatalf("expected drained balance 0, got %d", final.Balance)
	}
	if final.MonthlyUsed != 100 {
		t.Fatalf("expected monthly_used 100, got %d", final.MonthlyUsed)
	}
}

func TestAccumulateAndDeductFractional(t *testing.T) {
	node := mustNode(t)
	svc, db := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()
	step := decimal.RequireFromString("0.3")

	// Three steps of 0.3 stay below one whole credit.
	for i := 1; i <= 3; i++ {
		result, err := svc.AccumulateAndDeduct(ctx, record.ID.String(), step, "ai tokens")
		if err != nil {
			t.Fatalf("accumulate step %d: %v", i, err)
		}
		if result.CreditsDeducted != 0 {
			t.Fatalf("step %d deducted %d credits before crossing 1.0", i, result.CreditsDeducted)
		}
		if result.NewBalance != 100 {
			t.Fatalf("step %d moved balance to %d", i, result.NewBalance)
		}
	}

	// The fourth crosses 1.2: one whole credit out, 0.2 carried.
	result, err := svc.AccumulateAndDeduct(ctx, record.ID.String(), step, "ai tokens")
	if err != nil {
		t.Fatalf("accumulate step 4: %v", err)
	}
	if result.CreditsDeducted != 1 {
		t.Fatalf("expected 1 credit deducted, got %d", result.CreditsDeducted)
	}
	if result.NewBalance != 99 {
		t.Fatalf("expected balance 99, got %d", result.NewBalance)
	}
	if !result.NewPendingCredits.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("expected pending 0.2, got %s", result.NewPendingCredits)
	}

	var usages []walletdomain.Transaction
	if err := db.Where("wallet_id = ? AND type = ?", record.ID, walletdomain.TransactionTypeUsage).
		Find(&usages).Error; err != nil {
		t.Fatalf("load usage transactions: %v", err)
	}
	// Only the crossing step writes a ledger record.
	if len(usages) != 1 {
		t.Fatalf("expected one usage transaction, got %d", len(usages))
	}
	if usages[0].Amount != -1 || usages[0].BalanceAfter != 99 {
		t.Fatalf("usage amount=%d balance_after=%d, want -1/99", usages[0].Amount, usages[0].BalanceAfter)
	}
	if !usages[0].Details.FractionalApplied.Valid || !usages[0].Details.FractionalApplied.Decimal.Equal(step) {
		t.Fatalf("expected fractional detail 0.3, got %+v", usages[0].Details.FractionalApplied)
	}
	if !usages[0].Details.PendingAfter.Valid || !usages[0].Details.PendingAfter.Decimal.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("expected pending detail 0.2, got %+v", usages[0].Details.PendingAfter)
	}
}

func TestAccumulateInsufficientRollsBack(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 0)
	record := mustWallet(t, svc, node)

	ctx := context.Background()

	_, err := svc.AccumulateAndDeduct(ctx, record.ID.String(), decimal.RequireFromString("1.5"), "ai tokens")
	if !errors.Is(err, walletdomain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	reloaded, err := svc.Get(ctx, record.ID.String())
	if err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if !reloaded.PendingCredits.IsZero() {
		t.Fatalf("failed accumulation must not persist pending, got %s", reloaded.PendingCredits)
	}

	if _, err := svc.AccumulateAndDeduct(ctx, record.ID.String(), decimal.RequireFromString("-0.1"), "negative"); !errors.Is(err, walletdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative fractional, got %v", err)
	}
}

func TestAddCreditsLifetimeOnlyOnPurchase(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()

	updated, err := svc.AddCredits(ctx, record.ID.String(), 50, walletdomain.TransactionTypePurchase, "credit pack")
	if err != nil {
		t.Fatalf("purchase credits: %v", err)
	}
	if updated.Balance != 150 || updated.Lifetime != 150 {
		t.Fatalf("purchase: balance=%d lifetime=%d, want 150/150", updated.Balance, updated.Lifetime)
	}

	updated, err = svc.AddCredits(ctx, record.ID.String(), 25, walletdomain.TransactionTypeBonus, "referral bonus")
	if err != nil {
		t.Fatalf("bonus credits: %v", err)
	}
	if updated.Balance != 175 {
		t.Fatalf("bonus: balance=%d, want 175", updated.Balance)
	}
	if updated.Lifetime != 150 {
		t.Fatalf("bonus must not move lifetime, got %d", updated.Lifetime)
	}

	if _, err := svc.AddCredits(ctx, record.ID.String(), 10, walletdomain.TransactionTypeUsage, "nope"); !errors.Is(err, walletdomain.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType for usage via AddCredits, got %v", err)
	}
}

func TestLedgerReplayReproducesBalance(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()
	id := record.ID.String()

	if _, err := svc.DeductCredits(ctx, id, 40, "run"); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if _, err := svc.AddCredits(ctx, id, 30, walletdomain.TransactionTypePurchase, "top up"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AccumulateAndDeduct(ctx, id, decimal.RequireFromString("2.4"), "ai tokens"); err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	page, err := svc.GetTransactions(ctx, walletdomain.ListTransactionsRequest{WalletID: id})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("expected 4 ledger records, got %d", page.Total)
	}

	var replayed int64
	for _, item := range page.Transactions {
		replayed += item.Amount
	}
	final, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if replayed != final.Balance {
		t.Fatalf("replayed sum %d != balance %d", replayed, final.Balance)
	}

	filtered, err := svc.GetTransactions(ctx, walletdomain.ListTransactionsRequest{
		WalletID: id,
		Type:     walletdomain.TransactionTypeUsage,
	})
	if err != nil {
		t.Fatalf("list usage transactions: %v", err)
	}
	if filtered.Total != 2 {
		t.Fatalf("expected 2 usage records, got %d", filtered.Total)
	}

	limited, err := svc.GetTransactions(ctx, walletdomain.ListTransactionsRequest{WalletID: id, Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited.Transactions) != 2 || limited.Total != 4 {
		t.Fatalf("expected page of 2 with total 4, got %d/%d", len(limited.Transactions), limited.Total)
	}
}

func TestResetMonthlyUsage(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupWalletService(t, 100)
	record := mustWallet(t, svc, node)

	ctx := context.Background()

	if _, err := svc.DeductCredits(ctx, record.ID.String(), 20, "run"); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := svc.ResetMonthlyUsage(ctx, record.ID.String()); err != nil {
		t.Fatalf("reset monthly usage: %v", err)
	}

	reloaded, err := svc.Get(ctx, record.ID.String())
	if err != nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if reloaded.MonthlyUsed != 0 {
		t.Fatalf("expected monthly_used reset to 0, got %d", reloaded.MonthlyUsed)
	}
	if reloaded.AllocationResetAt == nil {
		t.Fatal("expected allocation_reset_at to be stamped")
	}
	if reloaded.Balance != 80 {
		t.Fatalf("reset must not touch balance, got %d", reloaded.Balance)
	}

	if err := svc.ResetMonthlyUsage(ctx, node.Generate().String()); !errors.Is(err, walletdomain.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}
