package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/flowgate/internal/allocation/domain"
	"github.com/smallbiznis/flowgate/internal/breaker"
	"github.com/smallbiznis/flowgate/internal/clock"
	"github.com/smallbiznis/flowgate/internal/config"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
	"github.com/smallbiznis/flowgate/internal/plan"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type walletStub struct {
	wallet    *walletdomain.Wallet
	deductErr error
	getErr    error
}

func (s *walletStub) GetOrCreate(context.Context, walletdomain.OwnerRef) (*walletdomain.Wallet, error) {
	return s.wallet, nil
}

func (s *walletStub) Get(context.Context, string) (*walletdomain.Wallet, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.wallet, nil
}

func (s *walletStub) CheckCredits(context.Context, string, int64) (*walletdomain.CheckResult, error) {
	return &walletdomain.CheckResult{HasCredits: true, Remaining: 10}, nil
}

func (s *walletStub) DeductCredits(_ context.Context, _ string, amount int64, _ string) (*walletdomain.DeductResult, error) {
	if s.deductErr != nil {
		return nil, s.deductErr
	}
	return &walletdomain.DeductResult{NewBalance: 10 - amount}, nil
}

func (s *walletStub) AccumulateAndDeduct(context.Context, string, decimal.Decimal, string) (*walletdomain.AccumulateResult, error) {
	return &walletdomain.AccumulateResult{NewPendingCredits: decimal.Zero}, nil
}

func (s *walletStub) AddCredits(context.Context, string, int64, walletdomain.TransactionType, string) (*walletdomain.Wallet, error) {
	return s.wallet, nil
}

func (s *walletStub) GetTransactions(context.Context, walletdomain.ListTransactionsRequest) (walletdomain.ListTransactionsResponse, error) {
	return walletdomain.ListTransactionsResponse{}, nil
}

func (s *walletStub) ResetMonthlyUsage(context.Context, string) error { return nil }

type allocStub struct {
	setErr error
}

func (s *allocStub) SetAllocation(context.Context, allocationdomain.SetAllocationRequest) (*allocationdomain.Allocation, error) {
	if s.setErr != nil {
		return nil, s.setErr
	}
	return &allocationdomain.Allocation{}, nil
}

func (s *allocStub) ListAllocations(context.Context, string, plan.Dimension) ([]allocationdomain.Allocation, error) {
	return nil, nil
}

func (s *allocStub) GetRemaining(context.Context, allocationdomain.EffectiveLimitRequest) (*allocationdomain.RemainingResponse, error) {
	return &allocationdomain.RemainingResponse{}, nil
}

func (s *allocStub) ResolveEffectiveLimit(context.Context, allocationdomain.EffectiveLimitRequest) (plan.Limit, error) {
	return plan.Unlimited(), nil
}

type meterStub struct {
	track *meterdomain.TrackResult
}

func (s *meterStub) TrackExecution(context.Context, string) (*meterdomain.TrackResult, error) {
	return s.track, nil
}

func (s *meterStub) GetExecutionCount(context.Context, string) (*meterdomain.CountResult, error) {
	return &meterdomain.CountResult{}, nil
}

func (s *meterStub) CanExecute(context.Context, string) (*meterdomain.CanExecuteResult, error) {
	return &meterdomain.CanExecuteResult{Allowed: true}, nil
}

func setupTestServer(t *testing.T, wallets *walletStub, allocs *allocStub, meters *meterStub) (*gin.Engine, *breaker.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := breaker.NewRegistry(breaker.Options{}, clock.NewFakeClock(time.Now()), zap.NewNop(), nil)
	engine := NewEngine()
	srv := NewServer(Params{
		Engine:     engine,
		Config:     config.Config{HTTPAddr: ":0"},
		Log:        zap.NewNop(),
		WalletSvc:  wallets,
		AllocSvc:   allocs,
		MeterSvc:   meters,
		BreakerReg: registry,
	})
	RegisterRoutes(srv)
	return engine, registry
}

func decodeError(t *testing.T, body []byte) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error
}

func TestHealthz(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{}, &allocStub{}, &meterStub{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetAllocationOverCapacityConflict(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{}, &allocStub{setErr: &allocationdomain.OverAllocationError{
		Dimension: plan.DimensionGateways,
		Requested: 3,
		Remaining: plan.Capped(2),
	}}, &meterStub{})

	body := strings.NewReader(`{"org_id":"1","department_id":"2","level":"department","dimension":"gateways","value":3}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/allocations", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec.Body.Bytes())
	assert.Equal(t, "over_allocation", payload.Type)
	assert.Equal(t, "gateways", payload.Dimension)
	assert.Equal(t, int64(3), payload.Requested)
	assert.Equal(t, "2", payload.Remaining)
}

func TestDeductInsufficientCreditsPaymentRequired(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{deductErr: walletdomain.ErrInsufficientCredits}, &allocStub{}, &meterStub{})

	body := strings.NewReader(`{"amount":5,"description":"run"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets/123/deduct", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_credits", decodeError(t, rec.Body.Bytes()).Type)
}

func TestGetWalletNotFound(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{getErr: walletdomain.ErrWalletNotFound}, &allocStub{}, &meterStub{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/wallets/123", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec.Body.Bytes()).Type)
}

func TestCrossTenantWalletAccessForbidden(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{getErr: tenantdomain.ErrForbidden}, &allocStub{}, &meterStub{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/wallets/123", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec.Body.Bytes()).Type)
}

func TestCircuitOpenMapsToServiceUnavailable(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{getErr: &breaker.CircuitOpenError{
		Name:       "billing-db",
		RetryAfter: 12 * time.Second,
	}}, &allocStub{}, &meterStub{})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/wallets/123", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	payload := decodeError(t, rec.Body.Bytes())
	assert.Equal(t, "circuit_open", payload.Type)
	assert.Equal(t, int64(12000), payload.RetryAfterMS)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
}

func TestTrackExecutionBlockedIsTooManyRequests(t *testing.T) {
	engine, _ := setupTestServer(t, &walletStub{}, &allocStub{}, &meterStub{track: &meterdomain.TrackResult{
		Success: false,
		Level:   meterdomain.WarningLevelBlocked,
	}})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/meter/track/123", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var result meterdomain.TrackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, meterdomain.WarningLevelBlocked, result.Level)
}

func TestBreakerEndpoints(t *testing.T) {
	engine, registry := setupTestServer(t, &walletStub{}, &allocStub{}, &meterStub{})
	registry.GetOrCreate("payments")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/breakers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payments"`)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breakers/payments/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breakers/ghost/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
