package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/flowgate/internal/allocation/domain"
	"github.com/smallbiznis/flowgate/internal/breaker"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	// over-allocation detail
	Dimension string `json:"dimension,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Remaining string `json:"remaining,omitempty"`

	// circuit-open detail
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware maps domain errors pushed via AbortWithError
// onto the wire.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.RetryAfterMS > 0 {
			c.Header("Retry-After", strconv.FormatInt((payload.RetryAfterMS+999)/1000, 10))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var overAlloc *allocationdomain.OverAllocationError
	if errors.As(err, &overAlloc) {
		return http.StatusConflict, errorPayload{
			Type:      "over_allocation",
			Message:   overAlloc.Error(),
			Dimension: string(overAlloc.Dimension),
			Requested: overAlloc.Requested,
			Remaining: overAlloc.Remaining.String(),
		}
	}

	var circuitOpen *breaker.CircuitOpenError
	if errors.As(err, &circuitOpen) {
		return http.StatusServiceUnavailable, errorPayload{
			Type:         "circuit_open",
			Message:      circuitOpen.Error(),
			RetryAfterMS: circuitOpen.RetryAfter.Milliseconds(),
		}
	}

	switch {
	case errors.Is(err, walletdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, payload("insufficient_credits", err)
	case errors.Is(err, tenantdomain.ErrForbidden):
		return http.StatusForbidden, payload("forbidden", err)
	case errors.Is(err, walletdomain.ErrWalletNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, tenantdomain.ErrDepartmentNotFound),
		errors.Is(err, allocationdomain.ErrAllocationMissing),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, payload("not_found", err)
	case errors.Is(err, allocationdomain.ErrAllocationLocked):
		return http.StatusConflict, payload("allocation_locked", err)
	case errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidType),
		errors.Is(err, walletdomain.ErrInvalidOwner),
		errors.Is(err, allocationdomain.ErrInvalidDimension),
		errors.Is(err, allocationdomain.ErrInvalidParent),
		errors.Is(err, allocationdomain.ErrInvalidOwner),
		errors.Is(err, allocationdomain.ErrInvalidLevel),
		errors.Is(err, allocationdomain.ErrInvalidValue),
		errors.Is(err, meterdomain.ErrInvalidTenant),
		errors.Is(err, tenantdomain.ErrInvalidTenant):
		return http.StatusBadRequest, payload("invalid_request", err)
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal error",
		}
	}
}

func payload(kind string, err error) errorPayload {
	return errorPayload{Type: kind, Message: err.Error()}
}
