package domain

import (
	"context"

	"github.com/smallbiznis/flowgate/internal/plan"
)

// SetAllocationRequest proposes a claim for one dimension. A nil Value
// switches the owner to inherit-remaining.
type SetAllocationRequest struct {
	OrgID        string
	DepartmentID string
	MemberID     string
	Level        Level
	Dimension    plan.Dimension
	Value        *int64
}

// EffectiveLimitRequest resolves the limit actually governing a level.
type EffectiveLimitRequest struct {
	OrgID        string
	DepartmentID string
	MemberID     string
	Dimension    plan.Dimension
}

// RemainingResponse reports pool usage for one parent and dimension.
type RemainingResponse struct {
	Dimension plan.Dimension `json:"dimension"`
	Limit     plan.Limit     `json:"limit"`
	Allocated int64          `json:"allocated"`
	Remaining plan.Limit     `json:"remaining"`
}

// Service validates and persists allocations.
type Service interface {
	SetAllocation(ctx context.Context, req SetAllocationRequest) (*Allocation, error)
	ListAllocations(ctx context.Context, parentID string, dimension plan.Dimension) ([]Allocation, error)
	GetRemaining(ctx context.Context, req EffectiveLimitRequest) (*RemainingResponse, error)
	ResolveEffectiveLimit(ctx context.Context, req EffectiveLimitRequest) (plan.Limit, error)
}
