package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/plan"
)

// TotalAllocated sums the concrete sibling claims for one dimension,
// skipping inherit-remaining (nil) rows and the allocation being
// updated.
func TotalAllocated(siblings []Allocation, excludeID snowflake.ID) int64 {
	var total int64
	for _, sibling := range siblings {
		if sibling.ID == excludeID || sibling.Value == nil {
			continue
		}
		total += *sibling.Value
	}
	return total
}

// ValidateAllocation checks a proposed claim against the parent pool.
// A nil requested value inherits remaining capacity and is always
// valid, as is any non-negative value under an unlimited parent.
// Negative claims are rejected outright: a persisted negative value
// would offset the sibling sum and let another claim exceed the pool.
// Pure: callers are responsible for persisting within the same locked
// transaction.
func ValidateAllocation(
	dimension plan.Dimension,
	requested *int64,
	parentLimit plan.Limit,
	siblings []Allocation,
	excludeID snowflake.ID,
) error {
	if !dimension.Valid() {
		return ErrInvalidDimension
	}
	if requested == nil {
		return nil
	}
	if *requested < 0 {
		return ErrInvalidValue
	}
	if parentLimit.IsUnlimited() {
		return nil
	}

	allocated := TotalAllocated(siblings, excludeID)
	if !parentLimit.Allows(allocated, *requested) {
		return &OverAllocationError{
			Dimension: dimension,
			Requested: *requested,
			Remaining: parentLimit.Remaining(allocated),
		}
	}
	return nil
}

// ComputeRemaining returns the capacity left under limit after
// allocated units are claimed.
func ComputeRemaining(limit plan.Limit, allocated int64) plan.Limit {
	return limit.Remaining(allocated)
}
