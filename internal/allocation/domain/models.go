package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/plan"
)

var (
	ErrInvalidDimension  = errors.New("invalid_dimension")
	ErrInvalidParent     = errors.New("invalid_parent")
	ErrInvalidOwner      = errors.New("invalid_owner")
	ErrInvalidLevel      = errors.New("invalid_level")
	ErrInvalidValue      = errors.New("invalid_value")
	ErrAllocationLocked  = errors.New("allocation_locked")
	ErrAllocationMissing = errors.New("allocation_not_found")
)

// Level identifies which tier of the hierarchy an allocation row
// belongs to. Department allocations claim against the organization
// pool; member allocations claim against their department.
type Level string

const (
	LevelDepartment Level = "department"
	LevelMember     Level = "member"
)

// Allocation is a child tenant's claim against its parent's pool for
// one dimension. A nil Value means "inherit the parent's remaining
// capacity" and never counts toward the sibling sum.
type Allocation struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	ParentID  snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_allocations_owner_dim,priority:1"`
	OwnerID   snowflake.ID   `gorm:"not null;uniqueIndex:ux_allocations_owner_dim,priority:2"`
	Level     Level          `gorm:"type:text;not null"`
	Dimension plan.Dimension `gorm:"type:text;not null;uniqueIndex:ux_allocations_owner_dim,priority:3"`
	Value     *int64         `gorm:""`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Allocation) TableName() string { return "allocations" }

// OverAllocationError reports a requested allocation that exceeds the
// parent's remaining capacity.
type OverAllocationError struct {
	Dimension plan.Dimension
	Requested int64
	Remaining plan.Limit
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over_allocation: dimension=%s requested=%d remaining=%s",
		e.Dimension, e.Requested, e.Remaining)
}
