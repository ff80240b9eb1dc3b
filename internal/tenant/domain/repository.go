package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/plan"
)

// Repository reads tenant records and resolves their plans.
type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	FindDepartment(ctx context.Context, id snowflake.ID) (*Department, error)
	ResolvePlan(ctx context.Context, id snowflake.ID) (plan.Plan, plan.ExecutionMode, error)
}
