package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/plan"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type Repository struct {
	db *gorm.DB
}

func New(p Params) tenantdomain.Repository {
	return &Repository{db: p.DB}
}

func (r *Repository) FindByID(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var record tenantdomain.Tenant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenantdomain.ErrTenantNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) FindDepartment(ctx context.Context, id snowflake.ID) (*tenantdomain.Department, error) {
	var record tenantdomain.Department
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenantdomain.ErrDepartmentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) ResolvePlan(ctx context.Context, id snowflake.ID) (plan.Plan, plan.ExecutionMode, error) {
	record, err := r.FindByID(ctx, id)
	if err != nil {
		return plan.Plan{}, "", err
	}
	mode := record.ExecutionMode
	if mode == "" {
		mode = plan.ExecutionModeCloud
	}
	return plan.ForTier(record.PlanTier), mode, nil
}
