package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/flowgate/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/flowgate/internal/audit/domain"
	"github.com/smallbiznis/flowgate/internal/config"
	"github.com/smallbiznis/flowgate/internal/lock"
	"github.com/smallbiznis/flowgate/internal/plan"
	tenantdomain "github.com/smallbiznis/flowgate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const keyAllocationLock = "alloc:lock:%s:%s"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Tenants tenantdomain.Repository
	Locker  lock.Locker
	Audit   auditdomain.Recorder `optional:"true"`
	Config  config.Config
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	tenants tenantdomain.Repository
	locker  lock.Locker
	audit   auditdomain.Recorder
	lockTTL time.Duration
}

func New(p Params) allocationdomain.Service {
	ttl := time.Duration(p.Config.AllocationLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("allocation.service"),
		genID:   p.GenID,
		tenants: p.Tenants,
		locker:  p.Locker,
		audit:   p.Audit,
		lockTTL: ttl,
	}
}

func (s *Service) SetAllocation(ctx context.Context, req allocationdomain.SetAllocationRequest) (*allocationdomain.Allocation, error) {
	if !req.Dimension.Valid() {
		return nil, allocationdomain.ErrInvalidDimension
	}

	orgID, err := parseID(req.OrgID, allocationdomain.ErrInvalidParent)
	if err != nil {
		return nil, err
	}

	var parentID, ownerID snowflake.ID
	var parentLimit plan.Limit

	switch req.Level {
	case allocationdomain.LevelDepartment:
		departmentID, err := parseID(req.DepartmentID, allocationdomain.ErrInvalidOwner)
		if err != nil {
			return nil, err
		}
		if _, err := s.tenants.FindDepartment(ctx, departmentID); err != nil {
			return nil, err
		}
		orgPlan, _, err := s.tenants.ResolvePlan(ctx, orgID)
		if err != nil {
			return nil, err
		}
		parentID, ownerID = orgID, departmentID
		parentLimit = orgPlan.PoolLimit(req.Dimension)

	case allocationdomain.LevelMember:
		departmentID, err := parseID(req.DepartmentID, allocationdomain.ErrInvalidParent)
		if err != nil {
			return nil, err
		}
		memberID, err := parseID(req.MemberID, allocationdomain.ErrInvalidOwner)
		if err != nil {
			return nil, err
		}
		limit, err := s.ResolveEffectiveLimit(ctx, allocationdomain.EffectiveLimitRequest{
			OrgID:        req.OrgID,
			DepartmentID: req.DepartmentID,
			Dimension:    req.Dimension,
		})
		if err != nil {
			return nil, err
		}
		parentID, ownerID = departmentID, memberID
		parentLimit = limit

	default:
		return nil, allocationdomain.ErrInvalidLevel
	}

	// Two concurrent sibling writes must not validate against the same
	// stale total. One lock per (parent, dimension) serializes them;
	// the re-read below happens inside the held lock and transaction.
	lockKey := fmt.Sprintf(keyAllocationLock, parentID.String(), req.Dimension)
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, allocationdomain.ErrAllocationLocked
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("failed to release allocation lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	var result *allocationdomain.Allocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var siblings []allocationdomain.Allocation
		if err := tx.
			Where("parent_id = ? AND dimension = ?", parentID, req.Dimension).
			Find(&siblings).Error; err != nil {
			return err
		}

		var existing *allocationdomain.Allocation
		for i := range siblings {
			if siblings[i].OwnerID == ownerID {
				existing = &siblings[i]
				break
			}
		}

		var excludeID snowflake.ID
		if existing != nil {
			excludeID = existing.ID
		}
		if err := allocationdomain.ValidateAllocation(req.Dimension, req.Value, parentLimit, siblings, excludeID); err != nil {
			return err
		}

		now := time.Now().UTC()
		if existing != nil {
			existing.Value = req.Value
			existing.UpdatedAt = now
			if err := tx.Model(&allocationdomain.Allocation{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{"value": req.Value, "updated_at": now}).Error; err != nil {
				return err
			}
			result = existing
			return nil
		}

		record := allocationdomain.Allocation{
			ID:        s.genID.Generate(),
			ParentID:  parentID,
			OwnerID:   ownerID,
			Level:     req.Level,
			Dimension: req.Dimension,
			Value:     req.Value,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		result = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		metadata := map[string]any{
			"dimension": string(req.Dimension),
			"level":     string(req.Level),
			"owner_id":  ownerID.String(),
		}
		if req.Value != nil {
			metadata["value"] = *req.Value
		}
		s.audit.Record(ctx, orgID, "allocation.set", "allocation", result.ID.String(), metadata)
	}

	return result, nil
}

func (s *Service) ListAllocations(ctx context.Context, parentID string, dimension plan.Dimension) ([]allocationdomain.Allocation, error) {
	parent, err := parseID(parentID, allocationdomain.ErrInvalidParent)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("parent_id = ?", parent)
	if dimension != "" {
		if !dimension.Valid() {
			return nil, allocationdomain.ErrInvalidDimension
		}
		query = query.Where("dimension = ?", dimension)
	}

	var items []allocationdomain.Allocation
	if err := query.Order("dimension, owner_id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) GetRemaining(ctx context.Context, req allocationdomain.EffectiveLimitRequest) (*allocationdomain.RemainingResponse, error) {
	if !req.Dimension.Valid() {
		return nil, allocationdomain.ErrInvalidDimension
	}

	// The parent whose pool is being inspected: the department when one
	// is named, the organization otherwise.
	var parentID snowflake.ID
	var limit plan.Limit

	if strings.TrimSpace(req.DepartmentID) != "" {
		departmentID, err := parseID(req.DepartmentID, allocationdomain.ErrInvalidParent)
		if err != nil {
			return nil, err
		}
		effective, err := s.ResolveEffectiveLimit(ctx, allocationdomain.EffectiveLimitRequest{
			OrgID:        req.OrgID,
			DepartmentID: req.DepartmentID,
			Dimension:    req.Dimension,
		})
		if err != nil {
			return nil, err
		}
		parentID, limit = departmentID, effective
	} else {
		orgID, err := parseID(req.OrgID, allocationdomain.ErrInvalidParent)
		if err != nil {
			return nil, err
		}
		orgPlan, _, err := s.tenants.ResolvePlan(ctx, orgID)
		if err != nil {
			return nil, err
		}
		parentID, limit = orgID, orgPlan.PoolLimit(req.Dimension)
	}

	allocated, err := s.sumAllocated(ctx, s.db, parentID, req.Dimension)
	if err != nil {
		return nil, err
	}

	return &allocationdomain.RemainingResponse{
		Dimension: req.Dimension,
		Limit:     limit,
		Allocated: allocated,
		Remaining: allocationdomain.ComputeRemaining(limit, allocated),
	}, nil
}

// ResolveEffectiveLimit walks the hierarchy top-down. A level with a
// concrete allocation is capped by it; a nil allocation inherits the
// parent's remaining capacity. Never cached: pools and sibling claims
// can change between calls.
func (s *Service) ResolveEffectiveLimit(ctx context.Context, req allocationdomain.EffectiveLimitRequest) (plan.Limit, error) {
	if !req.Dimension.Valid() {
		return plan.Limit{}, allocationdomain.ErrInvalidDimension
	}

	orgID, err := parseID(req.OrgID, allocationdomain.ErrInvalidParent)
	if err != nil {
		return plan.Limit{}, err
	}
	orgPlan, _, err := s.tenants.ResolvePlan(ctx, orgID)
	if err != nil {
		return plan.Limit{}, err
	}
	limit := orgPlan.PoolLimit(req.Dimension)

	if strings.TrimSpace(req.DepartmentID) == "" {
		return limit, nil
	}
	departmentID, err := parseID(req.DepartmentID, allocationdomain.ErrInvalidParent)
	if err != nil {
		return plan.Limit{}, err
	}
	limit, err = s.effectiveChildLimit(ctx, orgID, departmentID, req.Dimension, limit)
	if err != nil {
		return plan.Limit{}, err
	}

	if strings.TrimSpace(req.MemberID) == "" {
		return limit, nil
	}
	memberID, err := parseID(req.MemberID, allocationdomain.ErrInvalidOwner)
	if err != nil {
		return plan.Limit{}, err
	}
	return s.effectiveChildLimit(ctx, departmentID, memberID, req.Dimension, limit)
}

// effectiveChildLimit resolves one step: the child's concrete claim if
// set, otherwise the parent's remaining capacity after all concrete
// sibling claims.
func (s *Service) effectiveChildLimit(ctx context.Context, parentID, childID snowflake.ID, dimension plan.Dimension, parentLimit plan.Limit) (plan.Limit, error) {
	var siblings []allocationdomain.Allocation
	if err := s.db.WithContext(ctx).
		Where("parent_id = ? AND dimension = ?", parentID, dimension).
		Find(&siblings).Error; err != nil {
		return plan.Limit{}, err
	}

	for _, sibling := range siblings {
		if sibling.OwnerID == childID {
			if sibling.Value != nil {
				return plan.Capped(*sibling.Value), nil
			}
			break
		}
	}
	return parentLimit.Remaining(allocationdomain.TotalAllocated(siblings, 0)), nil
}

func (s *Service) sumAllocated(ctx context.Context, db *gorm.DB, parentID snowflake.ID, dimension plan.Dimension) (int64, error) {
	var siblings []allocationdomain.Allocation
	if err := db.WithContext(ctx).
		Where("parent_id = ? AND dimension = ?", parentID, dimension).
		Find(&siblings).Error; err != nil {
		return 0, err
	}
	return allocationdomain.TotalAllocated(siblings, 0), nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
