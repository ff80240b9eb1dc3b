package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/flowgate/internal/audit/domain"
	"github.com/smallbiznis/flowgate/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) auditdomain.Recorder {
	return &Recorder{
		db:    p.DB,
		log:   p.Log.Named("audit.recorder"),
		genID: p.GenID,
	}
}

// Record writes the entry, logging a warning on failure. Callers never
// see audit errors.
func (r *Recorder) Record(ctx context.Context, tenantID snowflake.ID, action, resourceType, resourceID string, metadata map[string]any) {
	entry := auditdomain.Entry{
		ID:           r.genID.Generate(),
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if actorID, ok := tenantctx.TenantIDFromContext(ctx); ok {
		entry.ActorID = actorID
	}
	if metadata != nil {
		entry.Metadata = datatypes.JSONMap(metadata)
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.log.Warn("failed to write audit entry",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.Error(err),
		)
	}
}
