package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Entry is an append-only audit row. Writes are fire-and-forget:
// a failed audit write never fails the governing operation.
type Entry struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	TenantID     snowflake.ID      `gorm:"not null;index"`
	ActorID      snowflake.ID      `gorm:"index"`
	Action       string            `gorm:"type:text;not null;index"`
	ResourceType string            `gorm:"type:text;not null"`
	ResourceID   string            `gorm:"type:text"`
	Metadata     datatypes.JSONMap `gorm:"type:json"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "audit_entries" }

// Recorder records governance events.
type Recorder interface {
	Record(ctx context.Context, tenantID snowflake.ID, action, resourceType, resourceID string, metadata map[string]any)
}
