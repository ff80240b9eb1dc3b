package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowgate/internal/plan"
)

var (
	ErrTenantNotFound     = errors.New("tenant_not_found")
	ErrDepartmentNotFound = errors.New("department_not_found")
	ErrInvalidTenant      = errors.New("invalid_tenant")

	// ErrForbidden marks an attempt to reach another tenant's resources.
	ErrForbidden = errors.New("forbidden")
)

// TenantKind distinguishes personal and organization tenants.
type TenantKind string

const (
	TenantKindUser         TenantKind = "user"
	TenantKindOrganization TenantKind = "organization"
)

// Tenant is a billing boundary: a personal user or an organization.
type Tenant struct {
	ID            snowflake.ID       `gorm:"primaryKey"`
	Kind          TenantKind         `gorm:"type:text;not null;index"`
	Name          string             `gorm:"type:text;not null"`
	PlanTier      plan.Tier          `gorm:"type:text;not null"`
	ExecutionMode plan.ExecutionMode `gorm:"type:text;not null;default:cloud"`
	CreatedAt     time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Department is an organization subdivision holding allocations.
type Department struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Department) TableName() string { return "departments" }

// MemberRole is a member's role within a department.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
)

// Member links a user into a department with a role.
type Member struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	DepartmentID snowflake.ID `gorm:"not null;index"`
	UserID       snowflake.ID `gorm:"not null;index"`
	Role         MemberRole   `gorm:"type:text;not null;default:viewer"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }
