package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTenant(ctx context.Context, tenant Tenant) error
	GetTenant(ctx context.Context, tenantID snowflake.ID) (*Tenant, error)
	UpdateTenantStatus(ctx context.Context, tenantID snowflake.ID, status TenantStatus) (bool, error)
	AddMember(ctx context.Context, member TenantMember) (bool, error)
	UpdateMemberRole(ctx context.Context, tenantID, userID snowflake.ID, role MemberRole) (bool, error)
	GetMemberRole(ctx context.Context, tenantID, userID snowflake.ID) (MemberRole, bool, error)
	CountOwners(ctx context.Context, tenantID snowflake.ID) (int64, error)
	ListTenantsByUser(ctx context.Context, userID snowflake.ID) ([]TenantListItem, error)
}
