package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stratus/internal/tenant/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO tenants (id, name, slug, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.Status,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repository) GetTenant(ctx context.Context, tenantID snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).
		Where("id = ?", tenantID).
		First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) UpdateTenantStatus(ctx context.Context, tenantID snowflake.ID, status domain.TenantStatus) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE tenants SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status <> ?`,
		status,
		tenantID,
		status,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) AddMember(ctx context.Context, member domain.TenantMember) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO tenant_members (id, tenant_id, user_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, user_id) DO NOTHING`,
		member.ID,
		member.TenantID,
		member.UserID,
		member.Role,
		member.CreatedAt,
		member.UpdatedAt,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) UpdateMemberRole(ctx context.Context, tenantID, userID snowflake.ID, role domain.MemberRole) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE tenant_members
		 SET role = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE tenant_id = ? AND user_id = ?`,
		role,
		tenantID,
		userID,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) GetMemberRole(ctx context.Context, tenantID, userID snowflake.ID) (domain.MemberRole, bool, error) {
	var row struct {
		Role domain.MemberRole
	}
	result := r.db.WithContext(ctx).Raw(
		`SELECT role FROM tenant_members WHERE tenant_id = ? AND user_id = ? LIMIT 1`,
		tenantID,
		userID,
	).Scan(&row)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}
	return row.Role, true, nil
}

func (r *repository) CountOwners(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tenant_members WHERE tenant_id = ? AND role = ?`,
		tenantID,
		domain.RoleOwner,
	).Scan(&count).Error
	return count, err
}

func (r *repository) ListTenantsByUser(ctx context.Context, userID snowflake.ID) ([]domain.TenantListItem, error) {
	var items []domain.TenantListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT t.id, t.name, m.role, t.created_at
		 FROM tenants t
		 JOIN tenant_members m ON m.tenant_id = t.id
		 WHERE m.user_id = ?
		 ORDER BY t.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
