package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateTenantRequest struct {
	Name string `json:"name" binding:"required"`
}

type TenantResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

type TenantListItem struct {
	ID        snowflake.ID `json:"id"`
	Name      string       `json:"name"`
	Role      string       `json:"role"`
	CreatedAt time.Time    `json:"created_at"`
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateTenantRequest) (*TenantResponse, error)
	Get(ctx context.Context, tenantID snowflake.ID) (*Tenant, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]TenantListItem, error)
	AddMember(ctx context.Context, tenantID, userID snowflake.ID, role MemberRole) error
	SetMemberRole(ctx context.Context, tenantID, userID snowflake.ID, role MemberRole) error
	MemberRole(ctx context.Context, tenantID, userID snowflake.ID) (MemberRole, error)
	Suspend(ctx context.Context, tenantID snowflake.ID) error
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidRole      = errors.New("invalid_role")
	ErrTenantNotFound   = errors.New("tenant_not_found")
	ErrMemberNotFound   = errors.New("member_not_found")
	ErrDuplicateMember  = errors.New("duplicate_member")
	ErrDuplicateSlug    = errors.New("duplicate_slug")
	ErrTenantSuspended  = errors.New("tenant_suspended")
	ErrLastOwnerDemoted = errors.New("last_owner_demoted")
)
