package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/tenant/domain"
	"github.com/smallbiznis/stratus/internal/tenant/event"
	"github.com/smallbiznis/stratus/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Bus      *event.Bus
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	bus      *event.Bus
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("tenant.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		bus:      p.Bus,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateTenantRequest) (*domain.TenantResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	tenantID := s.genID.Generate()
	tenant := domain.Tenant{
		ID:        tenantID,
		Name:      name,
		Slug:      slug.Make(name),
		Status:    domain.TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateTenant(ctx, tenant); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateSlug
			}
			return err
		}

		member := domain.TenantMember{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		inserted, err := repo.AddMember(ctx, member)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateMember
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tenantIDStr := tenantID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, "", nil, "tenant.created", "tenant", &tenantIDStr, map[string]any{
		"name": name,
		"slug": tenant.Slug,
	}); err != nil {
		s.log.Warn("failed to write tenant audit log", zap.Error(err))
	}

	return &domain.TenantResponse{
		ID:     tenantIDStr,
		Name:   name,
		Slug:   tenant.Slug,
		Status: string(tenant.Status),
	}, nil
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*domain.Tenant, error) {
	if tenantID == 0 {
		return nil, domain.ErrTenantNotFound
	}
	return s.repo.GetTenant(ctx, tenantID)
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.TenantListItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListTenantsByUser(ctx, userID)
}

func (s *Service) AddMember(ctx context.Context, tenantID, userID snowflake.ID, role domain.MemberRole) error {
	if tenantID == 0 {
		return domain.ErrTenantNotFound
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}

	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Status != domain.TenantStatusActive {
		return domain.ErrTenantSuspended
	}

	now := time.Now().UTC()
	inserted, err := s.repo.AddMember(ctx, domain.TenantMember{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return domain.ErrDuplicateMember
	}

	userIDStr := userID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, "", nil, "tenant.member_added", "tenant_member", &userIDStr, map[string]any{
		"role": string(role),
	}); err != nil {
		s.log.Warn("failed to write member audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) SetMemberRole(ctx context.Context, tenantID, userID snowflake.ID, role domain.MemberRole) error {
	if tenantID == 0 {
		return domain.ErrTenantNotFound
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, found, err := repo.GetMemberRole(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrMemberNotFound
		}
		if current == role {
			return nil
		}
		if current == domain.RoleOwner && role != domain.RoleOwner {
			owners, err := repo.CountOwners(ctx, tenantID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwnerDemoted
			}
		}
		updated, err := repo.UpdateMemberRole(ctx, tenantID, userID, role)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrMemberNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.PublishMemberRoleChanged(event.MemberRoleChanged{
		TenantID: tenantID,
		UserID:   userID,
		Role:     string(role),
	})

	userIDStr := userID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, "", nil, "tenant.member_role_changed", "tenant_member", &userIDStr, map[string]any{
		"role": string(role),
	}); err != nil {
		s.log.Warn("failed to write member audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) MemberRole(ctx context.Context, tenantID, userID snowflake.ID) (domain.MemberRole, error) {
	role, found, err := s.repo.GetMemberRole(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrMemberNotFound
	}
	return role, nil
}

func (s *Service) Suspend(ctx context.Context, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return domain.ErrTenantNotFound
	}
	updated, err := s.repo.UpdateTenantStatus(ctx, tenantID, domain.TenantStatusSuspended)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	tenantIDStr := tenantID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, "", nil, "tenant.suspended", "tenant", &tenantIDStr, nil); err != nil {
		s.log.Warn("failed to write tenant audit log", zap.Error(err))
	}
	return nil
}
