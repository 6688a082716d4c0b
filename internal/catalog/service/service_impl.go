package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/catalog/domain"
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
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidPlan
	}
	interval, err := normalizeInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	if req.BasePrice < 0 {
		return nil, domain.ErrInvalidPrice
	}

	now := time.Now().UTC()
	plan := domain.Plan{
		ID:        s.genID.Generate(),
		Key:       slug.Make(name),
		Name:      name,
		BasePrice: req.BasePrice,
		Currency:  normalizeCurrency(req.Currency),
		Interval:  interval,
		IsActive:  true,
		IsCustom:  req.IsCustom,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.InsertPlan(ctx, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicatePlan
		}
		return nil, err
	}

	planIDStr := plan.ID.String()
	if err := s.auditSvc.AuditLog(ctx, nil, "", nil, "catalog.plan_created", "plan", &planIDStr, map[string]any{
		"key": plan.Key,
	}); err != nil {
		s.log.Warn("failed to write catalog audit log", zap.Error(err))
	}
	return &plan, nil
}

func (s *Service) GetPlan(ctx context.Context, planID snowflake.ID) (*domain.Plan, error) {
	if planID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	return s.repo.GetPlan(ctx, planID)
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

func (s *Service) DeactivatePlan(ctx context.Context, planID snowflake.ID) error {
	if planID == 0 {
		return domain.ErrPlanNotFound
	}
	updated, err := s.repo.SetPlanActive(ctx, planID, false)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}
	planIDStr := planID.String()
	if err := s.auditSvc.AuditLog(ctx, nil, "", nil, "catalog.plan_deactivated", "plan", &planIDStr, nil); err != nil {
		s.log.Warn("failed to write catalog audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) CreateFeature(ctx context.Context, key, name, description string) (*domain.Feature, error) {
	key = strings.TrimSpace(key)
	name = strings.TrimSpace(name)
	if key == "" || name == "" {
		return nil, domain.ErrInvalidFeature
	}

	feature := domain.Feature{
		ID:        s.genID.Generate(),
		Key:       slug.Make(key),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if desc := strings.TrimSpace(description); desc != "" {
		feature.Description = &desc
	}

	if err := s.repo.InsertFeature(ctx, feature); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateFeature
		}
		return nil, err
	}
	return &feature, nil
}

func (s *Service) ListFeatures(ctx context.Context) ([]domain.Feature, error) {
	return s.repo.ListFeatures(ctx)
}

func (s *Service) SetPlanFeature(ctx context.Context, planID snowflake.ID, req domain.SetPlanFeatureRequest) (*domain.PlanFeature, error) {
	if planID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	featureKey := strings.TrimSpace(req.FeatureKey)
	if featureKey == "" {
		return nil, domain.ErrInvalidFeature
	}
	if req.IncludedUnits < domain.UnlimitedUnits {
		return nil, domain.ErrInvalidFeature
	}
	if req.OveragePrice < 0 {
		return nil, domain.ErrInvalidPrice
	}

	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	exists, err := s.repo.FeatureExists(ctx, featureKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrInvalidFeature
	}

	now := time.Now().UTC()
	pf := domain.PlanFeature{
		ID:             s.genID.Generate(),
		PlanID:         planID,
		FeatureKey:     featureKey,
		IncludedUnits:  req.IncludedUnits,
		OveragePrice:   req.OveragePrice,
		WorkspaceCount: req.WorkspaceCount,
		GuestCount:     req.GuestCount,
		MemberSeat:     req.MemberSeat,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.UpsertPlanFeature(ctx, pf); err != nil {
		return nil, err
	}
	return s.repo.GetPlanFeature(ctx, planID, featureKey)
}

func (s *Service) ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]domain.PlanFeature, error) {
	if planID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	return s.repo.ListPlanFeatures(ctx, planID)
}

func (s *Service) UpsertPrice(ctx context.Context, planID snowflake.ID, req domain.UpsertPriceRequest) (*domain.PlanPrice, error) {
	if planID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	providerProductID := strings.TrimSpace(req.ProviderProductID)
	if providerProductID == "" || req.Amount < 0 {
		return nil, domain.ErrInvalidPrice
	}

	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	price := domain.PlanPrice{
		ID:                s.genID.Generate(),
		PlanID:            planID,
		ProviderProductID: providerProductID,
		Amount:            req.Amount,
		Currency:          normalizeCurrency(req.Currency),
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeactivatePrices(ctx, planID); err != nil {
			return err
		}
		return repo.InsertPrice(ctx, price)
	})
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (s *Service) GetActivePrice(ctx context.Context, planID snowflake.ID) (*domain.PlanPrice, error) {
	if planID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	return s.repo.GetActivePrice(ctx, planID)
}

func (s *Service) CreateProductMapping(ctx context.Context, providerProductID string, planID snowflake.ID) (*domain.ProductMapping, error) {
	providerProductID = strings.TrimSpace(providerProductID)
	if providerProductID == "" {
		return nil, domain.ErrInvalidPlan
	}
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	mapping := domain.ProductMapping{
		ID:                s.genID.Generate(),
		ProviderProductID: providerProductID,
		PlanID:            planID,
		CreatedAt:         time.Now().UTC(),
	}
	inserted, err := s.repo.InsertProductMapping(ctx, mapping)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domain.ErrDuplicateMapping
	}
	return &mapping, nil
}

func (s *Service) ResolvePlanByProduct(ctx context.Context, providerProductID string) (*domain.Plan, error) {
	providerProductID = strings.TrimSpace(providerProductID)
	if providerProductID == "" {
		return nil, domain.ErrMappingNotFound
	}
	mapping, err := s.repo.GetProductMapping(ctx, providerProductID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPlan(ctx, mapping.PlanID)
}

func (s *Service) GetActivePlanFeature(ctx context.Context, tenantID snowflake.ID, featureKey string) (*domain.PlanFeature, error) {
	if tenantID == 0 {
		return nil, domain.ErrNoActiveSubscription
	}
	featureKey = strings.TrimSpace(featureKey)
	if featureKey == "" {
		return nil, domain.ErrInvalidFeature
	}

	planID, found, err := s.repo.ActivePlanID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNoActiveSubscription
	}
	return s.repo.GetPlanFeature(ctx, planID, featureKey)
}

func normalizeInterval(interval string) (domain.PlanInterval, error) {
	normalized := domain.PlanInterval(strings.ToLower(strings.TrimSpace(interval)))
	if normalized == "" {
		return domain.IntervalMonthly, nil
	}
	switch normalized {
	case domain.IntervalMonthly, domain.IntervalYearly:
		return normalized, nil
	default:
		return "", domain.ErrInvalidInterval
	}
}

func normalizeCurrency(currency string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))
	if normalized == "" {
		return "USD"
	}
	return normalized
}
