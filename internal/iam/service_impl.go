package iam

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/cache"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/stratus/internal/tenant/domain"
	"github.com/smallbiznis/stratus/internal/tenantcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// roleCacheTTL bounds how long a revoked role keeps working when the
// explicit invalidation path is missed (a second instance, a crashed bus).
const roleCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Enforcer   *casbin.SyncedEnforcer
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type ServiceImpl struct {
	db         *gorm.DB
	log        *zap.Logger
	enforcer   *casbin.SyncedEnforcer
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	roles      cache.Cache[string, string]
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:         p.DB,
		log:        p.Log.Named("iam.service"),
		enforcer:   p.Enforcer,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		roles:      cache.NewTTLCache[string, string](),
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, tenantID snowflake.ID, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if tenantID == 0 {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, tenantID)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return err
	}

	domain := fmt.Sprintf("tenant:%s", tenantID.String())
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) HasPermission(ctx context.Context, principal tenantcontext.Principal, object, action string) bool {
	if principal.TenantID == 0 {
		return false
	}
	actor := "system"
	if principal.UserID != 0 {
		actor = "user:" + principal.UserID.String()
	}
	return s.Authorize(ctx, actor, principal.TenantID, object, action) == nil
}

// InvalidateRole drops the cached role for a member so the next authorize
// re-reads tenant_members.
func (s *ServiceImpl) InvalidateRole(tenantID, userID snowflake.ID) {
	s.roles.Delete(roleCacheKey(tenantID, userID))
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, tenantID snowflake.ID) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, "role:system", string(auditdomain.ActorTypeSystem), nil, nil
	}
	if raw, ok := strings.CutPrefix(actor, "api_key:"); ok {
		apiKeyID, err := snowflake.ParseString(raw)
		if err != nil || apiKeyID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		apiKeyIDStr := apiKeyID.String()
		return actor, "role:system", "api_key", &apiKeyIDStr, nil
	}
	if raw, ok := strings.CutPrefix(actor, "user:"); ok {
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		userIDStr := userID.String()
		role, err := s.roleForMember(ctx, tenantID, userID)
		if err != nil {
			return actor, "", "user", &userIDStr, err
		}
		return actor, "role:" + strings.ToLower(role), "user", &userIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForMember(ctx context.Context, tenantID, userID snowflake.ID) (string, error) {
	key := roleCacheKey(tenantID, userID)
	if role, ok := s.roles.Get(key); ok {
		s.observeCache("hit")
		return role, nil
	}
	s.observeCache("miss")

	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM tenant_members
		 WHERE tenant_id = ? AND user_id = ?
		 LIMIT 1`,
		tenantID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	s.roles.Set(key, role, roleCacheTTL)
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, tenantID snowflake.ID, object, action string) {
	if s.auditSvc == nil || tenantID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &tenantID, actorType, actorID, "iam.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	})
}

func (s *ServiceImpl) observeCache(result string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.PermissionCacheHits.WithLabelValues(result).Inc()
}

func roleCacheKey(tenantID, userID snowflake.ID) string {
	return tenantID.String() + "|" + userID.String()
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	memberRole := "role:" + string(tenantdomain.RoleMember)
	adminRole := "role:" + string(tenantdomain.RoleAdmin)
	ownerRole := "role:" + string(tenantdomain.RoleOwner)

	policies := [][]string{
		{memberRole, ObjectUsage, ActionUsageIngest},
		{memberRole, ObjectUsage, ActionUsageView},
		{memberRole, ObjectEntitlement, ActionEntitlementCheck},
		{memberRole, ObjectCredits, ActionCreditsView},
		{memberRole, ObjectPlan, ActionPlanView},
		{memberRole, ObjectInvoice, ActionInvoiceView},
		{memberRole, ObjectSubscription, ActionSubscriptionView},

		{adminRole, ObjectUsage, ActionUsageIngest},
		{adminRole, ObjectUsage, ActionUsageView},
		{adminRole, ObjectEntitlement, ActionEntitlementCheck},
		{adminRole, ObjectCredits, ActionCreditsView},
		{adminRole, ObjectCredits, ActionCreditsGrant},
		{adminRole, ObjectPlan, ActionPlanView},
		{adminRole, ObjectPlan, ActionPlanManage},
		{adminRole, ObjectFeature, ActionFeatureManage},
		{adminRole, ObjectPrice, ActionPriceManage},
		{adminRole, ObjectProductMapping, ActionMappingManage},
		{adminRole, ObjectInvoice, ActionInvoiceView},
		{adminRole, ObjectSubscription, ActionSubscriptionView},
		{adminRole, ObjectMember, ActionMemberManage},
		{adminRole, ObjectAuditLog, ActionAuditLogView},

		{ownerRole, ObjectUsage, ActionUsageIngest},
		{ownerRole, ObjectUsage, ActionUsageView},
		{ownerRole, ObjectEntitlement, ActionEntitlementCheck},
		{ownerRole, ObjectCredits, ActionCreditsView},
		{ownerRole, ObjectCredits, ActionCreditsGrant},
		{ownerRole, ObjectPlan, ActionPlanView},
		{ownerRole, ObjectPlan, ActionPlanManage},
		{ownerRole, ObjectFeature, ActionFeatureManage},
		{ownerRole, ObjectPrice, ActionPriceManage},
		{ownerRole, ObjectProductMapping, ActionMappingManage},
		{ownerRole, ObjectInvoice, ActionInvoiceView},
		{ownerRole, ObjectSubscription, ActionSubscriptionView},
		{ownerRole, ObjectMember, ActionMemberManage},
		{ownerRole, ObjectAuditLog, ActionAuditLogView},

		{"role:system", ObjectUsage, ActionUsageIngest},
		{"role:system", ObjectUsage, ActionUsageView},
		{"role:system", ObjectEntitlement, ActionEntitlementCheck},
		{"role:system", ObjectCredits, ActionCreditsView},
		{"role:system", ObjectCredits, ActionCreditsGrant},
		{"role:system", ObjectPlan, ActionPlanView},
		{"role:system", ObjectPlan, ActionPlanManage},
		{"role:system", ObjectFeature, ActionFeatureManage},
		{"role:system", ObjectPrice, ActionPriceManage},
		{"role:system", ObjectProductMapping, ActionMappingManage},
		{"role:system", ObjectInvoice, ActionInvoiceView},
		{"role:system", ObjectSubscription, ActionSubscriptionView},
		{"role:system", ObjectMember, ActionMemberManage},
		{"role:system", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
