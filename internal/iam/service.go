package iam

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

const (
	ObjectUsage          = "usage"
	ObjectEntitlement    = "entitlement"
	ObjectCredits        = "credits"
	ObjectPlan           = "plan"
	ObjectFeature        = "feature"
	ObjectPrice          = "price"
	ObjectProductMapping = "product_mapping"
	ObjectInvoice        = "invoice"
	ObjectSubscription   = "subscription"
	ObjectMember         = "member"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionUsageIngest = "usage.ingest"
	ActionUsageView   = "usage.view"

	ActionEntitlementCheck = "entitlement.check"

	ActionCreditsView  = "credits.view"
	ActionCreditsGrant = "credits.grant"

	ActionPlanView   = "plan.view"
	ActionPlanManage = "plan.manage"

	ActionFeatureManage = "feature.manage"
	ActionPriceManage   = "price.manage"
	ActionMappingManage = "product_mapping.manage"

	ActionInvoiceView      = "invoice.view"
	ActionSubscriptionView = "subscription.view"

	ActionMemberManage = "member.manage"

	ActionAuditLogView = "audit_log.view"
)

// Service answers whether an actor may perform an action inside a tenant.
// Actors are "user:<id>", "system", or "api_key:<id>"; the role backing a
// user actor comes from tenant_members.
type Service interface {
	Authorize(ctx context.Context, actor string, tenantID snowflake.ID, object, action string) error
	HasPermission(ctx context.Context, principal tenantcontext.Principal, object, action string) bool
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
