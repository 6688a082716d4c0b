// Package tenantcontext carries the authenticated principal through request
// contexts. Authentication itself happens upstream; this core only consumes
// the resulting identity. Tenant scoping always comes from here, never from
// request bodies.
package tenantcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Principal is the already-authenticated caller identity.
type Principal struct {
	UserID   snowflake.ID
	TenantID snowflake.ID
}

type principalKey struct{}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal from context, if set.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithTenantID stores a tenant-only principal, used by background jobs and
// webhook processing where no user is present.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return WithPrincipal(ctx, Principal{TenantID: tenantID})
}

// TenantIDFromContext returns the active tenant ID from context, if set.
func TenantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.TenantID == 0 {
		return 0, false
	}
	return p.TenantID, true
}

// ParseID parses a snowflake ID from its string form.
func ParseID(value string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
