package iam

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

func openIAMDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA busy_timeout = 5000")

	require.NoError(t, db.Exec(`CREATE TABLE tenant_members (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`).Error)
	return db
}

func newIAMService(t *testing.T, db *gorm.DB) *ServiceImpl {
	t.Helper()
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})
	return svc.(*ServiceImpl)
}

func addMember(t *testing.T, db *gorm.DB, tenantID, userID snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO tenant_members (tenant_id, user_id, role) VALUES (?, ?, ?)`,
		tenantID, userID, role,
	).Error)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func TestAuthorize_RolePermissions(t *testing.T) {
	db := openIAMDB(t, "iam_roles")
	svc := newIAMService(t, db)
	node := mustNode(t)

	tenantID := node.Generate()
	member := node.Generate()
	admin := node.Generate()
	addMember(t, db, tenantID, member, "member")
	addMember(t, db, tenantID, admin, "admin")

	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, "user:"+member.String(), tenantID, ObjectUsage, ActionUsageIngest))
	assert.NoError(t, svc.Authorize(ctx, "user:"+member.String(), tenantID, ObjectCredits, ActionCreditsView))
	assert.ErrorIs(t, svc.Authorize(ctx, "user:"+member.String(), tenantID, ObjectCredits, ActionCreditsGrant), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:"+member.String(), tenantID, ObjectPlan, ActionPlanManage), ErrForbidden)

	assert.NoError(t, svc.Authorize(ctx, "user:"+admin.String(), tenantID, ObjectCredits, ActionCreditsGrant))
	assert.NoError(t, svc.Authorize(ctx, "user:"+admin.String(), tenantID, ObjectPlan, ActionPlanManage))
}

func TestAuthorize_SystemActor(t *testing.T) {
	db := openIAMDB(t, "iam_system")
	svc := newIAMService(t, db)
	node := mustNode(t)
	tenantID := node.Generate()

	assert.NoError(t, svc.Authorize(context.Background(), "system", tenantID, ObjectCredits, ActionCreditsGrant))
	assert.NoError(t, svc.Authorize(context.Background(), "system", tenantID, ObjectPlan, ActionPlanManage))
}

func TestAuthorize_NonMemberForbidden(t *testing.T) {
	db := openIAMDB(t, "iam_nonmember")
	svc := newIAMService(t, db)
	node := mustNode(t)

	err := svc.Authorize(context.Background(), "user:"+node.Generate().String(), node.Generate(), ObjectUsage, ActionUsageView)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorize_InvalidInputs(t *testing.T) {
	db := openIAMDB(t, "iam_invalid")
	svc := newIAMService(t, db)
	node := mustNode(t)
	tenantID := node.Generate()

	ctx := context.Background()
	assert.ErrorIs(t, svc.Authorize(ctx, "", tenantID, ObjectUsage, ActionUsageView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "robot:1", tenantID, ObjectUsage, ActionUsageView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:abc", tenantID, ObjectUsage, ActionUsageView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", 0, ObjectUsage, ActionUsageView), ErrInvalidTenant)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", tenantID, "", ActionUsageView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", tenantID, ObjectUsage, ""), ErrInvalidAction)
}

func TestAuthorize_RoleChangeAfterInvalidation(t *testing.T) {
	db := openIAMDB(t, "iam_rolechange")
	svc := newIAMService(t, db)
	node := mustNode(t)

	tenantID := node.Generate()
	userID := node.Generate()
	addMember(t, db, tenantID, userID, "admin")

	ctx := context.Background()
	actor := "user:" + userID.String()
	assert.NoError(t, svc.Authorize(ctx, actor, tenantID, ObjectCredits, ActionCreditsGrant))

	// Demote; the cached role still grants until invalidated.
	require.NoError(t, db.Exec(
		`UPDATE tenant_members SET role = 'member' WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID,
	).Error)
	assert.NoError(t, svc.Authorize(ctx, actor, tenantID, ObjectCredits, ActionCreditsGrant))

	svc.InvalidateRole(tenantID, userID)
	assert.ErrorIs(t, svc.Authorize(ctx, actor, tenantID, ObjectCredits, ActionCreditsGrant), ErrForbidden)
}

func TestHasPermission(t *testing.T) {
	db := openIAMDB(t, "iam_hasperm")
	svc := newIAMService(t, db)
	node := mustNode(t)

	tenantID := node.Generate()
	userID := node.Generate()
	addMember(t, db, tenantID, userID, "member")

	principal := tenantcontext.Principal{UserID: userID, TenantID: tenantID}
	assert.True(t, svc.HasPermission(context.Background(), principal, ObjectUsage, ActionUsageIngest))
	assert.False(t, svc.HasPermission(context.Background(), principal, ObjectCredits, ActionCreditsGrant))
	assert.False(t, svc.HasPermission(context.Background(), tenantcontext.Principal{}, ObjectUsage, ActionUsageView))
}
