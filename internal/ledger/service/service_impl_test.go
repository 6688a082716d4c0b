package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
)

type auditStub struct{}

func (auditStub) AuditLog(context.Context, *snowflake.ID, string, *string, string, string, *string, map[string]any) error {
	return nil
}

func (auditStub) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func openLedgerDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA busy_timeout = 5000")

	if err := db.Exec(`CREATE TABLE tenant_credit_ledgers (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		source TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		reference_type TEXT,
		reference_id TEXT,
		metadata TEXT,
		expires_at DATETIME,
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_credit_ledger_tenant_key
		ON tenant_credit_ledgers (tenant_id, idempotency_key)`).Error; err != nil {
		t.Fatal(err)
	}
	return db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func newLedgerService(db *gorm.DB, node *snowflake.Node, clk clock.Clock) ledgerdomain.Service {
	return NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditStub{},
	})
}

func TestAddCredits_Idempotent(t *testing.T) {
	db := openLedgerDB(t, "ledger_idempotent")
	node := mustNode(t)
	svc := newLedgerService(db, node, clock.NewFakeClock(time.Now().UTC()))

	tenantID := node.Generate()
	req := ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          500,
		Reason:         "payment",
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: "pay_123",
	}

	first, err := svc.AddCredits(context.Background(), req)
	assert.NoError(t, err)
	assert.NotNil(t, first)
	assert.Equal(t, int64(500), first.Delta)

	// Replays must return the stored entry even when the delta differs.
	req.Delta = 999
	second, err := svc.AddCredits(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(500), second.Delta)

	var count int64
	db.Raw(`SELECT COUNT(1) FROM tenant_credit_ledgers WHERE tenant_id = ?`, tenantID).Scan(&count)
	assert.Equal(t, int64(1), count)
}

func TestAddCredits_ConcurrentSameKey(t *testing.T) {
	db := openLedgerDB(t, "ledger_concurrent")
	node := mustNode(t)
	svc := newLedgerService(db, node, clock.NewFakeClock(time.Now().UTC()))

	tenantID := node.Generate()

	const workers = 3
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	ids := make(chan snowflake.ID, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
				TenantID:       tenantID,
				Delta:          100,
				Reason:         "promo",
				Source:         ledgerdomain.SourcePromo,
				IdempotencyKey: "promo_1",
			})
			if err != nil {
				errs <- err
				return
			}
			ids <- entry.ID
		}()
	}
	wg.Wait()
	close(errs)
	close(ids)

	for err := range errs {
		t.Fatalf("concurrent AddCredits failed: %v", err)
	}

	seen := map[snowflake.ID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	var count int64
	db.Raw(`SELECT COUNT(1) FROM tenant_credit_ledgers WHERE tenant_id = ?`, tenantID).Scan(&count)
	assert.Equal(t, int64(1), count)
}

func TestBalance_ExcludesExpired(t *testing.T) {
	db := openLedgerDB(t, "ledger_balance")
	node := mustNode(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc := newLedgerService(db, node, clk)

	tenantID := node.Generate()
	futureExpiry := now.Add(24 * time.Hour)

	_, err := svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          500,
		Reason:         "payment",
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: "k1",
	})
	assert.NoError(t, err)

	_, err = svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          200,
		Reason:         "promo",
		Source:         ledgerdomain.SourcePromo,
		IdempotencyKey: "k2",
		ExpiresAt:      &futureExpiry,
	})
	assert.NoError(t, err)

	_, err = svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          -100,
		Reason:         "adjustment",
		Source:         ledgerdomain.SourceAdmin,
		IdempotencyKey: "k3",
	})
	assert.NoError(t, err)

	balance, err := svc.Balance(context.Background(), tenantID)
	assert.NoError(t, err)
	assert.Equal(t, int64(600), balance)

	// After the expiry passes the promo grant no longer counts. A fresh
	// service avoids the short balance cache entirely.
	clk.Advance(48 * time.Hour)
	svc2 := newLedgerService(db, node, clk)
	balance, err = svc2.Balance(context.Background(), tenantID)
	assert.NoError(t, err)
	assert.Equal(t, int64(400), balance)
}

func TestAddCredits_Validation(t *testing.T) {
	db := openLedgerDB(t, "ledger_validation")
	node := mustNode(t)
	svc := newLedgerService(db, node, clock.NewFakeClock(time.Now().UTC()))

	tenantID := node.Generate()

	_, err := svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          0,
		Reason:         "payment",
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDelta)

	_, err = svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          10,
		Reason:         "",
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReason)

	_, err = svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID:       tenantID,
		Delta:          10,
		Reason:         "payment",
		Source:         "unknown",
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSource)

	_, err = svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID: tenantID,
		Delta:    10,
		Reason:   "payment",
		Source:   ledgerdomain.SourceBilling,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotencyKey)
}

func TestListEntries_NewestFirst(t *testing.T) {
	db := openLedgerDB(t, "ledger_list")
	node := mustNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newLedgerService(db, node, clk)

	tenantID := node.Generate()
	for i, key := range []string{"a", "b", "c"} {
		_, err := svc.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
			TenantID:       tenantID,
			Delta:          int64(i + 1),
			Reason:         "payment",
			Source:         ledgerdomain.SourceBilling,
			IdempotencyKey: key,
		})
		assert.NoError(t, err)
		clk.Advance(time.Minute)
	}

	entries, err := svc.ListEntries(context.Background(), tenantID, 10)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[0].Delta)
	assert.Equal(t, int64(1), entries[2].Delta)
}
