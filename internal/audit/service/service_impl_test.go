package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/freshfold/freshfold/internal/audit/domain"
	"github.com/freshfold/freshfold/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAudit(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC))

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}), fake
}

func TestAuditLog_WriteAndFilter(t *testing.T) {
	svc, _ := setupAudit(t)
	ctx := context.Background()

	target := "12345"
	require.NoError(t, svc.AuditLog(ctx, "invoice.void", "invoice", &target, map[string]any{"reason": "test"}))
	require.NoError(t, svc.AuditLog(ctx, "invoice.issue_ack", "invoice", &target, nil))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "invoice.void"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "invoice.void", resp.AuditLogs[0].Action)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{TargetType: "invoice"})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)
}

func TestAuditLog_Validation(t *testing.T) {
	svc, fake := setupAudit(t)
	ctx := context.Background()

	err := svc.AuditLog(ctx, "", "invoice", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	start := fake.Now()
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
