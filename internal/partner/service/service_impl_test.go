package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/valkyrie/internal/audit/repository"
	auditservice "github.com/smallbiznis/valkyrie/internal/audit/service"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/dbtest"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/partner/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupPartnerService(t *testing.T) (partnerdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   config.Config{DefaultAPIRateLimit: 500},
		Pricing:  config.NewStaticPricingHolder(config.DefaultPricingConfig()),
		Repo:     repository.Provide(),
		AuditSvc: audit,
	})
	return svc, db
}

func TestCreatePartnerDefaults(t *testing.T) {
	svc, _ := setupPartnerService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, partnerdomain.CreateRequest{Name: "  Swift Couriers Ltd "})
	require.NoError(t, err)
	assert.Equal(t, "Swift Couriers Ltd", p.Name)
	assert.Equal(t, "swift-couriers-ltd", p.Slug)
	assert.Equal(t, partnerdomain.StatusActive, p.Status)
	assert.Equal(t, int64(500), p.APIRateLimit)
	assert.Equal(t, "standard", p.BillingPlan)
	assert.True(t, p.ZeusManaged)

	_, err = svc.Create(ctx, partnerdomain.CreateRequest{Name: "Swift Couriers LTD"})
	assert.ErrorIs(t, err, partnerdomain.ErrDuplicateName)

	_, err = svc.Create(ctx, partnerdomain.CreateRequest{Name: "Other", BillingPlan: "platinum"})
	assert.ErrorIs(t, err, partnerdomain.ErrInvalidPlan)

	negative := int64(-1)
	_, err = svc.Create(ctx, partnerdomain.CreateRequest{Name: "Neg", APIRateLimit: &negative})
	assert.ErrorIs(t, err, partnerdomain.ErrInvalidRateLimit)
}

func TestUpdateAndStatus(t *testing.T) {
	svc, db := setupPartnerService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, partnerdomain.CreateRequest{Name: "Boda Express"})
	require.NoError(t, err)

	limit := int64(20)
	updated, err := svc.Update(ctx, p.ID, partnerdomain.UpdateRequest{APIRateLimit: &limit})
	require.NoError(t, err)
	assert.Equal(t, int64(20), updated.APIRateLimit)

	restricted, err := svc.SetStatus(ctx, p.ID, "Restricted")
	require.NoError(t, err)
	assert.Equal(t, partnerdomain.StatusRestricted, restricted.Status)

	_, err = svc.SetStatus(ctx, p.ID, "frozen")
	assert.ErrorIs(t, err, partnerdomain.ErrInvalidStatus)

	_, err = svc.SetStatus(ctx, 12345, partnerdomain.StatusActive)
	assert.ErrorIs(t, err, partnerdomain.ErrNotFound)

	var audits int64
	require.NoError(t, db.Table("audit_logs").Where("target_id = ?", p.ID.String()).Count(&audits).Error)
	assert.Equal(t, int64(3), audits)

	active, err := svc.List(ctx, "restricted")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDeleteCascades(t *testing.T) {
	svc, db := setupPartnerService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, partnerdomain.CreateRequest{Name: "Cascade Co"})
	require.NoError(t, err)
	require.NoError(t, db.Exec(
		`INSERT INTO geofences (id, partner_id, name, source, active, geometry, version, created_at, updated_at)
		 VALUES (1, ?, 'zone', 'zeus', 1, '{}', 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, p.ID,
	).Error)

	require.NoError(t, svc.Delete(ctx, p.ID))

	var zones int64
	require.NoError(t, db.Table("geofences").Where("partner_id = ?", p.ID).Count(&zones).Error)
	assert.Zero(t, zones)

	assert.ErrorIs(t, svc.Delete(ctx, p.ID), partnerdomain.ErrNotFound)
	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, partnerdomain.ErrNotFound)
}
