package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	auditrepo "github.com/smallbiznis/valkyrie/internal/audit/repository"
	auditservice "github.com/smallbiznis/valkyrie/internal/audit/service"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/dbtest"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"github.com/smallbiznis/valkyrie/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const partnerID = snowflake.ID(2001)

var now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func setupUsageService(t *testing.T) (usagedomain.Service, auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedPartner(t, db, int64(partnerID), 100)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		AuditSvc: audit,
	})
	return svc, audit, db
}

func zeusCtx() context.Context {
	return partnercontext.WithAdmin(context.Background(), partnercontext.AdminContext{AdminID: 7, Role: "super_admin"})
}

func TestIncrementUpdatesDailyAndMonthly(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	totals, err := svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(1), now)
	require.NoError(t, err)
	assert.True(t, totals.Daily.Equal(decimal.NewFromInt(1)))
	assert.True(t, totals.Monthly.Equal(decimal.NewFromInt(1)))

	nextDay := now.Add(24 * time.Hour)
	totals, err = svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(2), nextDay)
	require.NoError(t, err)
	assert.True(t, totals.Daily.Equal(decimal.NewFromInt(2)), "new day starts a new daily bucket")
	assert.True(t, totals.Monthly.Equal(decimal.NewFromInt(3)))

	daily, err := svc.Read(ctx, partnerID, usagedomain.MetricOrders, usagedomain.PeriodDaily, now)
	require.NoError(t, err)
	assert.True(t, daily.Equal(decimal.NewFromInt(1)))

	monthly, err := svc.Read(ctx, partnerID, usagedomain.MetricOrders, usagedomain.PeriodMonthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, monthly.Equal(decimal.NewFromInt(3)))
}

func TestIncrementBucketsAreUTC(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	// 01:00 in Nairobi on April 1st is still March 31st in UTC.
	nairobi := time.FixedZone("EAT", 3*60*60)
	at := time.Date(2024, 4, 1, 1, 0, 0, 0, nairobi)
	_, err := svc.Increment(ctx, partnerID, usagedomain.MetricKm, decimal.NewFromFloat(2.5), at)
	require.NoError(t, err)

	march, err := svc.Read(ctx, partnerID, usagedomain.MetricKm, usagedomain.PeriodMonthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, march.Equal(decimal.NewFromFloat(2.5)))

	april, err := svc.Read(ctx, partnerID, usagedomain.MetricKm, usagedomain.PeriodMonthly, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, april.IsZero())
}

func TestIncrementConcurrent(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Increment(ctx, partnerID, usagedomain.MetricAPICalls, decimal.NewFromInt(1), now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	daily, err := svc.Read(ctx, partnerID, usagedomain.MetricAPICalls, usagedomain.PeriodDaily, now)
	require.NoError(t, err)
	assert.Equal(t, int64(n), daily.IntPart())

	monthly, err := svc.Read(ctx, partnerID, usagedomain.MetricAPICalls, usagedomain.PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, int64(n), monthly.IntPart())
}

func TestIncrementValidation(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	_, err := svc.Increment(ctx, partnerID, usagedomain.Metric("parcels"), decimal.NewFromInt(1), now)
	assert.True(t, errors.Is(err, usagedomain.ErrInvalidMetric))

	_, err = svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(-1), now)
	assert.True(t, errors.Is(err, usagedomain.ErrInvalidAmount))

	_, err = svc.Increment(ctx, 0, usagedomain.MetricOrders, decimal.NewFromInt(1), now)
	assert.True(t, errors.Is(err, usagedomain.ErrInvalidPartner))
}

func TestReadMissingBucketIsZero(t *testing.T) {
	svc, _, _ := setupUsageService(t)

	v, err := svc.Read(context.Background(), partnerID, usagedomain.MetricDrivers, usagedomain.PeriodDaily, now)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestReadRange(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	for day := 0; day < 3; day++ {
		at := now.AddDate(0, 0, day)
		_, err := svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(int64(day+1)), at)
		require.NoError(t, err)
	}

	values, err := svc.ReadRange(ctx, partnerID, usagedomain.MetricOrders, usagedomain.PeriodDaily, now, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), values[0].PeriodDate)
	assert.True(t, values[1].Value.Equal(decimal.NewFromInt(2)))

	_, err = svc.ReadRange(ctx, partnerID, usagedomain.MetricOrders, usagedomain.PeriodDaily, now, now.AddDate(0, 0, -1))
	assert.True(t, errors.Is(err, usagedomain.ErrInvalidRange))
}

func TestSummaryTotals(t *testing.T) {
	svc, _, _ := setupUsageService(t)
	ctx := context.Background()

	_, err := svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(4), now)
	require.NoError(t, err)
	_, err = svc.Increment(ctx, partnerID, usagedomain.MetricKm, decimal.NewFromInt(12), now)
	require.NoError(t, err)
	_, err = svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(1), now.AddDate(0, 0, 1))
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, usagedomain.SummaryRequest{
		PartnerID: partnerID,
		Period:    usagedomain.PeriodDaily,
		From:      now,
		To:        now.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	assert.True(t, summary.Totals[usagedomain.MetricOrders].Equal(decimal.NewFromInt(5)))
	assert.True(t, summary.Totals[usagedomain.MetricKm].Equal(decimal.NewFromInt(12)))
	assert.True(t, summary.Totals[usagedomain.MetricDrivers].IsZero())
	assert.Len(t, summary.Breakdown, 3)
}

func TestCorrectAdjustsBucketAndAudits(t *testing.T) {
	svc, audit, _ := setupUsageService(t)
	ctx := zeusCtx()

	_, err := svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(10), now)
	require.NoError(t, err)

	result, err := svc.Correct(ctx, usagedomain.CorrectionRequest{
		PartnerID:  partnerID,
		Metric:     usagedomain.MetricOrders,
		Period:     usagedomain.PeriodMonthly,
		PeriodDate: now,
		Delta:      decimal.NewFromInt(-3),
		Reason:     "duplicate submissions",
	})
	require.NoError(t, err)
	assert.True(t, result.Value.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, "zeus_admin:7", result.Correction.Actor)

	logs, err := audit.List(context.Background(), auditdomain.ListFilter{PartnerID: ptr(partnerID), Action: auditdomain.ActionUsageCorrect})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "-3", logs[0].Metadata["delta"])
}

func TestCorrectRejectsNegativeResult(t *testing.T) {
	svc, _, db := setupUsageService(t)
	ctx := zeusCtx()

	_, err := svc.Increment(ctx, partnerID, usagedomain.MetricOrders, decimal.NewFromInt(2), now)
	require.NoError(t, err)

	_, err = svc.Correct(ctx, usagedomain.CorrectionRequest{
		PartnerID:  partnerID,
		Metric:     usagedomain.MetricOrders,
		Period:     usagedomain.PeriodDaily,
		PeriodDate: now,
		Delta:      decimal.NewFromInt(-5),
		Reason:     "refund",
	})
	assert.True(t, errors.Is(err, usagedomain.ErrNegativeBalance))

	v, err := svc.Read(ctx, partnerID, usagedomain.MetricOrders, usagedomain.PeriodDaily, now)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(2)))

	var corrections int64
	require.NoError(t, db.Table("usage_corrections").Count(&corrections).Error)
	assert.Zero(t, corrections)
}

func TestCorrectRequiresReason(t *testing.T) {
	svc, _, _ := setupUsageService(t)

	_, err := svc.Correct(zeusCtx(), usagedomain.CorrectionRequest{
		PartnerID:  partnerID,
		Metric:     usagedomain.MetricOrders,
		Period:     usagedomain.PeriodDaily,
		PeriodDate: now,
		Delta:      decimal.NewFromInt(1),
		Reason:     "   ",
	})
	assert.True(t, errors.Is(err, usagedomain.ErrInvalidReason))
}

func TestReverseUndoesIncrement(t *testing.T) {
	svc, _, db := setupUsageService(t)
	ctx := context.Background()

	_, err := svc.Increment(ctx, partnerID, usagedomain.MetricKm, decimal.NewFromInt(8), now)
	require.NoError(t, err)
	_, err = svc.Increment(ctx, partnerID, usagedomain.MetricKm, decimal.NewFromInt(3), now)
	require.NoError(t, err)

	require.NoError(t, svc.Reverse(ctx, partnerID, usagedomain.MetricKm, decimal.NewFromInt(3), now, "forward_failed"))

	totals, err := svc.MonthTotals(ctx, partnerID, now)
	require.NoError(t, err)
	assert.True(t, totals[usagedomain.MetricKm].Equal(decimal.NewFromInt(8)))
	assert.True(t, totals[usagedomain.MetricOrders].IsZero())

	var corrections int64
	require.NoError(t, db.Table("usage_corrections").Where("reason = ?", "forward_failed").Count(&corrections).Error)
	assert.Equal(t, int64(2), corrections)
}

func TestReverseWithoutUsageFails(t *testing.T) {
	svc, _, _ := setupUsageService(t)

	err := svc.Reverse(context.Background(), partnerID, usagedomain.MetricOrders, decimal.NewFromInt(1), now, "forward_failed")
	assert.True(t, errors.Is(err, usagedomain.ErrNegativeBalance))
}

func ptr(id snowflake.ID) *snowflake.ID { return &id }
