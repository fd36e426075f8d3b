//go:build integration

package migration_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/valkyrie/internal/audit/repository"
	auditservice "github.com/smallbiznis/valkyrie/internal/audit/service"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	billingrepo "github.com/smallbiznis/valkyrie/internal/billing/repository"
	billingservice "github.com/smallbiznis/valkyrie/internal/billing/service"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/migration"
	partnerrepo "github.com/smallbiznis/valkyrie/internal/partner/repository"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	usagerepo "github.com/smallbiznis/valkyrie/internal/usage/repository"
	usageservice "github.com/smallbiznis/valkyrie/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	if exec.Command("docker", "info").Run() != nil {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("valkyrie_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("connection string: %v", err)
	}

	testDB, err = gorm.Open(gormpostgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("open database: %v", err)
	}
	sqlDB, err := testDB.DB()
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)

	if err := migration.RunMigrations(sqlDB); err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("run migrations: %v", err)
	}

	code := m.Run()

	_ = sqlDB.Close()
	_ = pgContainer.Terminate(ctx)
	os.Exit(code)
}

type services struct {
	usage   usagedomain.Service
	billing billingdomain.Service
}

func newServices(t *testing.T, now time.Time, nodeID int64) services {
	t.Helper()
	node, err := snowflake.NewNode(nodeID)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)

	audit := auditservice.NewService(auditservice.Params{
		DB: testDB, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	usage := usageservice.New(usageservice.Params{
		DB: testDB, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: usagerepo.Provide(), AuditSvc: audit,
	})
	billing := billingservice.New(billingservice.Params{
		DB:          testDB,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        billingrepo.Provide(),
		PartnerRepo: partnerrepo.Provide(),
		UsageSvc:    usage,
		Pricing:     billingservice.NewPlanPricing(config.NewStaticPricingHolder(config.DefaultPricingConfig())),
		AuditSvc:    audit,
	})
	return services{usage: usage, billing: billing}
}

func seedPartner(t *testing.T, id snowflake.ID) {
	t.Helper()
	require.NoError(t, testDB.Exec(
		`INSERT INTO partners (id, name, slug, status, api_rate_limit, zeus_managed, billing_plan)
		 VALUES (?, ?, ?, 'active', 100, TRUE, 'standard')`,
		int64(id), fmt.Sprintf("Partner %d", id), fmt.Sprintf("partner-%d", id),
	).Error)
}

func TestVersionAfterMigrations(t *testing.T) {
	sqlDB, err := testDB.DB()
	require.NoError(t, err)

	version, dirty, err := migration.Version(sqlDB)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	const partnerID = snowflake.ID(91001)
	seedPartner(t, partnerID)
	at := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
	svc := newServices(t, at, 11)

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := svc.usage.Increment(context.Background(), partnerID, usagedomain.MetricOrders, decimal.NewFromInt(1), at); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	daily, err := svc.usage.Read(context.Background(), partnerID, usagedomain.MetricOrders, usagedomain.PeriodDaily, at)
	require.NoError(t, err)
	monthly, err := svc.usage.Read(context.Background(), partnerID, usagedomain.MetricOrders, usagedomain.PeriodMonthly, at)
	require.NoError(t, err)
	assert.True(t, daily.Equal(decimal.NewFromInt(workers*perWorker)), "daily=%s", daily)
	assert.True(t, monthly.Equal(decimal.NewFromInt(workers*perWorker)), "monthly=%s", monthly)
}

func TestConcurrentClosePeriodCreatesOneInvoice(t *testing.T) {
	const partnerID = snowflake.ID(91002)
	seedPartner(t, partnerID)
	svc := newServices(t, time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC), 12)

	_, err := svc.usage.Increment(context.Background(), partnerID, usagedomain.MetricOrders, decimal.NewFromInt(40), time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[snowflake.ID]struct{}{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, isNew, err := svc.billing.ClosePeriod(context.Background(), partnerID, "2024-06")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[inv.ID] = struct{}{}
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	var count int64
	require.NoError(t, testDB.Raw(`SELECT COUNT(*) FROM invoices WHERE partner_id = ? AND period = ?`, int64(partnerID), "2024-06").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}
