package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/valkyrie/internal/audit/repository"
	auditservice "github.com/smallbiznis/valkyrie/internal/audit/service"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/dbtest"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	geofencerepo "github.com/smallbiznis/valkyrie/internal/geofence/repository"
	geofenceservice "github.com/smallbiznis/valkyrie/internal/geofence/service"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	usagerepo "github.com/smallbiznis/valkyrie/internal/usage/repository"
	usageservice "github.com/smallbiznis/valkyrie/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const partnerID = snowflake.ID(4001)

const (
	cbdSquare = `{"type":"Polygon","coordinates":[[[36.80,-1.30],[36.85,-1.30],[36.85,-1.25],[36.80,-1.25],[36.80,-1.30]]]}`
	inner     = `{"type":"Polygon","coordinates":[[[36.82,-1.28],[36.83,-1.28],[36.83,-1.27],[36.82,-1.27],[36.82,-1.28]]]}`
)

var now = time.Date(2024, 5, 6, 10, 15, 0, 0, time.UTC)

type stubAuth struct {
	authdomain.Service
	pc  partnercontext.PartnerContext
	err error
}

func (s *stubAuth) AuthenticatePartner(ctx context.Context, cred authdomain.Credential) (partnercontext.PartnerContext, error) {
	return s.pc, s.err
}

type stubForwarder struct {
	resp    orderclient.Response
	err     error
	orders  int
	drivers int
}

func (s *stubForwarder) ForwardOrder(ctx context.Context, partnerID snowflake.ID, payload []byte) (orderclient.Response, error) {
	s.orders++
	return s.resp, s.err
}

func (s *stubForwarder) ForwardDriver(ctx context.Context, partnerID snowflake.ID, payload []byte) (orderclient.Response, error) {
	s.drivers++
	return s.resp, s.err
}

type fixture struct {
	gw        *Gateway
	auth      *stubAuth
	forwarder *stubForwarder
	usage     usagedomain.Service
	zones     geofencedomain.Service
}

func setup(t *testing.T, rateLimit int64) fixture {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedPartner(t, db, int64(partnerID), rateLimit)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	usage := usageservice.New(usageservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: usagerepo.Provide(), AuditSvc: audit,
	})
	zones := geofenceservice.New(geofenceservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: geofencerepo.Provide(), AuditSvc: audit,
	})

	auth := &stubAuth{pc: partnercontext.PartnerContext{
		PartnerID:    partnerID,
		Role:         "admin",
		Credential:   partnercontext.CredentialAPIKey,
		APIRateLimit: rateLimit,
	}}
	forwarder := &stubForwarder{resp: orderclient.Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":"o1"}`)}}

	gw := New(Params{
		Log:       zap.NewNop(),
		Clock:     clk,
		AuthSvc:   auth,
		Limiter:   ratelimit.NewLimiter(ratelimit.NewMemoryStore(clk), clk, zap.NewNop(), 1000),
		ZoneSvc:   zones,
		UsageSvc:  usage,
		Forwarder: forwarder,
	})
	return fixture{gw: gw, auth: auth, forwarder: forwarder, usage: usage, zones: zones}
}

func (f fixture) seedZones(t *testing.T) {
	t.Helper()
	zeus := partnercontext.WithAdmin(context.Background(), partnercontext.AdminContext{AdminID: 1, Role: "super_admin"})
	_, err := f.zones.CreateZone(zeus, geofencedomain.CreateZoneRequest{
		PartnerID: partnerID, Name: "CBD", Source: geofencedomain.SourceZeus, Geometry: json.RawMessage(cbdSquare),
	})
	require.NoError(t, err)
	_, err = f.zones.CreateZone(partnercontext.WithPartner(context.Background(), f.auth.pc), geofencedomain.CreateZoneRequest{
		PartnerID: partnerID, Name: "Inner", Source: geofencedomain.SourcePartner, Geometry: json.RawMessage(inner),
	})
	require.NoError(t, err)
}

func (f fixture) today(t *testing.T, metric usagedomain.Metric) decimal.Decimal {
	t.Helper()
	v, err := f.usage.Read(context.Background(), partnerID, metric, usagedomain.PeriodDaily, now)
	require.NoError(t, err)
	return v
}

func TestAdmitRequestEnforcesRateLimit(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		adm, err := f.gw.AdmitRequest(ctx, authdomain.Credential{APIKey: "k"}, "/zones")
		require.NoError(t, err)
		assert.Equal(t, partnerID, adm.Partner.PartnerID)
		assert.EqualValues(t, 3-i-1, adm.Decision.Remaining)
	}

	_, err := f.gw.AdmitRequest(ctx, authdomain.Credential{APIKey: "k"}, "/zones")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
	var limited *ratelimit.LimitedError
	require.True(t, errors.As(err, &limited))
	assert.EqualValues(t, 45*60, limited.RetryAfterSeconds())
}

func TestAdmitRequestUnauthenticatedSkipsLimiter(t *testing.T) {
	f := setup(t, 1)
	f.auth.err = authdomain.ErrUnauthenticated

	for i := 0; i < 3; i++ {
		_, err := f.gw.AdmitRequest(context.Background(), authdomain.Credential{APIKey: "bad"}, "/zones")
		assert.ErrorIs(t, err, authdomain.ErrUnauthenticated)
	}

	f.auth.err = nil
	_, err := f.gw.AdmitRequest(context.Background(), authdomain.Credential{APIKey: "good"}, "/zones")
	assert.NoError(t, err, "failed authentications do not consume the allowance")
}

func TestAdmitOrderInsideZone(t *testing.T) {
	f := setup(t, 100)
	f.seedZones(t)
	km := decimal.NewFromInt(7)

	resp, err := f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{
		Latitude: -1.275, Longitude: 36.825, DistanceKm: &km, Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, f.forwarder.orders)
	assert.True(t, f.today(t, usagedomain.MetricOrders).Equal(decimal.NewFromInt(1)))
	assert.True(t, f.today(t, usagedomain.MetricKm).Equal(decimal.NewFromInt(7)))
}

func TestAdmitOrderOutsideZone(t *testing.T) {
	f := setup(t, 100)
	f.seedZones(t)

	_, err := f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{
		Latitude: -1.26, Longitude: 36.845, Payload: []byte(`{}`),
	})
	assert.ErrorIs(t, err, ErrOrderOutsideZone)
	var outside *OutsideZoneError
	require.True(t, errors.As(err, &outside))
	assert.InDelta(t, -1.26, outside.Lat, 1e-9)

	assert.Zero(t, f.forwarder.orders)
	assert.True(t, f.today(t, usagedomain.MetricOrders).IsZero())
}

func TestAdmitOrderForwardFailureReversesUsage(t *testing.T) {
	f := setup(t, 100)
	f.seedZones(t)
	f.forwarder.err = orderclient.ErrUpstream
	km := decimal.NewFromInt(3)

	_, err := f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{
		Latitude: -1.275, Longitude: 36.825, DistanceKm: &km, Payload: []byte(`{}`),
	})
	assert.ErrorIs(t, err, ErrForwardFailed)
	assert.True(t, f.today(t, usagedomain.MetricOrders).IsZero())
	assert.True(t, f.today(t, usagedomain.MetricKm).IsZero())
}

func TestAdmitOrderUpstreamRejectionIsRelayed(t *testing.T) {
	f := setup(t, 100)
	f.seedZones(t)
	f.forwarder.resp = orderclient.Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"items required"}`)}

	resp, err := f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{
		Latitude: -1.275, Longitude: 36.825, Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, f.today(t, usagedomain.MetricOrders).IsZero(), "rejected orders are not billed")
}

func TestAdmitOrderInvalidLocation(t *testing.T) {
	f := setup(t, 100)
	_, err := f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{Latitude: 91, Longitude: 0})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	negative := decimal.NewFromInt(-1)
	_, err = f.gw.AdmitOrder(context.Background(), f.auth.pc, OrderRequest{Latitude: 0, Longitude: 0, DistanceKm: &negative})
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestRecordCallAndDrivers(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()

	require.NoError(t, f.gw.RecordCall(ctx, partnerID))
	require.NoError(t, f.gw.RecordCall(ctx, partnerID))
	assert.True(t, f.today(t, usagedomain.MetricAPICalls).Equal(decimal.NewFromInt(2)))

	_, err := f.gw.RegisterDriver(ctx, f.auth.pc, []byte(`{"name":"Wanjiru"}`))
	require.NoError(t, err)
	assert.True(t, f.today(t, usagedomain.MetricDrivers).Equal(decimal.NewFromInt(1)))

	f.forwarder.resp = orderclient.Response{StatusCode: http.StatusConflict}
	_, err = f.gw.RegisterDriver(ctx, f.auth.pc, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, f.today(t, usagedomain.MetricDrivers).Equal(decimal.NewFromInt(1)))
}

type failingUsage struct {
	usagedomain.Service
	err error
}

func (f *failingUsage) Increment(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal, at time.Time) (usagedomain.Totals, error) {
	return usagedomain.Totals{}, f.err
}

func TestRegisterDriverMeteringFailureIsReturned(t *testing.T) {
	f := setup(t, 100)
	dbDown := errors.New("connection refused")
	f.gw.usageSvc = &failingUsage{err: dbDown}

	_, err := f.gw.RegisterDriver(context.Background(), f.auth.pc, []byte(`{"name":"Otieno"}`))
	assert.ErrorIs(t, err, dbDown)
	assert.Zero(t, f.forwarder.drivers, "unmetered drivers are not forwarded")
}

func TestRegisterDriverForwardFailureReversesUsage(t *testing.T) {
	f := setup(t, 100)
	f.forwarder.err = orderclient.ErrUpstream

	_, err := f.gw.RegisterDriver(context.Background(), f.auth.pc, []byte(`{}`))
	assert.ErrorIs(t, err, ErrForwardFailed)
	assert.Equal(t, 1, f.forwarder.drivers)
	assert.True(t, f.today(t, usagedomain.MetricDrivers).IsZero())
}
