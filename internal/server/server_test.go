package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/authorization"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/gateway"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdmitter struct {
	partner   partnercontext.PartnerContext
	admitErr  error
	orderResp orderclient.Response
	orderErr  error
	lastOrder gateway.OrderRequest
	admits    int
	calls     int
}

func (f *fakeAdmitter) AdmitRequest(ctx context.Context, cred authdomain.Credential, endpoint string) (gateway.Admission, error) {
	f.admits++
	decision := ratelimit.Decision{Allowed: true, Limit: 100, Count: 1, Remaining: 99}
	if f.admitErr != nil {
		decision = ratelimit.Decision{Limit: 100, Count: 100}
		return gateway.Admission{Decision: decision}, f.admitErr
	}
	return gateway.Admission{Partner: f.partner, Decision: decision}, nil
}

func (f *fakeAdmitter) RecordCall(ctx context.Context, partnerID snowflake.ID) error {
	f.calls++
	return nil
}

func (f *fakeAdmitter) AdmitOrder(ctx context.Context, pc partnercontext.PartnerContext, req gateway.OrderRequest) (orderclient.Response, error) {
	f.lastOrder = req
	return f.orderResp, f.orderErr
}

func (f *fakeAdmitter) RegisterDriver(ctx context.Context, pc partnercontext.PartnerContext, payload []byte) (orderclient.Response, error) {
	return f.orderResp, f.orderErr
}

type fakeZoneService struct {
	geofencedomain.Service
	createErr  error
	lastCreate geofencedomain.CreateZoneRequest
}

func (f *fakeZoneService) CreateZone(ctx context.Context, req geofencedomain.CreateZoneRequest) (*geofencedomain.Geofence, error) {
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &geofencedomain.Geofence{ID: 77, PartnerID: req.PartnerID, Name: req.Name, Source: req.Source}, nil
}

type fakeAuthService struct {
	authdomain.Service
}

func (f *fakeAuthService) AuthenticateZeus(ctx context.Context, rawToken string) (partnercontext.AdminContext, error) {
	if rawToken != "zeus-token" {
		return partnercontext.AdminContext{}, authdomain.ErrUnauthenticated
	}
	return partnercontext.AdminContext{AdminID: 1, Role: "super_admin"}, nil
}

type fakeBillingService struct {
	billingdomain.Service
	closed map[string]bool
}

func (f *fakeBillingService) ClosePeriod(ctx context.Context, partnerID snowflake.ID, period string) (*billingdomain.Invoice, bool, error) {
	if f.closed == nil {
		f.closed = map[string]bool{}
	}
	key := partnerID.String() + "/" + period
	created := !f.closed[key]
	f.closed[key] = true
	return &billingdomain.Invoice{ID: 9, PartnerID: partnerID, Period: period, Status: billingdomain.StatusDraft}, created, nil
}

func newTestServer(t *testing.T, admitter *fakeAdmitter) (*Server, *fakeZoneService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registerValidators()

	enforcer, err := authorization.NewEnforcer(nil)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	zones := &fakeZoneService{}
	srv := &Server{
		engine:     engine,
		log:        zap.NewNop(),
		authsvc:    &fakeAuthService{},
		authzSvc:   authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		zoneSvc:    zones,
		billingSvc: &fakeBillingService{},
		gateway:    admitter,
	}
	srv.registerPartnerRoutes()
	srv.registerZeusRoutes()
	srv.registerFallback()
	return srv, zones
}

func adminPartner() partnercontext.PartnerContext {
	return partnercontext.PartnerContext{PartnerID: 42, Role: "admin", Credential: partnercontext.CredentialAPIKey, APIRateLimit: 100}
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

var apiKeyHeader = map[string]string{HeaderAPIKey: "vk_live_test"}

func TestPartnerRouteWithoutCredentialIsUnauthenticated(t *testing.T) {
	admitter := &fakeAdmitter{partner: adminPartner()}
	srv, _ := newTestServer(t, admitter)

	resp := doRequest(srv, http.MethodGet, partnerAPIPrefix+"/zones", "", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, resp)["type"])
	assert.Zero(t, admitter.admits)
	assert.Zero(t, admitter.calls)
}

func TestRateLimitedCallSetsRetryAfter(t *testing.T) {
	admitter := &fakeAdmitter{admitErr: &ratelimit.LimitedError{RetryAfter: 90*time.Second + time.Millisecond, Limit: 100}}
	srv, _ := newTestServer(t, admitter)

	resp := doRequest(srv, http.MethodGet, partnerAPIPrefix+"/zones", "", apiKeyHeader)

	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "91", resp.Header().Get("Retry-After"))
	assert.Equal(t, "100", resp.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "0", resp.Header().Get(HeaderRateLimitRemaining))
	errBody := decodeError(t, resp)
	assert.Equal(t, "rate_limited", errBody["type"])
	assert.Zero(t, admitter.calls)
}

func TestReadOnlyPartnerCannotCreateZone(t *testing.T) {
	pc := adminPartner()
	pc.ReadOnly = true
	admitter := &fakeAdmitter{partner: pc}
	srv, zones := newTestServer(t, admitter)

	resp := doRequest(srv, http.MethodPost, partnerAPIPrefix+"/zones",
		`{"name":"north","geometry":{"type":"Polygon","coordinates":[]}}`, apiKeyHeader)

	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Empty(t, zones.lastCreate.Name)
	// business rejections still count as api calls
	assert.Equal(t, 1, admitter.calls)
}

func TestCreateZoneOutOfBoundsCarriesGeometry(t *testing.T) {
	admitter := &fakeAdmitter{partner: adminPartner()}
	srv, zones := newTestServer(t, admitter)
	geometry := `{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,10]]]}`
	zones.createErr = &geofencedomain.OutOfBoundsError{Geometry: json.RawMessage(geometry)}

	resp := doRequest(srv, http.MethodPost, partnerAPIPrefix+"/zones",
		`{"name":"far","geometry":`+geometry+`}`, apiKeyHeader)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	errBody := decodeError(t, resp)
	assert.Equal(t, "geometry_out_of_bounds", errBody["type"])
	details, ok := errBody["details"].(map[string]any)
	require.True(t, ok)
	got, err := json.Marshal(details["geometry"])
	require.NoError(t, err)
	assert.JSONEq(t, geometry, string(got))

	assert.Equal(t, geofencedomain.SourcePartner, zones.lastCreate.Source)
	assert.Equal(t, snowflake.ID(42), zones.lastCreate.PartnerID)
}

func TestCreateOrderOutsideZone(t *testing.T) {
	admitter := &fakeAdmitter{
		partner:  adminPartner(),
		orderErr: &gateway.OutsideZoneError{Lat: -1.5, Lng: 36.8},
	}
	srv, _ := newTestServer(t, admitter)

	resp := doRequest(srv, http.MethodPost, partnerAPIPrefix+"/orders",
		`{"latitude":-1.5,"longitude":36.8}`, apiKeyHeader)

	require.Equal(t, http.StatusConflict, resp.Code)
	errBody := decodeError(t, resp)
	assert.Equal(t, "order_outside_zone", errBody["type"])
	assert.Zero(t, admitter.calls)
}

func TestCreateOrderRelaysUpstreamResponse(t *testing.T) {
	admitter := &fakeAdmitter{
		partner: adminPartner(),
		orderResp: orderclient.Response{
			StatusCode:  http.StatusCreated,
			ContentType: "application/json",
			Body:        []byte(`{"orderId":"ord_1"}`),
		},
	}
	srv, _ := newTestServer(t, admitter)
	body := `{"latitude":-1.29,"longitude":36.82,"distanceKm":"12.5","items":[{"sku":"a"}]}`

	resp := doRequest(srv, http.MethodPost, partnerAPIPrefix+"/orders", body, apiKeyHeader)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.JSONEq(t, `{"orderId":"ord_1"}`, resp.Body.String())
	assert.Equal(t, -1.29, admitter.lastOrder.Latitude)
	require.NotNil(t, admitter.lastOrder.DistanceKm)
	assert.Equal(t, "12.5", admitter.lastOrder.DistanceKm.String())
	assert.JSONEq(t, body, string(admitter.lastOrder.Payload))
	assert.Zero(t, admitter.calls)
}

func TestCreateOrderRequiresCoordinates(t *testing.T) {
	admitter := &fakeAdmitter{partner: adminPartner()}
	srv, _ := newTestServer(t, admitter)

	resp := doRequest(srv, http.MethodPost, partnerAPIPrefix+"/orders", `{"longitude":36.8}`, apiKeyHeader)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	errBody := decodeError(t, resp)
	assert.Equal(t, "validation_error", errBody["type"])
	fields, ok := errBody["errors"].([]any)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "latitude", fields[0].(map[string]any)["field"])
}

func TestZeusRoutesRejectUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmitter{})

	resp := doRequest(srv, http.MethodGet, zeusAPIPrefix+"/partners", "", map[string]string{"Authorization": "Bearer partner-token"})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestClosePeriodIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmitter{})
	auth := map[string]string{"Authorization": "Bearer zeus-token"}
	body := `{"partnerId":"42","period":"2024-05"}`

	first := doRequest(srv, http.MethodPost, zeusAPIPrefix+"/invoices/close", body, auth)
	second := doRequest(srv, http.MethodPost, zeusAPIPrefix+"/invoices/close", body, auth)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
}

func TestClosePeriodRejectsBadMonth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmitter{})

	resp := doRequest(srv, http.MethodPost, zeusAPIPrefix+"/invoices/close",
		`{"partnerId":"42","period":"2024-13"}`, map[string]string{"Authorization": "Bearer zeus-token"})

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation_error", decodeError(t, resp)["type"])
}

func TestZeusCreateZoneDefaultsToZeusSource(t *testing.T) {
	srv, zones := newTestServer(t, &fakeAdmitter{})

	resp := doRequest(srv, http.MethodPost, zeusAPIPrefix+"/partners/42/geofences",
		`{"name":"nairobi","geometry":{"type":"Polygon","coordinates":[]}}`,
		map[string]string{"Authorization": "Bearer zeus-token"})

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, geofencedomain.SourceZeus, zones.lastCreate.Source)
	require.NotNil(t, zones.lastCreate.CreatedBy)
	assert.Equal(t, snowflake.ID(1), *zones.lastCreate.CreatedBy)
}

func TestUnknownRouteAndBadIDReturnNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmitter{partner: adminPartner()})

	resp := doRequest(srv, http.MethodGet, "/api/valkyrie/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doRequest(srv, http.MethodDelete, partnerAPIPrefix+"/zones/not-an-id", "", apiKeyHeader)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
