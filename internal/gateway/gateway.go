// Package gateway admits partner traffic: every request is authenticated and
// rate limited, and order creation is additionally checked against the
// partner's zones and metered before it is forwarded.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/observability/metrics"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reversalReason = "order forwarding failed"

var (
	ErrOrderOutsideZone = errors.New("order_outside_zone")
	ErrForwardFailed    = errors.New("forward_failed")
	ErrInvalidLocation  = errors.New("invalid_location")
)

// OutsideZoneError reports the rejected delivery point.
type OutsideZoneError struct {
	Lat float64
	Lng float64
}

func (e *OutsideZoneError) Error() string {
	return fmt.Sprintf("delivery point (%f, %f) is outside every active zone", e.Lat, e.Lng)
}

func (e *OutsideZoneError) Unwrap() error { return ErrOrderOutsideZone }

// Admission is the outcome of a successful AdmitRequest.
type Admission struct {
	Partner  partnercontext.PartnerContext
	Decision ratelimit.Decision
}

type OrderRequest struct {
	Latitude   float64
	Longitude  float64
	DistanceKm *decimal.Decimal
	Payload    []byte
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	AuthSvc   authdomain.Service
	Limiter   *ratelimit.Limiter
	ZoneSvc   geofencedomain.Service
	UsageSvc  usagedomain.Service
	Forwarder orderclient.Forwarder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Gateway struct {
	log       *zap.Logger
	clock     clock.Clock
	authSvc   authdomain.Service
	limiter   *ratelimit.Limiter
	zoneSvc   geofencedomain.Service
	usageSvc  usagedomain.Service
	forwarder orderclient.Forwarder
	metrics   *metrics.Metrics
}

func New(p Params) *Gateway {
	return &Gateway{
		log:       p.Log.Named("gateway"),
		clock:     p.Clock,
		authSvc:   p.AuthSvc,
		limiter:   p.Limiter,
		zoneSvc:   p.ZoneSvc,
		usageSvc:  p.UsageSvc,
		forwarder: p.Forwarder,
		metrics:   p.Metrics,
	}
}

// AdmitRequest authenticates cred and then spends one unit of the partner's
// hourly allowance. Authentication failures never touch the limiter.
func (g *Gateway) AdmitRequest(ctx context.Context, cred authdomain.Credential, endpoint string) (Admission, error) {
	pc, err := g.authSvc.AuthenticatePartner(ctx, cred)
	if err != nil {
		return Admission{}, err
	}

	decision, err := g.limiter.TryAdmit(ctx, pc.PartnerID, pc.APIRateLimit)
	if err != nil {
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			g.metrics.RecordRateLimitDenied(ctx, endpoint, "window_full")
		}
		return Admission{Partner: pc, Decision: decision}, err
	}

	g.metrics.RecordRateLimitAllowed(ctx, endpoint)
	g.metrics.RecordAdmission(ctx, endpoint)
	return Admission{Partner: pc, Decision: decision}, nil
}

// RecordCall meters one api_calls unit for an admitted request.
func (g *Gateway) RecordCall(ctx context.Context, partnerID snowflake.ID) error {
	return g.increment(ctx, partnerID, usagedomain.MetricAPICalls, decimal.NewFromInt(1))
}

// AdmitOrder checks the delivery point against the partner's active zones,
// meters the order and forwards it. Metering is undone when the order
// service does not accept the order.
func (g *Gateway) AdmitOrder(ctx context.Context, pc partnercontext.PartnerContext, req OrderRequest) (orderclient.Response, error) {
	if !validPoint(req.Latitude, req.Longitude) {
		return orderclient.Response{}, ErrInvalidLocation
	}
	if req.DistanceKm != nil && req.DistanceKm.IsNegative() {
		return orderclient.Response{}, ErrInvalidLocation
	}

	admitted, err := g.zoneSvc.IsPointAdmitted(ctx, pc.PartnerID, req.Latitude, req.Longitude)
	if err != nil {
		return orderclient.Response{}, err
	}
	if !admitted {
		g.metrics.RecordZoneRejection(ctx, "order_outside_zone")
		return orderclient.Response{}, &OutsideZoneError{Lat: req.Latitude, Lng: req.Longitude}
	}

	metered := map[usagedomain.Metric]decimal.Decimal{
		usagedomain.MetricOrders: decimal.NewFromInt(1),
	}
	if req.DistanceKm != nil && req.DistanceKm.IsPositive() {
		metered[usagedomain.MetricKm] = *req.DistanceKm
	}
	at := g.clock.Now()
	for _, metric := range []usagedomain.Metric{usagedomain.MetricOrders, usagedomain.MetricKm} {
		amount, ok := metered[metric]
		if !ok {
			continue
		}
		if err := g.incrementAt(ctx, pc.PartnerID, metric, amount, at); err != nil {
			if metric == usagedomain.MetricKm {
				g.reverse(ctx, pc.PartnerID, usagedomain.MetricOrders, metered[usagedomain.MetricOrders], at)
			}
			return orderclient.Response{}, err
		}
	}

	resp, err := g.forwarder.ForwardOrder(ctx, pc.PartnerID, req.Payload)
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		for metric, amount := range metered {
			g.reverse(ctx, pc.PartnerID, metric, amount, at)
		}
		if err != nil {
			g.metrics.RecordForwardFailure(ctx, "orders")
			return orderclient.Response{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
		}
	}
	return resp, nil
}

// RegisterDriver meters the driver and forwards it. As with orders, the
// count is undone when the driver service does not accept the driver.
func (g *Gateway) RegisterDriver(ctx context.Context, pc partnercontext.PartnerContext, payload []byte) (orderclient.Response, error) {
	at := g.clock.Now()
	one := decimal.NewFromInt(1)
	if err := g.incrementAt(ctx, pc.PartnerID, usagedomain.MetricDrivers, one, at); err != nil {
		return orderclient.Response{}, err
	}

	resp, err := g.forwarder.ForwardDriver(ctx, pc.PartnerID, payload)
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		g.reverse(ctx, pc.PartnerID, usagedomain.MetricDrivers, one, at)
		if err != nil {
			g.metrics.RecordForwardFailure(ctx, "drivers")
			return orderclient.Response{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
		}
	}
	return resp, nil
}

func (g *Gateway) increment(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal) error {
	return g.incrementAt(ctx, partnerID, metric, amount, g.clock.Now())
}

func (g *Gateway) incrementAt(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal, at time.Time) error {
	if _, err := g.usageSvc.Increment(ctx, partnerID, metric, amount, at); err != nil {
		return err
	}
	g.metrics.RecordUsageIncrement(ctx, string(metric))
	return nil
}

func (g *Gateway) reverse(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal, at time.Time) {
	if err := g.usageSvc.Reverse(ctx, partnerID, metric, amount, at, reversalReason); err != nil {
		g.log.Error("usage reversal failed",
			zap.String("partner_id", partnerID.String()),
			zap.String("metric", string(metric)),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
	}
}

func validPoint(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
