package orderclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	HeaderSignature = "X-Valkyrie-Signature"
	HeaderPartner   = "X-Valkyrie-Partner"
	HeaderRequestID = "X-Request-Id"

	maxResponseBytes = 1 << 20
)

var (
	ErrNotConfigured = errors.New("forward_target_not_configured")
	ErrUpstream      = errors.New("upstream_unavailable")
)

// Response is the upstream reply relayed back to the partner.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forwarder delivers admitted requests to the external order and driver
// services.
type Forwarder interface {
	ForwardOrder(ctx context.Context, partnerID snowflake.ID, payload []byte) (Response, error)
	ForwardDriver(ctx context.Context, partnerID snowflake.ID, payload []byte) (Response, error)
}

type Client struct {
	orderURL  string
	driverURL string
	secret    []byte
	http      *http.Client
	log       *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		orderURL:  cfg.OrderServiceURL,
		driverURL: cfg.DriverServiceURL,
		secret:    []byte(cfg.ForwardSecret),
		http: &http.Client{
			Timeout: cfg.ForwardTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.Named("orderclient"),
	}
}

func (c *Client) ForwardOrder(ctx context.Context, partnerID snowflake.ID, payload []byte) (Response, error) {
	return c.post(ctx, c.orderURL, "/orders", partnerID, payload)
}

func (c *Client) ForwardDriver(ctx context.Context, partnerID snowflake.ID, payload []byte) (Response, error) {
	return c.post(ctx, c.driverURL, "/drivers", partnerID, payload)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func (c *Client) post(ctx context.Context, base, path string, partnerID snowflake.ID, payload []byte) (Response, error) {
	if base == "" {
		return Response{}, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderPartner, partnerID.String())
	req.Header.Set(HeaderRequestID, requestID(ctx))
	if len(c.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(c.secret, payload))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("forward failed",
			zap.String("path", path),
			zap.String("partner_id", partnerID.String()),
			zap.Error(err),
		)
		return Response{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	c.log.Debug("forwarded",
		zap.String("path", path),
		zap.String("partner_id", partnerID.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return out, nil
}

func requestID(ctx context.Context) string {
	if v := partnercontext.RequestIDFromContext(ctx); v != "" {
		return v
	}
	return uuid.NewString()
}
