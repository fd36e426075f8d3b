package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsPartnerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := partnercontext.WithRequestID(context.Background(), "req-7")
	ctx = partnercontext.WithPartner(ctx, partnercontext.PartnerContext{
		PartnerID:  42,
		Role:       "admin",
		Credential: partnercontext.CredentialAPIKey,
	})
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "42", fields["partner_id"])
	assert.Equal(t, partnercontext.ActorAPIKey, fields["actor_type"])
	assert.Equal(t, "", fields["trace_id"])
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var seen string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/zones", func(c *gin.Context) {
		seen = partnercontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/zones", nil)
	req.Header.Set("X-Request-Id", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/zones", entries[0].ContextMap()["route"])
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("  select * from zones"))
	assert.Equal(t, "INSERT", operationFromSQL("INSERT INTO usage_counters (partner_id) VALUES (?)"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestTableFromSQL(t *testing.T) {
	assert.Equal(t, "geofences", tableFromSQL(`SELECT * FROM "geofences" WHERE partner_id = $1`))
	assert.Equal(t, "usage_records", tableFromSQL("INSERT INTO usage_records (id) VALUES ($1)"))
	assert.Equal(t, "invoices", tableFromSQL("UPDATE invoices SET status = $1"))
	assert.Equal(t, "", tableFromSQL("SELECT 1"))
}

func TestGormTraceHidesStatementBelowInfo(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	l.nowFn = func() time.Time { return time.Unix(10, 0) }

	l.Trace(context.Background(), time.Unix(9, 0), func() (string, int64) {
		return "SELECT * FROM invoices", 3
	}, nil)

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "invoices", entries[0].ContextMap()["table"])
	assert.Equal(t, "SELECT * FROM invoices", entries[0].ContextMap()["sql"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusOK, ""))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/api/valkyrie/v1/orders", http.StatusTooManyRequests, "rate_limited"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/api/valkyrie/v1/zones", http.StatusBadRequest, "validation_error"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/valkyrie/v1/orders", http.StatusConflict, "order_outside_zone"))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/api/zeus/v1/invoices/close", http.StatusInternalServerError, "internal_error"))
}
