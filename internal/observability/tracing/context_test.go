package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/valkyrie/v1/orders"),
		attribute.String("x_api_key", "vk_live_secret"),
		attribute.String("Authorization", "Bearer x"),
		attribute.Int("http.status_code", 200),
	)
	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, string(attr.Key))
	}
	assert.Equal(t, []string{"http.route", "http.status_code"}, keys)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	wrapped := fmt.Errorf("insert invoice: %w", errors.New("duplicate key value (partner_id)=(7)"))
	assert.EqualError(t, SafeError(wrapped), "insert invoice")
	assert.EqualError(t, SafeError(errors.New("plain")), "plain")
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 0.25, clampRatio(0.25))
	assert.Equal(t, 1.0, clampRatio(3))
}
