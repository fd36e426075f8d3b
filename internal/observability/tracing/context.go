package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExtractContext continues an inbound trace carried in carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

var unsafeKeys = []string{"api_key", "authorization", "password", "token", "secret"}

// SafeAttributes drops attributes whose key names a credential.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isUnsafeKey(string(attr.Key)) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

func isUnsafeKey(key string) bool {
	key = strings.ToLower(key)
	for _, unsafe := range unsafeKeys {
		if strings.Contains(key, unsafe) {
			return true
		}
	}
	return false
}

// SafeError keeps only the outermost message of err.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.Index(msg, ":"); idx > 0 {
		msg = msg[:idx]
	}
	return errors.New(strings.TrimSpace(msg))
}

type requestIDProcessor struct{}

func (requestIDProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if id := partnercontext.RequestIDFromContext(ctx); id != "" {
		s.SetAttributes(attribute.String("request_id", id))
	}
	if pc, ok := partnercontext.PartnerFromContext(ctx); ok {
		s.SetAttributes(attribute.String("partner_id", pc.PartnerID.String()))
	}
}

func (requestIDProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (requestIDProcessor) Shutdown(context.Context) error { return nil }

func (requestIDProcessor) ForceFlush(context.Context) error { return nil }
