package orderclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(orderURL string) *Client {
	return New(config.Config{
		OrderServiceURL: orderURL,
		ForwardSecret:   "s3cret",
		ForwardTimeout:  2 * time.Second,
	}, zap.NewNop())
}

func TestForwardOrderSignsPayload(t *testing.T) {
	var (
		gotSig     string
		gotPartner string
		gotReqID   string
		gotBody    []byte
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		gotSig = r.Header.Get(HeaderSignature)
		gotPartner = r.Header.Get(HeaderPartner)
		gotReqID = r.Header.Get(HeaderRequestID)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))
	defer upstream.Close()

	payload := []byte(`{"pickup":{"lat":-1.28,"lng":36.82}}`)
	ctx := partnercontext.WithRequestID(context.Background(), "req-123")
	resp, err := newClient(upstream.URL).ForwardOrder(ctx, snowflake.ID(77), payload)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"ord_1"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, "77", gotPartner)
	assert.Equal(t, "req-123", gotReqID)
	assert.Equal(t, payload, gotBody)
	assert.True(t, Verify([]byte("s3cret"), payload, gotSig))
	assert.False(t, Verify([]byte("other"), payload, gotSig))
}

func TestForwardRelaysClientErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad address"}`))
	}))
	defer upstream.Close()

	resp, err := newClient(upstream.URL).ForwardOrder(context.Background(), snowflake.ID(1), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestForwardUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL).ForwardOrder(context.Background(), snowflake.ID(1), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUpstream)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	_, err = newClient(url).ForwardOrder(context.Background(), snowflake.ID(1), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestForwardDriverNotConfigured(t *testing.T) {
	_, err := newClient("http://orders.local").ForwardDriver(context.Background(), snowflake.ID(1), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConfigured)
}
