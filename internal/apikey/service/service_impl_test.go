package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	"github.com/smallbiznis/valkyrie/internal/apikey/repository"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	auditrepo "github.com/smallbiznis/valkyrie/internal/audit/repository"
	auditservice "github.com/smallbiznis/valkyrie/internal/audit/service"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const partnerID = snowflake.ID(3001)

func setupAPIKeyService(t *testing.T) (apikeydomain.Service, auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedPartner(t, db, int64(partnerID), 100)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
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

func TestGenerateReturnsSecretOnce(t *testing.T) {
	svc, _, db := setupAPIKeyService(t)
	ctx := context.Background()

	secret, err := svc.Generate(ctx, partnerID)
	require.NoError(t, err)
	assert.True(t, apikeydomain.LooksLikeAPIKey(secret.APIKey))
	assert.True(t, strings.HasPrefix(secret.MaskedAPIKey, secret.APIKey[:8]))
	assert.NotContains(t, secret.MaskedAPIKey, secret.APIKey[8:])

	var stored []string
	require.NoError(t, db.Raw(`SELECT key_hash FROM partner_api_keys`).Scan(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, apikeydomain.HashAPIKey(secret.APIKey), stored[0])

	desc, err := svc.Describe(ctx, partnerID)
	require.NoError(t, err)
	assert.True(t, desc.HasAPIKey)
	assert.Equal(t, secret.MaskedAPIKey, desc.MaskedAPIKey)
}

func TestGenerateInvalidatesPreviousKey(t *testing.T) {
	svc, _, db := setupAPIKeyService(t)
	ctx := context.Background()

	first, err := svc.Generate(ctx, partnerID)
	require.NoError(t, err)
	second, err := svc.Generate(ctx, partnerID)
	require.NoError(t, err)
	assert.NotEqual(t, first.APIKey, second.APIKey)

	_, err = svc.Resolve(ctx, first.APIKey)
	assert.True(t, errors.Is(err, apikeydomain.ErrInvalidKey))

	key, err := svc.Resolve(ctx, second.APIKey)
	require.NoError(t, err)
	assert.Equal(t, partnerID, key.PartnerID)

	var count int64
	require.NoError(t, db.Table("partner_api_keys").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGenerateAudited(t *testing.T) {
	svc, audit, _ := setupAPIKeyService(t)
	ctx := context.Background()

	secret, err := svc.Generate(ctx, partnerID)
	require.NoError(t, err)

	id := partnerID
	logs, err := audit.List(ctx, auditdomain.ListFilter{PartnerID: &id, Action: auditdomain.ActionAPIKeyGenerate})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	for _, v := range logs[0].Metadata {
		assert.NotContains(t, v, secret.APIKey)
	}
}

func TestGenerateUnknownPartner(t *testing.T) {
	svc, _, _ := setupAPIKeyService(t)

	_, err := svc.Generate(context.Background(), 999)
	assert.True(t, errors.Is(err, apikeydomain.ErrNotFound))

	_, err = svc.Generate(context.Background(), 0)
	assert.True(t, errors.Is(err, apikeydomain.ErrInvalidPartner))
}

func TestResolveRejectsMalformed(t *testing.T) {
	svc, _, _ := setupAPIKeyService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "vlk_short", "sk_" + strings.Repeat("a", 64), "vlk_" + strings.Repeat("z", 64)} {
		_, err := svc.Resolve(ctx, raw)
		assert.True(t, errors.Is(err, apikeydomain.ErrInvalidKey), raw)
	}

	_, err := svc.Resolve(ctx, "vlk_"+strings.Repeat("a", 64))
	assert.True(t, errors.Is(err, apikeydomain.ErrInvalidKey))
}

func TestDescribeWithoutKey(t *testing.T) {
	svc, _, _ := setupAPIKeyService(t)

	desc, err := svc.Describe(context.Background(), partnerID)
	require.NoError(t, err)
	assert.False(t, desc.HasAPIKey)
	assert.Empty(t, desc.MaskedAPIKey)
}
