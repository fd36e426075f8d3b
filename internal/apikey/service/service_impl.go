package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const apiKeySecretBytes = 32

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     apikeydomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     apikeydomain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("apikey.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Generate(ctx context.Context, partnerID snowflake.ID) (*apikeydomain.SecretResponse, error) {
	if partnerID == 0 {
		return nil, apikeydomain.ErrInvalidPartner
	}

	plain, err := generateAPIKey()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	key := &apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		PartnerID: partnerID,
		KeyHash:   apikeydomain.HashAPIKey(plain),
		MaskedKey: apikeydomain.MaskAPIKey(plain),
		CreatedAt: now,
		RotatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.repo.PartnerExists(ctx, tx, partnerID)
		if err != nil {
			return err
		}
		if !exists {
			return apikeydomain.ErrNotFound
		}
		if err := s.repo.Replace(ctx, tx, key); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			Action:     auditdomain.ActionAPIKeyGenerate,
			TargetType: "api_key",
			TargetID:   partnerID.String(),
			Metadata: map[string]any{
				"display_prefix": key.MaskedKey,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("api key generated",
		zap.String("partner_id", partnerID.String()),
		zap.String("masked_api_key", key.MaskedKey),
	)
	return &apikeydomain.SecretResponse{
		APIKey:       plain,
		MaskedAPIKey: key.MaskedKey,
		RotatedAt:    now,
	}, nil
}

func (s *Service) Resolve(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if !apikeydomain.LooksLikeAPIKey(raw) {
		return nil, apikeydomain.ErrInvalidKey
	}
	key, err := s.repo.FindByHash(ctx, s.db, apikeydomain.HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrInvalidKey
	}
	return key, nil
}

func (s *Service) Describe(ctx context.Context, partnerID snowflake.ID) (*apikeydomain.Response, error) {
	if partnerID == 0 {
		return nil, apikeydomain.ErrInvalidPartner
	}
	key, err := s.repo.FindByPartner(ctx, s.db, partnerID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return &apikeydomain.Response{}, nil
	}
	rotatedAt := key.RotatedAt
	return &apikeydomain.Response{
		HasAPIKey:    true,
		MaskedAPIKey: key.MaskedKey,
		RotatedAt:    &rotatedAt,
	}, nil
}

func generateAPIKey() (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return apikeydomain.KeyPrefix + hex.EncodeToString(secret), nil
}
