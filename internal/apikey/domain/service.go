package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Replace stores key as the partner's only key, overwriting any previous one.
	Replace(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	FindByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (*APIKey, error)
	PartnerExists(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error)
}

type Service interface {
	// Generate issues a new key for partnerID and invalidates the previous one.
	// The plain key is only ever returned here.
	Generate(ctx context.Context, partnerID snowflake.ID) (*SecretResponse, error)
	// Resolve maps a presented key to its record. Unknown keys return ErrInvalidKey.
	Resolve(ctx context.Context, raw string) (*APIKey, error)
	Describe(ctx context.Context, partnerID snowflake.ID) (*Response, error)
}

type SecretResponse struct {
	APIKey       string    `json:"apiKey"`
	MaskedAPIKey string    `json:"maskedApiKey"`
	RotatedAt    time.Time `json:"rotatedAt"`
}

type Response struct {
	HasAPIKey    bool       `json:"hasApiKey"`
	MaskedAPIKey string     `json:"maskedApiKey,omitempty"`
	RotatedAt    *time.Time `json:"rotatedAt,omitempty"`
}

var (
	ErrInvalidPartner = errors.New("invalid_partner")
	ErrInvalidKey     = errors.New("invalid_api_key")
	ErrNotFound       = errors.New("not_found")
)
