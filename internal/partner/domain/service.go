package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Partner) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	List(ctx context.Context, db *gorm.DB, status Status) ([]Partner, error)
	Update(ctx context.Context, db *gorm.DB, p *Partner) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Partner, error)
	List(ctx context.Context, status string) ([]Partner, error)
	Get(ctx context.Context, id snowflake.ID) (*Partner, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Partner, error)
	SetStatus(ctx context.Context, id snowflake.ID, status Status) (*Partner, error)
	Delete(ctx context.Context, id snowflake.ID) error
}

type CreateRequest struct {
	Name         string  `json:"name"`
	APIRateLimit *int64  `json:"api_rate_limit"`
	BillingPlan  string  `json:"billing_plan"`
	ContactEmail *string `json:"contact_email"`
	ZeusManaged  *bool   `json:"zeus_managed"`
}

type UpdateRequest struct {
	Name         *string `json:"name"`
	APIRateLimit *int64  `json:"api_rate_limit"`
	BillingPlan  *string `json:"billing_plan"`
	ContactEmail *string `json:"contact_email"`
	ZeusManaged  *bool   `json:"zeus_managed"`
}

var (
	ErrNotFound         = errors.New("partner_not_found")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidRateLimit = errors.New("invalid_api_rate_limit")
	ErrDuplicateName    = errors.New("duplicate_partner")
	ErrInvalidPlan      = errors.New("invalid_billing_plan")
)
