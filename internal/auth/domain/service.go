package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
)

type Service interface {
	InviteUser(ctx context.Context, req InviteRequest) (*InviteResult, error)
	ListUsers(ctx context.Context, partnerID snowflake.ID) ([]PartnerUser, error)
	SetupPassword(ctx context.Context, req SetupPasswordRequest) (*PartnerUser, error)

	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	LoginWithAPIKey(ctx context.Context, apiKey string) (*LoginResult, error)
	LoginZeus(ctx context.Context, req LoginRequest) (*AdminLoginResult, error)
	Logout(ctx context.Context, rawToken string) error

	// AuthenticatePartner resolves an API key or partner session token.
	AuthenticatePartner(ctx context.Context, cred Credential) (partnercontext.PartnerContext, error)
	AuthenticateZeus(ctx context.Context, rawToken string) (partnercontext.AdminContext, error)

	// EnsureZeusAdmin creates the admin when the email is not yet taken.
	EnsureZeusAdmin(ctx context.Context, req CreateAdminRequest) (*ZeusAdmin, error)
}

// Credential is what a caller presented; at most one field is used.
type Credential struct {
	APIKey string
	Bearer string
}

type InviteRequest struct {
	PartnerID snowflake.ID
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

type InviteResult struct {
	User        *PartnerUser `json:"user"`
	InviteToken string       `json:"inviteToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

type SetupPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string                 `json:"token"`
	ExpiresAt time.Time              `json:"expiresAt"`
	Partner   *partnerdomain.Partner `json:"partner"`
	User      *PartnerUser           `json:"user"`
}

type AdminLoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Admin     *ZeusAdmin `json:"admin"`
}

type CreateAdminRequest struct {
	Email    string
	Name     string
	Password string
	Role     string
}
